// Package models defines the core domain entities: samples, bars, and the signals
// emitted by detectors.
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidValue reports a NaN or infinite observation, or a bar whose high is below its low.
	ErrInvalidValue = errors.New("invalid value")
	// ErrInvalidTime reports an observation stamped before (or at) the last accepted one.
	ErrInvalidTime = errors.New("invalid time")
	// ErrInvalidConfig reports a detector constructed with unusable parameters.
	ErrInvalidConfig = errors.New("invalid config")
)

// NoTime disables ordering checks for synthetic or index-driven series.
var NoTime = time.Time{}

// Sample is an immutable timestamped observation.
type Sample struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// NewSample builds a sample, rejecting non-finite values.
func NewSample(t time.Time, v float64) (Sample, error) {
	if !IsFinite(v) {
		return Sample{}, fmt.Errorf("%w: %v", ErrInvalidValue, v)
	}
	return Sample{Time: t, Value: v}, nil
}

func (s Sample) Stamp() time.Time { return s.Time }
func (s Sample) Val() float64     { return s.Value }

// Bar is one OHLCV observation consumed by crossing and extrema detectors.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate checks bar field constraints. Open and Volume may be zero but must be finite.
func (b *Bar) Validate() error {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if !IsFinite(v) {
			return fmt.Errorf("%w: non-finite field %v", ErrInvalidValue, v)
		}
	}
	if b.High < b.Low {
		return fmt.Errorf("%w: high %v below low %v", ErrInvalidValue, b.High, b.Low)
	}
	return nil
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// CheckOrder returns ErrInvalidTime when next is not strictly after last.
// Either stamp being NoTime disables the check.
func CheckOrder(last, next time.Time) error {
	if last.IsZero() || next.IsZero() {
		return nil
	}
	if !next.After(last) {
		return fmt.Errorf("%w: %s not after %s", ErrInvalidTime, next.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
	}
	return nil
}
