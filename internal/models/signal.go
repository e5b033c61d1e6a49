package models

import (
	"errors"
	"time"
)

// Direction is the side of a crossing or the polarity of an extremum.
type Direction int

const (
	Down Direction = iota
	Up
)

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// SignalKind classifies detector output.
type SignalKind string

const (
	KindCrossing SignalKind = "crossing"
	KindPeak     SignalKind = "peak"
	KindTrough   SignalKind = "trough"
	KindOutlier  SignalKind = "outlier"
)

// Signal is an event emitted by the engine for one series.
type Signal struct {
	ID        string
	Series    string
	Source    string
	Kind      SignalKind
	Direction Direction
	Time      time.Time
	Value     float64
	CreatedAt time.Time
	Notified  bool
}

// Validate checks signal field constraints.
func (s *Signal) Validate() error {
	if s.Series == "" {
		return errors.New("series must not be empty")
	}
	if s.Source == "" {
		return errors.New("source must not be empty")
	}
	switch s.Kind {
	case KindCrossing, KindPeak, KindTrough, KindOutlier:
	default:
		return errors.New("unknown signal kind")
	}
	if !IsFinite(s.Value) {
		return errors.New("value must be finite")
	}
	return nil
}
