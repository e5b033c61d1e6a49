package models

import (
	"errors"
	"time"
)

// SeriesState is the checkpointed progress of one series.
type SeriesState struct {
	Series string

	Bars     int
	Outliers int
	Signals  int

	LastTime  time.Time
	LastClose float64

	UpdatedAt time.Time
}

// Validate checks series state field constraints.
func (s *SeriesState) Validate() error {
	if s.Series == "" {
		return errors.New("series must not be empty")
	}
	if s.Bars < 0 || s.Outliers < 0 || s.Signals < 0 {
		return errors.New("counters must not be negative")
	}
	if s.Outliers > s.Bars {
		return errors.New("outliers must not exceed bars")
	}
	if !IsFinite(s.LastClose) {
		return errors.New("last close must be finite")
	}
	return nil
}

// SignalGroup collects the signals of one bar for notification.
type SignalGroup struct {
	Series  string
	Time    time.Time
	Signals []Signal
}
