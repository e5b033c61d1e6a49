package models

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestBarValidate(t *testing.T) {
	tests := []struct {
		name    string
		bar     Bar
		wantErr bool
	}{
		{
			name:    "valid bar",
			bar:     Bar{Time: time.Now(), Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
			wantErr: false,
		},
		{
			name:    "flat bar",
			bar:     Bar{High: 10, Low: 10, Close: 10},
			wantErr: false,
		},
		{
			name:    "high below low",
			bar:     Bar{High: 9, Low: 10, Close: 9.5},
			wantErr: true,
		},
		{
			name:    "NaN close",
			bar:     Bar{High: 10, Low: 9, Close: math.NaN()},
			wantErr: true,
		},
		{
			name:    "infinite volume",
			bar:     Bar{High: 10, Low: 9, Close: 9.5, Volume: math.Inf(1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bar.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Bar.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidValue) {
				t.Errorf("expected ErrInvalidValue, got %v", err)
			}
		})
	}
}

func TestNewSample(t *testing.T) {
	if _, err := NewSample(time.Now(), math.NaN()); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue for NaN, got %v", err)
	}
	if _, err := NewSample(time.Now(), math.Inf(-1)); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue for -Inf, got %v", err)
	}
	s, err := NewSample(NoTime, 1.5)
	if err != nil {
		t.Fatalf("NewSample: %v", err)
	}
	if s.Val() != 1.5 || !s.Stamp().IsZero() {
		t.Errorf("unexpected sample %+v", s)
	}
}

func TestCheckOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		last    time.Time
		next    time.Time
		wantErr bool
	}{
		{"strictly after", base, base.Add(time.Second), false},
		{"equal", base, base, true},
		{"before", base, base.Add(-time.Second), true},
		{"last is sentinel", NoTime, base, false},
		{"next is sentinel", base, NoTime, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckOrder(tt.last, tt.next)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckOrder() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTime) {
				t.Errorf("expected ErrInvalidTime, got %v", err)
			}
		})
	}
}

func TestSignalValidate(t *testing.T) {
	valid := Signal{Series: "BTC", Source: "sma", Kind: KindCrossing, Value: 1}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid signal rejected: %v", err)
	}

	noSeries := valid
	noSeries.Series = ""
	if err := noSeries.Validate(); err == nil {
		t.Error("expected error for empty series")
	}

	badKind := valid
	badKind.Kind = "other"
	if err := badKind.Validate(); err == nil {
		t.Error("expected error for unknown kind")
	}

	if Up.String() != "up" || Down.String() != "down" {
		t.Errorf("unexpected direction strings %q %q", Up, Down)
	}
}

func TestSeriesStateValidate(t *testing.T) {
	tests := []struct {
		name    string
		state   SeriesState
		wantErr bool
	}{
		{"valid", SeriesState{Series: "btc", Bars: 10, Outliers: 2, LastClose: 1}, false},
		{"empty series", SeriesState{Bars: 1}, true},
		{"negative bars", SeriesState{Series: "btc", Bars: -1}, true},
		{"outliers above bars", SeriesState{Series: "btc", Bars: 1, Outliers: 2}, true},
		{"nan close", SeriesState{Series: "btc", LastClose: math.NaN()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
