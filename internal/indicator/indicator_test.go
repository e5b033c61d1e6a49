package indicator

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/quantstream/internal/models"
)

var t0 = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

func bar(i int, c float64) models.Bar {
	return models.Bar{
		Time:   t0.Add(time.Duration(i) * time.Minute),
		Open:   c,
		High:   c + 0.5,
		Low:    c - 0.5,
		Close:  c,
		Volume: 100,
	}
}

func sineBars(n int) []models.Bar {
	out := make([]models.Bar, n)
	for i := range out {
		c := 100 + 10*math.Sin(float64(i)/10)
		out[i] = bar(i, c)
		out[i].High = c + 1
		out[i].Low = c - 1
	}
	return out
}

func TestSMACross_Scenario(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6, 5, 4, 3, 2, 1, 2, 3, 4}
	ind, err := NewSMACross("sma", 2, 4)
	require.NoError(t, err)

	var events []Crossing
	ind.Subscribe(func(c Crossing) { events = append(events, c) })

	for i, c := range closes {
		require.NoError(t, ind.Update(bar(i, c)))
		switch {
		case i < 3:
			assert.False(t, ind.IsReady(), "bar %d", i)
		case i == 3:
			assert.True(t, ind.IsReady())
			assert.True(t, ind.IsGoingUp(), "initial direction comes from the first ready pair")
			_, ok := ind.LastCrossDirection()
			assert.False(t, ok, "no crossing on initialization")
		}
	}

	require.Len(t, events, 2)
	assert.Equal(t, models.Down, events[0].Direction)
	assert.Equal(t, bar(7, 0).Time, events[0].Time)
	assert.InDelta(t, 4.5, events[0].Fast, 1e-12)
	assert.InDelta(t, 5.0, events[0].Slow, 1e-12)
	assert.Equal(t, models.Up, events[1].Direction)
	assert.Equal(t, bar(12, 0).Time, events[1].Time)

	assert.Equal(t, bar(12, 0).Time, ind.TimeOfCrossing())
	dir, ok := ind.LastCrossDirection()
	assert.True(t, ok)
	assert.Equal(t, models.Up, dir)
	assert.InDelta(t, 1.0, ind.Value(), 1e-12)
}

func TestCrossing_EmittedOncePerDirectionChange(t *testing.T) {
	for _, kind := range []Kind{KindSMA, KindMACD, KindStochastic, KindDMI, KindRegression} {
		t.Run(kind.String(), func(t *testing.T) {
			ind, err := New(kind, "", Params{})
			require.NoError(t, err)
			assert.Equal(t, kind.String(), ind.Name())
			assert.Equal(t, kind, ind.Kind())

			var events []Crossing
			ind.Subscribe(func(c Crossing) { events = append(events, c) })

			for _, b := range sineBars(400) {
				before := len(events)
				prev := ind.TimeOfCrossing()
				require.NoError(t, ind.Update(b))

				switch len(events) - before {
				case 0:
					assert.Equal(t, prev, ind.TimeOfCrossing())
				case 1:
					assert.Equal(t, b.Time, ind.TimeOfCrossing())
					assert.Equal(t, b.Time, events[len(events)-1].Time)
					assert.True(t, ind.IsReady())
				default:
					t.Fatalf("%d crossings emitted for one bar", len(events)-before)
				}
			}

			require.NotEmpty(t, events)
			for i := 1; i < len(events); i++ {
				assert.NotEqual(t, events[i-1].Direction, events[i].Direction, "crossings alternate")
				assert.True(t, events[i].Time.After(events[i-1].Time))
			}
			last := events[len(events)-1]
			dir, ok := ind.LastCrossDirection()
			assert.True(t, ok)
			assert.Equal(t, last.Direction, dir)
			assert.Equal(t, dir == models.Up, ind.IsGoingUp())
		})
	}
}

func TestUpdate_RejectsBadBars(t *testing.T) {
	for _, kind := range []Kind{KindSMA, KindMACD, KindStochastic, KindDMI, KindRegression} {
		t.Run(kind.String(), func(t *testing.T) {
			ind, err := New(kind, "", Params{})
			require.NoError(t, err)
			bars := sineBars(120)
			for _, b := range bars {
				require.NoError(t, ind.Update(b))
			}
			value, up, crossed := ind.Value(), ind.IsGoingUp(), ind.TimeOfCrossing()

			last := bars[len(bars)-1]
			nan := bar(200, 100)
			nan.Close = math.NaN()
			inverted := bar(200, 100)
			inverted.High, inverted.Low = 99, 101

			tests := []struct {
				name string
				bar  models.Bar
				want error
			}{
				{"nan close", nan, models.ErrInvalidValue},
				{"high below low", inverted, models.ErrInvalidValue},
				{"same stamp", bar(119, 150), models.ErrInvalidTime},
				{"earlier stamp", bar(3, 150), models.ErrInvalidTime},
			}
			for _, tt := range tests {
				err := ind.Update(tt.bar)
				assert.True(t, errors.Is(err, tt.want), "%s: got %v", tt.name, err)
				assert.Equal(t, value, ind.Value(), tt.name)
				assert.Equal(t, up, ind.IsGoingUp(), tt.name)
				assert.Equal(t, crossed, ind.TimeOfCrossing(), tt.name)
			}

			next := bar(120, last.Close)
			assert.NoError(t, ind.Update(next), "in-order data still accepted after a rejection")
		})
	}
}

func TestUpdate_NoTimeBypassesOrdering(t *testing.T) {
	ind, err := NewSMACross("sma", 2, 4)
	require.NoError(t, err)
	require.NoError(t, ind.Update(bar(10, 1)))

	b := bar(0, 2)
	b.Time = models.NoTime
	assert.NoError(t, ind.Update(b))
	assert.NoError(t, ind.Update(b))
	assert.Error(t, ind.Update(bar(10, 3)), "the last real stamp is still enforced")
	assert.NoError(t, ind.Update(bar(11, 3)))
}

func TestNew_Factory(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		params  Params
		wantErr bool
	}{
		{"sma defaults", "sma", Params{}, false},
		{"macd upper case", "MACD", Params{}, false},
		{"stochastic", "stochastic", Params{Period: 5, Signal: 3}, false},
		{"dmi", "dmi", Params{Period: 7}, false},
		{"regression", "regression", Params{Period: 10}, false},
		{"unknown", "rsi", Params{}, true},
		{"fast not shorter", "sma", Params{Fast: 30, Slow: 30}, true},
		{"negative signal", "macd", Params{Signal: -1}, true},
		{"period too small", "dmi", Params{Period: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, err := ParseKind(tt.kind)
			if err == nil {
				_, err = New(kind, "x", tt.params)
			}
			if tt.wantErr {
				assert.True(t, errors.Is(err, models.ErrInvalidConfig), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNew_Inverted(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6, 5, 4}
	ind, err := New(KindSMA, "inv", Params{Fast: 2, Slow: 4, Inverted: true})
	require.NoError(t, err)
	for i, c := range closes {
		require.NoError(t, ind.Update(bar(i, c)))
		if i == 3 {
			assert.False(t, ind.IsGoingUp())
		}
	}
	dir, ok := ind.LastCrossDirection()
	assert.True(t, ok)
	assert.Equal(t, models.Up, dir)
	assert.Equal(t, bar(7, 0).Time, ind.TimeOfCrossing())
}

func TestClone_IsIndependent(t *testing.T) {
	for _, kind := range []Kind{KindSMA, KindMACD, KindStochastic, KindDMI, KindRegression} {
		t.Run(kind.String(), func(t *testing.T) {
			ind, err := New(kind, "", Params{})
			require.NoError(t, err)
			calls := 0
			ind.Subscribe(func(Crossing) { calls++ })

			bars := sineBars(300)
			for _, b := range bars[:150] {
				require.NoError(t, ind.Update(b))
			}
			before := calls
			cp := ind.Clone()
			assert.Equal(t, ind.Value(), cp.Value())
			assert.Equal(t, ind.TimeOfCrossing(), cp.TimeOfCrossing())

			for _, b := range bars[150:] {
				require.NoError(t, cp.Update(b))
			}
			assert.Equal(t, before, calls, "observers stay with the original")
			assert.NotEqual(t, ind.TimeOfCrossing(), cp.TimeOfCrossing())
			assert.Error(t, ind.Update(bars[0]))
			assert.NoError(t, ind.Update(bars[150]))
		})
	}
}

func TestMACDCross_Accessors(t *testing.T) {
	m, err := NewMACDCross("macd", 3, 6, 3)
	require.NoError(t, err)
	for _, b := range sineBars(60) {
		require.NoError(t, m.Update(b))
	}
	require.True(t, m.IsReady())
	assert.InDelta(t, m.Macd()-m.Signal(), m.Histogram(), 1e-12)
	assert.Equal(t, m.Histogram(), m.Value())
}

func TestDMICross_Adx(t *testing.T) {
	d, err := NewDMICross("dmi", 5)
	require.NoError(t, err)
	for i, b := range sineBars(80) {
		require.NoError(t, d.Update(b))
		if i < 5 {
			assert.False(t, d.IsReady(), "bar %d", i)
		}
	}
	require.True(t, d.AdxReady())
	assert.GreaterOrEqual(t, d.Adx(), 0.0)
	assert.LessOrEqual(t, d.Adx(), 100.0)
	assert.InDelta(t, d.PlusDI()-d.MinusDI(), d.Value(), 1e-12)
}

func TestStochasticCross_FlatRange(t *testing.T) {
	s, err := NewStochasticCross("stoch", 3, 2)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		b := bar(i, 7)
		b.High, b.Low = 7, 7
		require.NoError(t, s.Update(b))
	}
	assert.Equal(t, 50.0, s.K())
	assert.Equal(t, 50.0, s.D())
}

func TestRegressionCross_TracksLine(t *testing.T) {
	r, err := NewRegressionCross("reg", 5)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Update(bar(i, 2*float64(i)+1)))
	}
	assert.InDelta(t, 2.0, r.Slope(), 1e-9)
	assert.InDelta(t, 0.0, r.Value(), 1e-9)
	assert.InDelta(t, 21.0, r.Forecast(1), 1e-9)
}

func TestRegressionCross_LongStream(t *testing.T) {
	r, err := NewRegressionCross("reg", 20)
	require.NoError(t, err)
	// A trend plus a period-7 wiggle, so the fit is not exact.
	price := func(i int) float64 { return 2*float64(i) + 5 + float64(i%7) }
	n := 3*minRebase + 100
	for i := 0; i < n; i++ {
		require.NoError(t, r.Update(bar(i, price(i))))
	}

	// Reference fit over the last 20 bars, x counted from the first of them.
	var sx, sy, sxx, sxy float64
	for k := 0; k < 20; k++ {
		x, y := float64(k), price(n-20+k)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	slope := (20*sxy - sx*sy) / (20*sxx - sx*sx)
	intercept := (sy - slope*sx) / 20

	assert.InDelta(t, slope, r.Slope(), 1e-9)
	assert.InDelta(t, price(n-1)-(slope*19+intercept), r.Value(), 1e-6)
	assert.InDelta(t, slope*20+intercept, r.Forecast(1), 1e-6)
	assert.Less(t, r.index-r.origin, r.rebase)
}

func TestConcurrentReaders(t *testing.T) {
	ind, err := New(KindDMI, "", Params{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	done := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					_ = ind.Value()
					_ = ind.IsGoingUp()
					_, _ = ind.LastCrossDirection()
				}
			}
		}()
	}
	for _, b := range sineBars(500) {
		require.NoError(t, ind.Update(b))
	}
	close(done)
	wg.Wait()
	assert.True(t, ind.IsReady())
}
