package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/quantstream/internal/indicator"
	"github.com/rewired-gh/quantstream/internal/models"
	"github.com/rewired-gh/quantstream/internal/storage"
	"github.com/rewired-gh/quantstream/internal/swing"
)

var t0 = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

func stamp(i int) time.Time { return t0.Add(time.Duration(i) * time.Minute) }

func bar(i int, c float64) models.Bar {
	return models.Bar{Time: stamp(i), Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 100}
}

var smaCloses = []float64{1, 2, 3, 4, 5, 6, 5, 4, 3, 2, 1, 2, 3, 4}

func smaConfig() Config {
	return Config{
		Series: "btc-usd",
		Indicators: []IndicatorSpec{
			{Name: "sma", Kind: indicator.KindSMA, Params: indicator.Params{Fast: 2, Slow: 4}},
		},
		CheckpointInterval: 100,
		TopK:               10,
	}
}

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(1000, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func run(t *testing.T, e *Engine, closes []float64, from int) []models.Signal {
	t.Helper()
	var all []models.Signal
	for i := from; i < len(closes); i++ {
		out, err := e.Process(bar(i, closes[i]))
		require.NoError(t, err, "bar %d", i)
		all = append(all, out...)
	}
	return all
}

func TestEngine_CrossingSignals(t *testing.T) {
	e, err := New(smaConfig(), nil)
	require.NoError(t, err)

	signals := run(t, e, smaCloses, 0)
	require.Len(t, signals, 2)

	assert.Equal(t, models.KindCrossing, signals[0].Kind)
	assert.Equal(t, "sma", signals[0].Source)
	assert.Equal(t, "btc-usd", signals[0].Series)
	assert.Equal(t, models.Down, signals[0].Direction)
	assert.Equal(t, stamp(7), signals[0].Time)
	assert.InDelta(t, -0.5, signals[0].Value, 1e-12)
	assert.NotEmpty(t, signals[0].ID)

	assert.Equal(t, models.Up, signals[1].Direction)
	assert.Equal(t, stamp(12), signals[1].Time)
	assert.NotEqual(t, signals[0].ID, signals[1].ID)

	st := e.State()
	assert.Equal(t, 14, st.Bars)
	assert.Equal(t, 2, st.Signals)
	assert.Equal(t, stamp(13), st.LastTime)
	assert.Equal(t, 4.0, st.LastClose)

	assert.Equal(t, 14.0, testutil.ToFloat64(e.metrics.bars))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.signals.WithLabelValues("crossing")))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.pending))

	snap := e.Snapshot()
	assert.InDelta(t, 1.0, snap["sma"], 1e-12)
	assert.Contains(t, e.Status(), "btc-usd: 14 bars, 0 outliers, 2 signals")
}

func TestEngine_ZigZagSignals(t *testing.T) {
	zz := swing.Config{Depth: 5, Deviation: 5, Backstep: 3, Capacity: 300}
	e, err := New(Config{Series: "eth-usd", ZigZag: &zz, CheckpointInterval: 100, TopK: 10}, nil)
	require.NoError(t, err)

	type emitted struct {
		at  int
		sig models.Signal
	}
	var got []emitted
	for i := 0; i < 60; i++ {
		p := float64(60 + i)
		switch {
		case i < 20:
			p = float64(100 + i)
		case i < 40:
			p = float64(138 - i)
		}
		out, err := e.Process(models.Bar{Time: stamp(i), High: p + 0.5, Low: p - 0.5, Close: p})
		require.NoError(t, err)
		for _, s := range out {
			got = append(got, emitted{i, s})
		}
	}

	require.Len(t, got, 3)
	want := []struct {
		at    int
		index int
		kind  models.SignalKind
		dir   models.Direction
		value float64
	}{
		{4, 0, models.KindTrough, models.Down, 99.5},
		{23, 19, models.KindPeak, models.Up, 119.5},
		{43, 39, models.KindTrough, models.Down, 98.5},
	}
	for i, w := range want {
		assert.Equal(t, w.at, got[i].at, "signal %d", i)
		assert.Equal(t, "zigzag", got[i].sig.Source)
		assert.Equal(t, w.kind, got[i].sig.Kind)
		assert.Equal(t, w.dir, got[i].sig.Direction)
		assert.Equal(t, stamp(w.index), got[i].sig.Time)
		assert.Equal(t, w.value, got[i].sig.Value)
	}
}

func TestEngine_ZigZagLongUptrend(t *testing.T) {
	zz := swing.Config{Depth: 12, Deviation: 5, Backstep: 3, Capacity: 300}
	e, err := New(Config{Series: "eth-usd", ZigZag: &zz, CheckpointInterval: 100, TopK: 10}, nil)
	require.NoError(t, err)

	var got []models.Signal
	for i := 0; i < 1500; i++ {
		out, err := e.Process(bar(i, 100+float64(i)))
		require.NoError(t, err)
		got = append(got, out...)
	}
	require.Len(t, got, 1, "only the opening trough is confirmed")
	assert.Equal(t, models.KindTrough, got[0].Kind)
	assert.Equal(t, stamp(0), got[0].Time)
	assert.Equal(t, 99.5, got[0].Value)
}

func TestEngine_OutlierReplaced(t *testing.T) {
	tests := []struct {
		name      string
		corrected bool
		want      float64
	}{
		// Bars 6..35: fifteen 100s, fourteen 101s and the spike.
		{"raw window mean", false, (15*100 + 14*101 + 150) / 30.0},
		{"corrected reference", true, 100.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Series:  "btc-usd",
				Outlier: OutlierConfig{Enabled: true, Window: 30, Threshold: 6, CorrectedReference: tt.corrected},
				Indicators: []IndicatorSpec{
					{Name: "sma", Kind: indicator.KindSMA, Params: indicator.Params{Fast: 1, Slow: 2}},
				},
				CheckpointInterval: 100,
				TopK:               10,
			}
			e, err := New(cfg, nil)
			require.NoError(t, err)

			closes := make([]float64, 40)
			for i := range closes {
				closes[i] = 100 + float64(i%2)
			}
			closes[35] = 150

			var outliers []models.Signal
			for i, c := range closes {
				out, err := e.Process(bar(i, c))
				require.NoError(t, err)
				for _, s := range out {
					if s.Kind == models.KindOutlier {
						outliers = append(outliers, s)
					}
				}
				if i == 35 {
					ind := e.indicators[0].(*indicator.SMACross)
					assert.InDelta(t, tt.want, ind.Fast(), 1e-9, "indicators see the corrected close")
				}
			}

			require.Len(t, outliers, 1)
			assert.Equal(t, stamp(35), outliers[0].Time)
			assert.Equal(t, models.Up, outliers[0].Direction)
			assert.Equal(t, 150.0, outliers[0].Value)
			assert.Equal(t, 1, e.State().Outliers)
			assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.outliers))
		})
	}
}

func TestEngine_RejectsBadBars(t *testing.T) {
	e, err := New(smaConfig(), nil)
	require.NoError(t, err)
	run(t, e, smaCloses[:6], 0)
	before := e.State()
	snap := e.Snapshot()

	nan := bar(6, 1)
	nan.Close = math.NaN()
	_, err = e.Process(nan)
	assert.True(t, errors.Is(err, models.ErrInvalidValue), "got %v", err)

	_, err = e.Process(bar(5, 3))
	assert.True(t, errors.Is(err, models.ErrInvalidTime), "got %v", err)

	assert.Equal(t, before, e.State())
	assert.Equal(t, snap, e.Snapshot())
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.rejected))
}

func TestEngine_CheckpointsToJournal(t *testing.T) {
	s := newTestStorage(t)
	cfg := smaConfig()
	cfg.CheckpointInterval = 5

	e, err := New(cfg, s)
	require.NoError(t, err)
	run(t, e, smaCloses, 0)

	n, err := s.CountSignals("btc-usd")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the bar 7 crossing is flushed at bar 10")
	assert.Equal(t, 1, e.Pending())

	st, err := s.LoadState("btc-usd")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 10, st.Bars)

	require.NoError(t, e.Shutdown())
	n, _ = s.CountSignals("btc-usd")
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, e.Pending())
	assert.Equal(t, 3.0, testutil.ToFloat64(e.metrics.checkpoints))

	st, _ = s.LoadState("btc-usd")
	assert.Equal(t, 14, st.Bars)
	assert.Equal(t, 2, st.Signals)
}

func TestEngine_ResumeSkipsJournaledBars(t *testing.T) {
	s := newTestStorage(t)

	first, err := New(smaConfig(), s)
	require.NoError(t, err)
	run(t, first, smaCloses[:10], 0)
	require.NoError(t, first.Shutdown())

	second, err := New(smaConfig(), s)
	require.NoError(t, err)
	assert.Equal(t, 10, second.State().Bars)

	var replayed []models.Signal
	for i, c := range smaCloses {
		out, err := second.Process(bar(i, c))
		require.NoError(t, err)
		if i < 10 {
			assert.Empty(t, out, "bar %d is already journaled", i)
		}
		replayed = append(replayed, out...)
	}

	require.Len(t, replayed, 1)
	assert.Equal(t, stamp(12), replayed[0].Time)
	assert.Equal(t, models.Up, replayed[0].Direction)

	st := second.State()
	assert.Equal(t, 14, st.Bars)
	assert.Equal(t, 2, st.Signals)
}

func TestEngine_PostProcess(t *testing.T) {
	cfg := Config{Series: "btc-usd", CheckpointInterval: 100, TopK: 2, CooldownBars: 5}
	e, err := New(cfg, nil)
	require.NoError(t, err)

	s1 := models.Signal{Source: "sma", Kind: models.KindCrossing, Direction: models.Up, Time: stamp(1)}
	s2 := models.Signal{Source: "macd", Kind: models.KindCrossing, Direction: models.Down, Time: stamp(1)}
	s3 := models.Signal{Source: "zigzag", Kind: models.KindPeak, Direction: models.Up, Time: stamp(2)}

	groups := e.PostProcess([]models.Signal{s1, s2, s3})
	require.Len(t, groups, 2, "top k keeps the two most recent")
	assert.Equal(t, "btc-usd", groups[0].Series)
	assert.Equal(t, stamp(1), groups[0].Time)
	assert.Equal(t, []models.Signal{s2}, groups[0].Signals)
	assert.Equal(t, []models.Signal{s3}, groups[1].Signals)

	e.RecordNotified(groups)

	groups = e.PostProcess([]models.Signal{s1, s2, s3})
	require.Len(t, groups, 1)
	assert.Equal(t, []models.Signal{s1}, groups[0].Signals)

	flipped := s2
	flipped.Direction = models.Up
	groups = e.PostProcess([]models.Signal{flipped})
	require.Len(t, groups, 1, "the opposite direction is not cooling down")

	for i := 0; i < 5; i++ {
		_, err := e.Process(bar(i, 100))
		require.NoError(t, err)
	}
	groups = e.PostProcess([]models.Signal{s2, s3})
	require.Len(t, groups, 2, "cooldown expires after five bars")
}

func TestEngine_RecordNotifiedMarksJournal(t *testing.T) {
	s := newTestStorage(t)
	cfg := smaConfig()
	cfg.CheckpointInterval = 1
	e, err := New(cfg, s)
	require.NoError(t, err)

	signals := run(t, e, smaCloses, 0)
	require.Len(t, signals, 2)

	e.RecordNotified(e.PostProcess(signals))

	stored, err := s.GetSignals("btc-usd", 10)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, sig := range stored {
		assert.True(t, sig.Notified, "signal %s", sig.ID)
	}
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(smaConfig(), nil, WithRegisterer(reg))
	require.NoError(t, err)

	_, err = New(smaConfig(), nil, WithRegisterer(reg))
	assert.Error(t, err, "a series registers its collectors once")

	other := smaConfig()
	other.Series = "eth-usd"
	_, err = New(other, nil, WithRegisterer(reg))
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "quantstream_bars_total")
	assert.Contains(t, names, "quantstream_process_seconds")
}

func TestEngine_WithClock(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	e, err := New(smaConfig(), nil, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	_, err = e.Process(bar(0, 1))
	require.NoError(t, err)
	assert.Equal(t, fixed, e.State().UpdatedAt)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing series", func(c *Config) { c.Series = "" }},
		{"zero checkpoint interval", func(c *Config) { c.CheckpointInterval = 0 }},
		{"zero top k", func(c *Config) { c.TopK = 0 }},
		{"bad indicator", func(c *Config) { c.Indicators[0].Params = indicator.Params{Fast: 5, Slow: 3} }},
		{"small outlier window", func(c *Config) { c.Outlier = OutlierConfig{Enabled: true, Window: 10, Threshold: 6} }},
		{"bad zigzag", func(c *Config) { c.ZigZag = &swing.Config{Depth: 1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smaConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	e, err := New(DefaultConfig("spy"), nil)
	require.NoError(t, err)
	assert.Len(t, e.indicators, 2)
	assert.NotNil(t, e.filter)
	assert.NotNil(t, e.zigzag)
}
