// Package engine runs one series through the outlier filter, the crossing
// indicators and the zigzag detector, and journals the resulting signals.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rewired-gh/quantstream/internal/indicator"
	"github.com/rewired-gh/quantstream/internal/logger"
	"github.com/rewired-gh/quantstream/internal/models"
	"github.com/rewired-gh/quantstream/internal/outlier"
	"github.com/rewired-gh/quantstream/internal/swing"
)

const (
	outlierSource = "outlier"
	zigzagSource  = "zigzag"
)

type IndicatorSpec struct {
	Name   string
	Kind   indicator.Kind
	Params indicator.Params
}

type OutlierConfig struct {
	Enabled   bool
	Window    int
	Threshold float64
	// CorrectedReference replaces outliers from the corrected history instead
	// of the raw window.
	CorrectedReference bool
}

type Config struct {
	Series     string
	Indicators []IndicatorSpec
	Outlier    OutlierConfig
	// ZigZag is nil when swing detection is off.
	ZigZag *swing.Config

	CheckpointInterval int
	TopK               int
	CooldownBars       int
}

func DefaultConfig(series string) Config {
	zz := swing.DefaultConfig()
	return Config{
		Series: series,
		Indicators: []IndicatorSpec{
			{Name: "sma", Kind: indicator.KindSMA},
			{Name: "macd", Kind: indicator.KindMACD},
		},
		Outlier:            OutlierConfig{Enabled: true, Window: 30, Threshold: 6},
		ZigZag:             &zz,
		CheckpointInterval: 100,
		TopK:               10,
	}
}

// Journal persists series progress and emitted signals.
type Journal interface {
	SaveState(state *models.SeriesState) error
	LoadState(series string) (*models.SeriesState, error)
	AddSignals(signals []models.Signal) error
}

// notifiedMarker is implemented by journals that track delivery.
type notifiedMarker interface {
	MarkNotified(ids []string) error
}

type Option func(*Engine)

// WithRegisterer registers the engine's metrics on reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.registerer = reg }
}

// WithClock overrides the clock used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type notifyKey struct {
	source    string
	direction models.Direction
}

type Engine struct {
	mu      sync.Mutex
	config  Config
	journal Journal

	indicators []indicator.CrossingIndicator
	filter     *outlier.Fast
	zigzag     *swing.ZigZag

	state models.SeriesState
	last  time.Time
	// resume is the last journaled bar time; bars up to it only warm detectors up.
	resume      time.Time
	lastExtreme int

	crossings []models.Signal
	buffer    []models.Signal
	notified  map[notifyKey]int

	metrics    *promMetrics
	registerer prometheus.Registerer
	now        func() time.Time
}

// New builds the pipeline for one series. journal may be nil. A persisted
// state for the series restores the counters, and bars stamped at or before
// its last time are replayed silently.
func New(config Config, journal Journal, opts ...Option) (*Engine, error) {
	if config.Series == "" {
		return nil, fmt.Errorf("%w: series name is required", models.ErrInvalidConfig)
	}
	if config.CheckpointInterval < 1 {
		return nil, fmt.Errorf("%w: checkpoint interval %d must be at least 1", models.ErrInvalidConfig, config.CheckpointInterval)
	}
	if config.TopK < 1 {
		return nil, fmt.Errorf("%w: top k %d must be at least 1", models.ErrInvalidConfig, config.TopK)
	}

	e := &Engine{
		config:      config,
		journal:     journal,
		state:       models.SeriesState{Series: config.Series},
		lastExtreme: -1,
		notified:    make(map[notifyKey]int),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registerer == nil {
		e.registerer = prometheus.NewRegistry()
	}

	for _, spec := range config.Indicators {
		ind, err := indicator.New(spec.Kind, spec.Name, spec.Params)
		if err != nil {
			return nil, err
		}
		ind.Subscribe(e.onCrossing)
		e.indicators = append(e.indicators, ind)
	}

	if config.Outlier.Enabled {
		var opts []outlier.FastOption
		if config.Outlier.CorrectedReference {
			opts = append(opts, outlier.WithCorrectedReference())
		}
		f, err := outlier.NewFast(config.Outlier.Window, config.Outlier.Threshold, opts...)
		if err != nil {
			return nil, err
		}
		e.filter = f
	}

	if config.ZigZag != nil {
		z, err := swing.NewZigZag(*config.ZigZag)
		if err != nil {
			return nil, err
		}
		e.zigzag = z
	}

	e.metrics = buildPromMetrics(config.Series)
	if err := e.metrics.register(e.registerer); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	if journal != nil {
		persisted, err := journal.LoadState(config.Series)
		if err != nil {
			logger.Warn("Failed to load persisted state for %s: %v", config.Series, err)
		} else if persisted != nil {
			e.state = *persisted
			e.resume = persisted.LastTime
			logger.Info("Resuming %s after %d bars (last bar %s)", config.Series, persisted.Bars, persisted.LastTime.Format(time.RFC3339))
		}
	}

	return e, nil
}

// onCrossing runs inside an indicator update, so the engine lock is already held.
func (e *Engine) onCrossing(c indicator.Crossing) {
	e.crossings = append(e.crossings, models.Signal{
		Source:    c.Indicator,
		Kind:      models.KindCrossing,
		Direction: c.Direction,
		Time:      c.Time,
		Value:     c.Fast - c.Slow,
	})
}

// Process feeds one bar through the pipeline and returns the signals it raised.
// A rejected bar leaves every detector unchanged.
func (e *Engine) Process(bar models.Bar) ([]models.Signal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	timer := prometheus.NewTimer(e.metrics.latency)
	defer timer.ObserveDuration()

	if err := bar.Validate(); err != nil {
		e.metrics.rejected.Inc()
		return nil, fmt.Errorf("%s: %w", e.config.Series, err)
	}
	if err := models.CheckOrder(e.last, bar.Time); err != nil {
		e.metrics.rejected.Inc()
		return nil, fmt.Errorf("%s: %w", e.config.Series, err)
	}

	warmup := !e.resume.IsZero() && !bar.Time.IsZero() && !bar.Time.After(e.resume)

	var out []models.Signal
	isOutlier := false
	if e.filter != nil {
		corrected, flagged, err := e.filter.Update(bar.Close)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.config.Series, err)
		}
		if flagged {
			isOutlier = true
			dir := models.Down
			if bar.Close > corrected {
				dir = models.Up
			}
			out = append(out, models.Signal{
				Source:    outlierSource,
				Kind:      models.KindOutlier,
				Direction: dir,
				Time:      bar.Time,
				Value:     bar.Close,
			})
			logger.Debug("%s: outlier close %.6f replaced by %.6f", e.config.Series, bar.Close, corrected)
			bar = flatten(bar, corrected)
		}
	}

	e.crossings = e.crossings[:0]
	for _, ind := range e.indicators {
		if err := ind.Update(bar); err != nil {
			return nil, err
		}
	}
	out = append(out, e.crossings...)

	if e.zigzag != nil {
		if err := e.zigzag.Update(bar.Time, bar.High, bar.Low); err != nil {
			return nil, err
		}
		out = append(out, e.newExtrema()...)
	}

	if !bar.Time.IsZero() {
		e.last = bar.Time
	}
	e.metrics.bars.Inc()

	if warmup {
		return nil, nil
	}

	e.state.Bars++
	if isOutlier {
		e.state.Outliers++
		e.metrics.outliers.Inc()
	}
	e.state.LastTime = bar.Time
	e.state.LastClose = bar.Close
	e.state.UpdatedAt = e.now()

	for i := range out {
		out[i].ID = uuid.NewString()
		out[i].Series = e.config.Series
		e.metrics.signals.WithLabelValues(string(out[i].Kind)).Inc()
	}
	e.state.Signals += len(out)
	e.buffer = append(e.buffer, out...)
	e.metrics.pending.Set(float64(len(e.buffer)))

	if e.state.Bars%e.config.CheckpointInterval == 0 {
		if err := e.flush(); err != nil {
			logger.Warn("Failed to checkpoint %s: %v", e.config.Series, err)
		}
	}

	return out, nil
}

// flatten collapses an outlier bar onto its corrected close.
func flatten(bar models.Bar, v float64) models.Bar {
	bar.High, bar.Low, bar.Close = v, v, v
	return bar
}

// newExtrema returns confirmed zigzag vertices not emitted before. Vertices are
// tracked by their position among all accepted bars so arena eviction cannot
// replay them.
func (e *Engine) newExtrema() []models.Signal {
	var out []models.Signal
	for _, ex := range e.zigzag.Confirmed() {
		seq := e.zigzag.Sequence(ex.Index)
		if seq <= e.lastExtreme {
			continue
		}
		e.lastExtreme = seq
		dir := models.Down
		if ex.Kind == models.KindPeak {
			dir = models.Up
		}
		out = append(out, models.Signal{
			Source:    zigzagSource,
			Kind:      ex.Kind,
			Direction: dir,
			Time:      ex.Time,
			Value:     ex.Value,
		})
	}
	return out
}

// Flush checkpoints the series state and writes buffered signals to the journal.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flush()
}

func (e *Engine) flush() error {
	if e.journal == nil {
		e.buffer = nil
		e.metrics.pending.Set(0)
		return nil
	}
	// signals reference the series row, so the state goes first
	if err := e.journal.SaveState(&e.state); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	if len(e.buffer) > 0 {
		if err := e.journal.AddSignals(e.buffer); err != nil {
			return fmt.Errorf("failed to journal %d signals: %w", len(e.buffer), err)
		}
		logger.Debug("Journaled %d signals for %s", len(e.buffer), e.config.Series)
	}
	e.buffer = nil
	e.metrics.pending.Set(0)
	e.metrics.checkpoints.Inc()
	return nil
}

// Shutdown flushes everything still buffered.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	logger.Info("Checkpointing %s before shutdown: %d bars, %d pending signals", e.config.Series, e.state.Bars, len(e.buffer))
	return e.flush()
}

// State returns a copy of the series progress.
func (e *Engine) State() models.SeriesState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Pending returns the number of signals not yet journaled.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffer)
}

// Snapshot returns the current value of every ready indicator by name.
func (e *Engine) Snapshot() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	values := make(map[string]float64, len(e.indicators))
	for _, ind := range e.indicators {
		if ind.IsReady() {
			values[ind.Name()] = ind.Value()
		}
	}
	return values
}

// Status renders a one-message summary of the series.
func (e *Engine) Status() string {
	snap := e.Snapshot()
	st := e.State()

	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	s := fmt.Sprintf("%s: %d bars, %d outliers, %d signals", st.Series, st.Bars, st.Outliers, st.Signals)
	if !st.LastTime.IsZero() {
		s += fmt.Sprintf(", last %s close %.4f", st.LastTime.Format(time.RFC3339), st.LastClose)
	}
	for _, name := range names {
		s += fmt.Sprintf("\n%s = %.4f", name, snap[name])
	}
	return s
}

// PostProcess drops signals whose source already reported the same direction
// within the cooldown, keeps the most recent TopK and groups them by bar time,
// oldest first.
func (e *Engine) PostProcess(signals []models.Signal) []models.SignalGroup {
	e.mu.Lock()
	defer e.mu.Unlock()

	var kept []models.Signal
	for _, sig := range signals {
		if e.coolingDown(sig) {
			continue
		}
		kept = append(kept, sig)
	}
	if len(kept) > e.config.TopK {
		kept = kept[len(kept)-e.config.TopK:]
	}

	var groups []models.SignalGroup
	for _, sig := range kept {
		n := len(groups)
		if n > 0 && groups[n-1].Time.Equal(sig.Time) {
			groups[n-1].Signals = append(groups[n-1].Signals, sig)
			continue
		}
		groups = append(groups, models.SignalGroup{Series: e.config.Series, Time: sig.Time, Signals: []models.Signal{sig}})
	}
	return groups
}

func (e *Engine) coolingDown(sig models.Signal) bool {
	if e.config.CooldownBars <= 0 {
		return false
	}
	at, ok := e.notified[notifyKey{sig.Source, sig.Direction}]
	return ok && e.state.Bars-at < e.config.CooldownBars
}

// RecordNotified starts the cooldown for every delivered signal and marks it
// delivered in the buffer and the journal.
func (e *Engine) RecordNotified(groups []models.SignalGroup) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delivered := make(map[string]bool)
	var ids []string
	for _, group := range groups {
		for _, sig := range group.Signals {
			e.notified[notifyKey{sig.Source, sig.Direction}] = e.state.Bars
			if sig.ID != "" {
				delivered[sig.ID] = true
				ids = append(ids, sig.ID)
			}
		}
	}
	for i := range e.buffer {
		if delivered[e.buffer[i].ID] {
			e.buffer[i].Notified = true
		}
	}

	if m, ok := e.journal.(notifiedMarker); ok && len(ids) > 0 {
		if err := m.MarkNotified(ids); err != nil {
			logger.Warn("Failed to mark %d signals notified: %v", len(ids), err)
		}
	}
}
