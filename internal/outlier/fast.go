package outlier

import (
	"fmt"
	"math"
	"sync"

	"github.com/rewired-gh/quantstream/internal/models"
	"github.com/rewired-gh/quantstream/internal/ostat"
	"github.com/rewired-gh/quantstream/internal/stats"
)

// MinFastWindow is the smallest window the streaming detector accepts.
const MinFastWindow = 30

// Fast is the streaming outlier filter. It keeps the last values and the
// absolute first differences in order-statistic windows, so both medians cost
// O(log w) per update.
//
// A value is an outlier when it is more than threshold times the median
// difference away from the window median and from the previous value. It is
// replaced by the mean of the raw window including it.
type Fast struct {
	mu        sync.Mutex
	threshold float64
	corrected bool
	raw       *ostat.Rolling
	diffs     *ostat.Rolling
	mean      *stats.RollingMean
	prev      float64
	seen      int
	flagged   int
}

// FastOption configures a Fast filter.
type FastOption func(*Fast)

// WithCorrectedReference measures differences from the previous corrected
// value and replaces an outlier with the mean of the corrected values before
// it, so a run of spikes never pulls its own replacement up.
func WithCorrectedReference() FastOption {
	return func(f *Fast) { f.corrected = true }
}

// NewFast creates a streaming detector. Windows below MinFastWindow are rejected.
func NewFast(window int, threshold float64, opts ...FastOption) (*Fast, error) {
	if window < MinFastWindow {
		return nil, fmt.Errorf("%w: fast outlier window %d below %d", models.ErrInvalidConfig, window, MinFastWindow)
	}
	if threshold <= 0 || !models.IsFinite(threshold) {
		return nil, fmt.Errorf("%w: fast outlier threshold %v must be positive", models.ErrInvalidConfig, threshold)
	}
	raw, err := ostat.NewRolling(window)
	if err != nil {
		return nil, err
	}
	diffs, err := ostat.NewRolling(window)
	if err != nil {
		return nil, err
	}
	mean, err := stats.NewRollingMean(window)
	if err != nil {
		return nil, err
	}
	f := &Fast{threshold: threshold, raw: raw, diffs: diffs, mean: mean}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Update consumes v and returns the value to use downstream plus whether v was
// an outlier.
func (f *Fast) Update(v float64) (float64, bool, error) {
	if !models.IsFinite(v) {
		return 0, false, fmt.Errorf("%w: %v", models.ErrInvalidValue, v)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.seen == 0 {
		f.push(v, v)
		return v, false, nil
	}

	d := math.Abs(v - f.prev)
	isOutlier := false
	if f.raw.Full() {
		med, _ := f.raw.Median()
		medR, _ := f.diffs.Median()
		limit := f.threshold * medR
		isOutlier = math.Abs(v-med) > limit && d > limit
	}

	corrected := v
	if isOutlier && f.corrected {
		corrected = f.mean.Mean()
	}
	f.diffs.Push(d)
	f.push(v, corrected)
	if isOutlier {
		if !f.corrected {
			corrected = f.mean.Mean()
		}
		f.flagged++
	}
	return corrected, isOutlier, nil
}

// push records the raw value for the median. The mean and the reference for
// the next difference follow the raw values, or the corrected ones under
// WithCorrectedReference.
func (f *Fast) push(raw, corrected float64) {
	f.raw.Push(raw)
	ref := raw
	if f.corrected {
		ref = corrected
	}
	_ = f.mean.Update(models.NoTime, ref)
	f.prev = ref
	f.seen++
}

// IsReady reports whether the window is full and outliers can be flagged.
func (f *Fast) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raw.Full()
}

// Stats returns the number of values seen and flagged.
func (f *Fast) Stats() (seen, flagged int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen, f.flagged
}

// Median returns the median of the raw window.
func (f *Fast) Median() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, _ := f.raw.Median()
	return m
}

// Clone deep-copies the detector.
func (f *Fast) Clone() *Fast {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &Fast{
		threshold: f.threshold,
		corrected: f.corrected,
		raw:       f.raw.Clone(),
		diffs:     f.diffs.Clone(),
		mean:      f.mean.Clone(),
		prev:      f.prev,
		seen:      f.seen,
		flagged:   f.flagged,
	}
}
