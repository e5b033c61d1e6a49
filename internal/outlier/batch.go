// Package outlier flags and corrects spikes in a series using the median and
// the median absolute deviation (MAD), in a whole-series form and a streaming form.
package outlier

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/zyedidia/generic"

	"github.com/rewired-gh/quantstream/internal/logger"
	"github.com/rewired-gh/quantstream/internal/models"
)

const (
	DefaultWindow    = 30
	DefaultThreshold = 6.0
	// MinWindow is the smallest window with enough points to estimate a MAD.
	MinWindow = 4
	// maxRounds bounds the flag-and-replace passes of CorrectSeries.
	maxRounds = 10
)

// Options parameterizes CorrectSeries. Zero fields take the defaults.
type Options struct {
	Window     int
	Threshold  float64
	Forecaster Forecaster
}

func (o Options) withDefaults() Options {
	if o.Window == 0 {
		o.Window = DefaultWindow
	}
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Forecaster == nil {
		o.Forecaster = &RegressionForecaster{}
	}
	return o
}

// Result is the corrected series and the positions (into Series) that were replaced.
type Result struct {
	Series   []models.Sample
	Outliers []int
}

// CorrectSeries replaces confirmed outliers. A point is an outlier when
// |x - median| > k*MAD over its window, and it is confirmed only when its first
// difference is also an outlier or it continues a run opened by a confirmed one.
//
// Clustered spikes inflate the MAD and can hide each other, so the pass is
// repeated on its own output until no replacement changes a value, making the
// result a fixed point: correcting it again reports nothing. Non-finite samples
// are dropped. If a pass fails the input is returned as is.
func CorrectSeries(samples []models.Sample, opts Options) (res Result) {
	opts = opts.withDefaults()

	clean := make([]models.Sample, 0, len(samples))
	for _, s := range samples {
		if models.IsFinite(s.Value) {
			clean = append(clean, s)
		}
	}
	res = Result{Series: clean}

	n := len(clean)
	w := opts.Window
	if w > n {
		w = n
	}
	if w < MinWindow {
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Outlier correction failed, returning input unchanged: %v", r)
			res = Result{Series: clean}
		}
	}()

	values := make([]float64, n)
	for i, s := range clean {
		values[i] = s.Value
	}

	replaced := make(map[int]bool)
	for round := 0; round < maxRounds; round++ {
		changed := correctPass(values, w, opts, replaced)
		if changed == 0 {
			break
		}
		logger.Debug("Outlier pass %d changed %d of %d samples", round+1, changed, n)
	}
	if len(replaced) == 0 {
		return res
	}

	corrected := make([]models.Sample, n)
	copy(corrected, clean)
	outliers := make([]int, 0, len(replaced))
	for i := 0; i < n; i++ {
		if replaced[i] {
			outliers = append(outliers, i)
			corrected[i].Value = values[i]
		}
	}

	logger.Debug("Corrected %d outliers in %d samples (window %d, threshold %.1f)", len(outliers), n, w, opts.Threshold)
	return Result{Series: corrected, Outliers: outliers}
}

// correctPass flags confirmed outliers in values and overwrites them with their
// replacements. Every confirmed point whose value moves, or that cannot be
// replaced, is added to replaced. It returns how many values moved.
func correctPass(values []float64, w int, opts Options, replaced map[int]bool) int {
	n := len(values)
	deltas := make([]float64, n)
	for i := 1; i < n; i++ {
		deltas[i] = values[i] - values[i-1]
	}

	flagged := make([]bool, n)
	var confirmed []int
	inRun := false
	for i := 0; i < n; i++ {
		raw := isOutlier(values, i, w, opts.Threshold)
		deriv := isOutlier(deltas, i, w, opts.Threshold)
		switch {
		case raw && (deriv || inRun):
			flagged[i] = true
			inRun = true
			confirmed = append(confirmed, i)
		case !raw && !deriv:
			inRun = false
		}
	}

	next := make(map[int]float64, len(confirmed))
	for _, i := range confirmed {
		v, err := replacement(values, flagged, i, w, opts.Forecaster)
		if err != nil {
			logger.Warn("No replacement for outlier at %d: %v", i, err)
			replaced[i] = true
			continue
		}
		if moved(values[i], v) {
			next[i] = v
		}
	}
	for i, v := range next {
		values[i] = v
		replaced[i] = true
	}
	return len(next)
}

// moved reports whether a replacement differs from the value beyond rounding.
func moved(old, v float64) bool {
	return math.Abs(old-v) > 1e-9*math.Max(1, math.Abs(old))
}

// bounds returns the window of length w around i, clipped to [0, n).
func bounds(n, i, w int) (lo, hi int) {
	lo = i - w/2
	if lo < 0 {
		lo = 0
	}
	hi = lo + w
	if hi > n {
		hi = n
		lo = hi - w
	}
	return lo, hi
}

func isOutlier(v []float64, i, w int, k float64) bool {
	lo, hi := bounds(len(v), i, w)
	win := v[lo:hi]
	med, err := stats.Median(win)
	if err != nil {
		panic(fmt.Sprintf("median: %v", err))
	}
	mad, err := stats.MedianAbsoluteDeviation(win)
	if err != nil {
		panic(fmt.Sprintf("mad: %v", err))
	}
	// Compared directly so a zero MAD never divides.
	return math.Abs(v[i]-med) > k*mad
}

// replacement forecasts position i from the unflagged points of its window,
// clamped to their observed range.
func replacement(values []float64, flagged []bool, i, w int, f Forecaster) (float64, error) {
	lo, hi := bounds(len(values), i, w)
	var obs []Observation
	lowest, highest := math.Inf(1), math.Inf(-1)
	for j := lo; j < hi; j++ {
		if flagged[j] {
			continue
		}
		obs = append(obs, Observation{Features: []float64{float64(j)}, Target: values[j]})
		lowest = math.Min(lowest, values[j])
		highest = math.Max(highest, values[j])
	}
	if len(obs) < 2 {
		return 0, fmt.Errorf("only %d clean points around %d", len(obs), i)
	}
	if err := f.Fit(obs); err != nil {
		return 0, err
	}
	v, err := f.Forecast([]float64{float64(i)})
	if err != nil {
		return 0, err
	}
	return generic.Clamp(v, lowest, highest), nil
}
