package indicator

import (
	"fmt"

	"github.com/zyedidia/generic"

	"github.com/rewired-gh/quantstream/internal/models"
	"github.com/rewired-gh/quantstream/internal/stats"
	"github.com/rewired-gh/quantstream/internal/window"
)

// minRebase is the fewest bars between two rebases of the regression x axis.
const minRebase = 4096

// RegressionCross crosses the close with the least-squares line fitted over the
// last period closes, evaluated at the current bar.
//
// Bars are fed at x = index - origin. The origin moves up to the oldest close
// every rebase bars and the fit is rebuilt from the kept closes, so x and the
// running sums stay small however long the stream runs.
type RegressionCross struct {
	base
	reg       *stats.RollingRegression
	closes    *window.Window[models.Sample]
	index     int64
	origin    int64
	rebase    int64
	lastClose float64
	fit       float64
}

func NewRegressionCross(name string, period int) (*RegressionCross, error) {
	if period < 2 {
		return nil, fmt.Errorf("%w: %s period %d must be at least 2", models.ErrInvalidConfig, name, period)
	}
	reg, err := stats.NewRollingRegression(period)
	if err != nil {
		return nil, err
	}
	closes, err := window.New[models.Sample](period)
	if err != nil {
		return nil, err
	}
	return &RegressionCross{
		base:   newBase(name, KindRegression, false),
		reg:    reg,
		closes: closes,
		rebase: int64(generic.Max(minRebase, 4*period)),
	}, nil
}

func (r *RegressionCross) Update(b models.Bar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.accept(b); err != nil {
		return err
	}
	x := float64(r.index - r.origin)
	_ = r.reg.Update(models.NoTime, x, b.Close)
	_, _, _ = r.closes.Push(models.Sample{Time: models.NoTime, Value: b.Close})
	r.index++
	r.commit(b.Time)
	r.lastClose = b.Close
	r.fit = r.reg.Predict(x)
	r.cross.observe(b.Time, r.lastClose, r.fit, r.reg.IsReady())
	if r.index-r.origin >= r.rebase {
		r.rebuild()
	}
	return nil
}

// rebuild moves the origin to the oldest kept close and refits from scratch.
func (r *RegressionCross) rebuild() {
	values := r.closes.Values()
	r.origin = r.index - int64(len(values))
	r.reg.Reset()
	for i, v := range values {
		_ = r.reg.Update(models.NoTime, float64(i), v)
	}
}

func (r *RegressionCross) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg.IsReady()
}

// Value is the residual of the latest close against the fitted line.
func (r *RegressionCross) Value() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastClose - r.fit
}

func (r *RegressionCross) Slope() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg.Slope()
}

// Forecast projects the fitted line ahead bars beyond the latest one.
func (r *RegressionCross) Forecast(ahead int) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg.Predict(float64(r.index - r.origin - 1 + int64(ahead)))
}

func (r *RegressionCross) Clone() CrossingIndicator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &RegressionCross{
		base:      r.cloneBase(),
		reg:       r.reg.Clone(),
		closes:    r.closes.Clone(),
		index:     r.index,
		origin:    r.origin,
		rebase:    r.rebase,
		lastClose: r.lastClose,
		fit:       r.fit,
	}
}
