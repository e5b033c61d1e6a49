package indicator

import (
	"fmt"
	"math"

	"github.com/rewired-gh/quantstream/internal/models"
	"github.com/rewired-gh/quantstream/internal/stats"
)

// DMICross crosses the positive and negative directional indicators. The
// average directional index of the same period is kept alongside.
type DMICross struct {
	base
	tr      *stats.RollingMean
	plusDM  *stats.RollingMean
	minusDM *stats.RollingMean
	adx     *stats.RollingMean

	havePrev bool
	prev     models.Bar
	plusDI   float64
	minusDI  float64
}

func NewDMICross(name string, period int) (*DMICross, error) {
	if period < 2 {
		return nil, fmt.Errorf("%w: %s period %d must be at least 2", models.ErrInvalidConfig, name, period)
	}
	d := &DMICross{base: newBase(name, KindDMI, false)}
	for _, m := range []**stats.RollingMean{&d.tr, &d.plusDM, &d.minusDM, &d.adx} {
		rm, err := stats.NewRollingMean(period)
		if err != nil {
			return nil, err
		}
		*m = rm
	}
	return d, nil
}

func (d *DMICross) Update(b models.Bar) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.accept(b); err != nil {
		return err
	}
	d.commit(b.Time)
	if !d.havePrev {
		d.prev, d.havePrev = b, true
		return nil
	}

	tr := math.Max(b.High-b.Low, math.Max(math.Abs(b.High-d.prev.Close), math.Abs(b.Low-d.prev.Close)))
	up := b.High - d.prev.High
	down := d.prev.Low - b.Low
	plus, minus := 0.0, 0.0
	if up > down && up > 0 {
		plus = up
	}
	if down > up && down > 0 {
		minus = down
	}
	d.prev = b

	_ = d.tr.Update(models.NoTime, tr)
	_ = d.plusDM.Update(models.NoTime, plus)
	_ = d.minusDM.Update(models.NoTime, minus)

	d.plusDI, d.minusDI = 0, 0
	if atr := d.tr.Mean(); atr > 0 {
		d.plusDI = 100 * d.plusDM.Mean() / atr
		d.minusDI = 100 * d.minusDM.Mean() / atr
	}
	ready := d.tr.IsReady()
	if ready {
		dx := 0.0
		if sum := d.plusDI + d.minusDI; sum > 0 {
			dx = 100 * math.Abs(d.plusDI-d.minusDI) / sum
		}
		_ = d.adx.Update(models.NoTime, dx)
	}
	d.cross.observe(b.Time, d.plusDI, d.minusDI, ready)
	return nil
}

func (d *DMICross) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tr.IsReady()
}

// Value is +DI minus -DI.
func (d *DMICross) Value() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.plusDI - d.minusDI
}

func (d *DMICross) PlusDI() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.plusDI
}

func (d *DMICross) MinusDI() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.minusDI
}

// Adx returns the average directional index, meaningful once AdxReady.
func (d *DMICross) Adx() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.adx.Mean()
}

func (d *DMICross) AdxReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.adx.IsReady()
}

func (d *DMICross) Clone() CrossingIndicator {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &DMICross{
		base:     d.cloneBase(),
		tr:       d.tr.Clone(),
		plusDM:   d.plusDM.Clone(),
		minusDM:  d.minusDM.Clone(),
		adx:      d.adx.Clone(),
		havePrev: d.havePrev,
		prev:     d.prev,
		plusDI:   d.plusDI,
		minusDI:  d.minusDI,
	}
}
