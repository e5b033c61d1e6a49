// Package stats provides windowed statistics maintained from running sums, so
// each update costs O(1) regardless of the window length.
package stats

import (
	"fmt"
	"math"
	"time"

	"github.com/zyedidia/generic"

	"github.com/rewired-gh/quantstream/internal/models"
	"github.com/rewired-gh/quantstream/internal/window"
)

const (
	// VarianceEpsilon bounds the rounding noise expected in sumXX*n - sumX².
	VarianceEpsilon = 1e-5
	// SlopeEpsilon marks a degenerate regression (duplicate or constant x).
	SlopeEpsilon = 1e-6
	// StdDevFloor is the smallest std-dev a correlation is computed against.
	StdDevFloor = 1e-20
)

// Statistic is the read side shared by every rolling statistic.
type Statistic interface {
	IsReady() bool
	Value() float64
}

type pair struct {
	t    time.Time
	x, y float64
}

func (p pair) Stamp() time.Time { return p.t }
func (p pair) Val() float64     { return p.x }

// Accumulator mirrors a bounded window of (x, y) pairs with the sums
// Σx, Σx², Σxy, Σy, Σy². Every add is paired with the subtraction of the evicted pair.
type Accumulator struct {
	pairs *window.Queue[pair]

	count int
	sumX  float64
	sumXX float64
	sumXY float64
	sumY  float64
	sumYY float64

	last  time.Time
	lastX float64
	lastY float64
}

// NewAccumulator creates an accumulator over the last capacity pairs.
func NewAccumulator(capacity int) (*Accumulator, error) {
	q, err := window.NewQueue[pair](capacity)
	if err != nil {
		return nil, err
	}
	return &Accumulator{pairs: q}, nil
}

// Add folds (x, y) into the sums. A NaN/Inf value or a stamp not after the last
// accepted one is rejected and the state is left untouched.
func (a *Accumulator) Add(t time.Time, x, y float64) error {
	if !models.IsFinite(x) || !models.IsFinite(y) {
		return fmt.Errorf("%w: (%v, %v)", models.ErrInvalidValue, x, y)
	}
	if err := models.CheckOrder(a.last, t); err != nil {
		return err
	}
	evicted, ok, err := a.pairs.Push(pair{t: t, x: x, y: y})
	if err != nil {
		return err
	}

	a.count++
	a.sumX += x
	a.sumXX += x * x
	a.sumXY += x * y
	a.sumY += y
	a.sumYY += y * y

	if ok {
		a.count--
		a.sumX -= evicted.x
		a.sumXX -= evicted.x * evicted.x
		a.sumXY -= evicted.x * evicted.y
		a.sumY -= evicted.y
		a.sumYY -= evicted.y * evicted.y
	}

	if !t.IsZero() {
		a.last = t
	}
	a.lastX, a.lastY = x, y
	return nil
}

func (a *Accumulator) Count() int      { return a.count }
func (a *Accumulator) Capacity() int   { return a.pairs.Cap() }
func (a *Accumulator) Full() bool      { return a.count >= a.pairs.Cap() }
func (a *Accumulator) LastX() float64  { return a.lastX }
func (a *Accumulator) LastY() float64  { return a.lastY }
func (a *Accumulator) Last() time.Time { return a.last }

func (a *Accumulator) MeanX() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sumX / float64(a.count)
}

func (a *Accumulator) MeanY() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sumY / float64(a.count)
}

// VarianceX is the sample variance of x.
func (a *Accumulator) VarianceX() float64 {
	return sampleVariance(a.count, a.sumX, a.sumXX)
}

// VarianceY is the sample variance of y.
func (a *Accumulator) VarianceY() float64 {
	return sampleVariance(a.count, a.sumY, a.sumYY)
}

// Covariance is the sample covariance of x and y.
func (a *Accumulator) Covariance() float64 {
	if a.count <= 1 {
		return 0
	}
	n := float64(a.count)
	return (n*a.sumXY - a.sumX*a.sumY) / (n * (n - 1))
}

// Slope is the least-squares slope of y on x.
func (a *Accumulator) Slope() float64 {
	if a.count == 0 {
		return 0
	}
	n := float64(a.count)
	num := n*a.sumXY - a.sumX*a.sumY
	den := n*a.sumXX - a.sumX*a.sumX
	if math.Abs(num) < SlopeEpsilon && math.Abs(den) < SlopeEpsilon {
		return 0
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Intercept is the least-squares intercept of y on x.
func (a *Accumulator) Intercept() float64 {
	if a.count == 0 {
		return 0
	}
	return (a.sumY - a.Slope()*a.sumX) / float64(a.count)
}

// Correlation is Pearson's r, clamped into [-1, 1].
func (a *Accumulator) Correlation() float64 {
	if a.count <= 1 {
		return 0
	}
	sx := math.Sqrt(a.VarianceX())
	sy := math.Sqrt(a.VarianceY())
	if sx <= StdDevFloor || sy <= StdDevFloor {
		return 0
	}
	return generic.Clamp(a.Covariance()/(sx*sy), -1, 1)
}

// Clone deep-copies the accumulator and its window.
func (a *Accumulator) Clone() *Accumulator {
	c := *a
	c.pairs = a.pairs.Clone()
	return &c
}

// Reset empties the accumulator, keeping its capacity.
func (a *Accumulator) Reset() {
	q, _ := window.NewQueue[pair](a.pairs.Cap())
	*a = Accumulator{pairs: q}
}

func sampleVariance(count int, sum, sumSq float64) float64 {
	if count <= 1 {
		return 0
	}
	n := float64(count)
	v := (sumSq*n - sum*sum) / (n * (n - 1))
	// Anything below zero is rounding noise, normally within VarianceEpsilon.
	if v < 0 {
		return 0
	}
	return v
}
