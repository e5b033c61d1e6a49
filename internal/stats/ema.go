package stats

import (
	"fmt"
	"time"

	"github.com/rewired-gh/quantstream/internal/models"
)

// EMA is an exponential moving average with smoothing 2/(period+1), seeded with
// the first observation. It is ready after period observations.
type EMA struct {
	period int
	alpha  float64
	value  float64
	count  int
	last   time.Time
}

func NewEMA(period int) (*EMA, error) {
	if period < 1 {
		return nil, fmt.Errorf("%w: EMA period %d must be at least 1", models.ErrInvalidConfig, period)
	}
	return &EMA{period: period, alpha: 2 / float64(period+1)}, nil
}

func (e *EMA) Update(t time.Time, v float64) error {
	if !models.IsFinite(v) {
		return fmt.Errorf("%w: %v", models.ErrInvalidValue, v)
	}
	if err := models.CheckOrder(e.last, t); err != nil {
		return err
	}
	if e.count == 0 {
		e.value = v
	} else {
		e.value += e.alpha * (v - e.value)
	}
	e.count++
	if !t.IsZero() {
		e.last = t
	}
	return nil
}

func (e *EMA) Value() float64 { return e.value }
func (e *EMA) IsReady() bool  { return e.count >= e.period }
func (e *EMA) Period() int    { return e.period }
func (e *EMA) Clone() *EMA    { c := *e; return &c }
func (e *EMA) Reset()         { *e = EMA{period: e.period, alpha: e.alpha} }
