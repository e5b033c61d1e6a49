package indicator

import (
	"fmt"

	"github.com/rewired-gh/quantstream/internal/models"
	"github.com/rewired-gh/quantstream/internal/stats"
	"github.com/rewired-gh/quantstream/internal/window"
)

// StochasticCross crosses %K, the close's position inside the high/low range of
// the last period bars, with %D, a moving average of %K.
type StochasticCross struct {
	base
	highs *window.Window[models.Sample]
	lows  *window.Window[models.Sample]
	d     *stats.RollingMean
	k     float64
}

func NewStochasticCross(name string, period, smooth int) (*StochasticCross, error) {
	if period < 2 || smooth < 1 {
		return nil, fmt.Errorf("%w: %s period %d / smoothing %d out of range", models.ErrInvalidConfig, name, period, smooth)
	}
	highs, err := window.New[models.Sample](period)
	if err != nil {
		return nil, err
	}
	lows, err := window.New[models.Sample](period)
	if err != nil {
		return nil, err
	}
	d, err := stats.NewRollingMean(smooth)
	if err != nil {
		return nil, err
	}
	return &StochasticCross{base: newBase(name, KindStochastic, false), highs: highs, lows: lows, d: d}, nil
}

func (s *StochasticCross) Update(b models.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.accept(b); err != nil {
		return err
	}
	if _, _, err := s.highs.Push(models.Sample{Time: b.Time, Value: b.High}); err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	_, _, _ = s.lows.Push(models.Sample{Time: b.Time, Value: b.Low})
	s.commit(b.Time)

	hh, ll := s.highs.Max(), s.lows.Min()
	s.k = 50
	if hh > ll {
		s.k = 100 * (b.Close - ll) / (hh - ll)
	}
	ready := s.highs.Full()
	if ready {
		_ = s.d.Update(models.NoTime, s.k)
	}
	s.cross.observe(b.Time, s.k, s.d.Mean(), ready && s.d.IsReady())
	return nil
}

func (s *StochasticCross) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.IsReady()
}

// Value is %K minus %D.
func (s *StochasticCross) Value() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.k - s.d.Mean()
}

func (s *StochasticCross) K() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.k
}

func (s *StochasticCross) D() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Mean()
}

func (s *StochasticCross) Clone() CrossingIndicator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &StochasticCross{
		base:  s.cloneBase(),
		highs: s.highs.Clone(),
		lows:  s.lows.Clone(),
		d:     s.d.Clone(),
		k:     s.k,
	}
}
