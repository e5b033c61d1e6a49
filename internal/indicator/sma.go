package indicator

import (
	"github.com/rewired-gh/quantstream/internal/models"
	"github.com/rewired-gh/quantstream/internal/stats"
)

// SMACross crosses a fast and a slow simple moving average of the close.
type SMACross struct {
	base
	fast *stats.RollingMean
	slow *stats.RollingMean
}

func NewSMACross(name string, fast, slow int) (*SMACross, error) {
	if err := validateWindows(name, fast, slow); err != nil {
		return nil, err
	}
	f, err := stats.NewRollingMean(fast)
	if err != nil {
		return nil, err
	}
	s, err := stats.NewRollingMean(slow)
	if err != nil {
		return nil, err
	}
	return &SMACross{base: newBase(name, KindSMA, false), fast: f, slow: s}, nil
}

func (s *SMACross) Update(b models.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.accept(b); err != nil {
		return err
	}
	_ = s.fast.Update(models.NoTime, b.Close)
	_ = s.slow.Update(models.NoTime, b.Close)
	s.commit(b.Time)
	s.cross.observe(b.Time, s.fast.Mean(), s.slow.Mean(), s.slow.IsReady())
	return nil
}

func (s *SMACross) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slow.IsReady()
}

// Value is the spread between the fast and slow averages.
func (s *SMACross) Value() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fast.Mean() - s.slow.Mean()
}

func (s *SMACross) Fast() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fast.Mean()
}

func (s *SMACross) Slow() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slow.Mean()
}

func (s *SMACross) Clone() CrossingIndicator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &SMACross{base: s.cloneBase(), fast: s.fast.Clone(), slow: s.slow.Clone()}
}
