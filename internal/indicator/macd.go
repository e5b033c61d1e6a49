package indicator

import (
	"fmt"

	"github.com/rewired-gh/quantstream/internal/models"
	"github.com/rewired-gh/quantstream/internal/stats"
)

// MACDCross crosses the MACD line (fast EMA minus slow EMA) with its signal
// EMA. The signal line is fed only once the slow EMA is ready.
type MACDCross struct {
	base
	fast   *stats.EMA
	slow   *stats.EMA
	signal *stats.EMA
}

func NewMACDCross(name string, fast, slow, signal int) (*MACDCross, error) {
	if err := validateWindows(name, fast, slow); err != nil {
		return nil, err
	}
	if signal < 1 {
		return nil, fmt.Errorf("%w: %s signal period %d must be positive", models.ErrInvalidConfig, name, signal)
	}
	f, err := stats.NewEMA(fast)
	if err != nil {
		return nil, err
	}
	s, err := stats.NewEMA(slow)
	if err != nil {
		return nil, err
	}
	sig, err := stats.NewEMA(signal)
	if err != nil {
		return nil, err
	}
	return &MACDCross{base: newBase(name, KindMACD, false), fast: f, slow: s, signal: sig}, nil
}

func (m *MACDCross) Update(b models.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.accept(b); err != nil {
		return err
	}
	_ = m.fast.Update(models.NoTime, b.Close)
	_ = m.slow.Update(models.NoTime, b.Close)
	if m.slow.IsReady() {
		_ = m.signal.Update(models.NoTime, m.macd())
	}
	m.commit(b.Time)
	m.cross.observe(b.Time, m.macd(), m.signal.Value(), m.signal.IsReady())
	return nil
}

func (m *MACDCross) macd() float64 { return m.fast.Value() - m.slow.Value() }

func (m *MACDCross) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signal.IsReady()
}

// Value is the histogram, MACD minus signal.
func (m *MACDCross) Value() float64 { return m.Histogram() }

func (m *MACDCross) Macd() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.macd()
}

func (m *MACDCross) Signal() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signal.Value()
}

func (m *MACDCross) Histogram() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.macd() - m.signal.Value()
}

func (m *MACDCross) Clone() CrossingIndicator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &MACDCross{
		base:   m.cloneBase(),
		fast:   m.fast.Clone(),
		slow:   m.slow.Clone(),
		signal: m.signal.Clone(),
	}
}
