package stats

import (
	"math"
	"time"
)

// RollingMean is the arithmetic mean of the last N values.
type RollingMean struct {
	acc *Accumulator
}

func NewRollingMean(capacity int) (*RollingMean, error) {
	acc, err := NewAccumulator(capacity)
	if err != nil {
		return nil, err
	}
	return &RollingMean{acc: acc}, nil
}

func (m *RollingMean) Update(t time.Time, v float64) error { return m.acc.Add(t, v, 0) }
func (m *RollingMean) Mean() float64                       { return m.acc.MeanX() }
func (m *RollingMean) Value() float64                      { return m.acc.MeanX() }
func (m *RollingMean) IsReady() bool                       { return m.acc.Full() }
func (m *RollingMean) Count() int                          { return m.acc.Count() }
func (m *RollingMean) Reset()                              { m.acc.Reset() }
func (m *RollingMean) Clone() *RollingMean                 { return &RollingMean{acc: m.acc.Clone()} }

// RollingStdDev is the sample standard deviation of the last N values.
// Until the window fills it reports the last observation instead of a
// spurious zero.
type RollingStdDev struct {
	acc *Accumulator
}

func NewRollingStdDev(capacity int) (*RollingStdDev, error) {
	acc, err := NewAccumulator(capacity)
	if err != nil {
		return nil, err
	}
	return &RollingStdDev{acc: acc}, nil
}

func (s *RollingStdDev) Update(t time.Time, v float64) error { return s.acc.Add(t, v, 0) }

func (s *RollingStdDev) StdDev() float64 {
	if !s.acc.Full() {
		return s.acc.LastX()
	}
	return math.Sqrt(s.acc.VarianceX())
}

func (s *RollingStdDev) Variance() float64     { return s.acc.VarianceX() }
func (s *RollingStdDev) Mean() float64         { return s.acc.MeanX() }
func (s *RollingStdDev) Value() float64        { return s.StdDev() }
func (s *RollingStdDev) IsReady() bool         { return s.acc.Full() }
func (s *RollingStdDev) Count() int            { return s.acc.Count() }
func (s *RollingStdDev) Reset()                { s.acc.Reset() }
func (s *RollingStdDev) Clone() *RollingStdDev { return &RollingStdDev{acc: s.acc.Clone()} }

// RollingRegression is an ordinary least-squares fit y = slope*x + intercept
// over the last N pairs.
type RollingRegression struct {
	acc *Accumulator
}

func NewRollingRegression(capacity int) (*RollingRegression, error) {
	acc, err := NewAccumulator(capacity)
	if err != nil {
		return nil, err
	}
	return &RollingRegression{acc: acc}, nil
}

func (r *RollingRegression) Update(t time.Time, x, y float64) error { return r.acc.Add(t, x, y) }
func (r *RollingRegression) Slope() float64                         { return r.acc.Slope() }
func (r *RollingRegression) Intercept() float64                     { return r.acc.Intercept() }
func (r *RollingRegression) Value() float64                         { return r.acc.Slope() }
func (r *RollingRegression) IsReady() bool                          { return r.acc.Full() }
func (r *RollingRegression) Count() int                             { return r.acc.Count() }
func (r *RollingRegression) Reset()                                 { r.acc.Reset() }
func (r *RollingRegression) Clone() *RollingRegression {
	return &RollingRegression{acc: r.acc.Clone()}
}

// Predict evaluates the fitted line at x.
func (r *RollingRegression) Predict(x float64) float64 {
	return r.acc.Slope()*x + r.acc.Intercept()
}

// RollingCorrelation is Pearson's r over the last N pairs.
type RollingCorrelation struct {
	acc *Accumulator
}

func NewRollingCorrelation(capacity int) (*RollingCorrelation, error) {
	acc, err := NewAccumulator(capacity)
	if err != nil {
		return nil, err
	}
	return &RollingCorrelation{acc: acc}, nil
}

func (c *RollingCorrelation) Update(t time.Time, x, y float64) error { return c.acc.Add(t, x, y) }
func (c *RollingCorrelation) Correlation() float64                   { return c.acc.Correlation() }
func (c *RollingCorrelation) Covariance() float64                    { return c.acc.Covariance() }
func (c *RollingCorrelation) Value() float64                         { return c.acc.Correlation() }
func (c *RollingCorrelation) IsReady() bool                          { return c.acc.Full() }
func (c *RollingCorrelation) Count() int                             { return c.acc.Count() }
func (c *RollingCorrelation) Reset()                                 { c.acc.Reset() }
func (c *RollingCorrelation) Clone() *RollingCorrelation {
	return &RollingCorrelation{acc: c.acc.Clone()}
}
