package indicator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/quantstream/internal/models"
)

// Indicator is the contract every technical indicator satisfies.
type Indicator interface {
	Name() string
	Kind() Kind
	Update(b models.Bar) error
	IsReady() bool
	Value() float64
}

// CrossingIndicator is an Indicator that reports crossings of two internal signals.
type CrossingIndicator interface {
	Indicator
	IsGoingUp() bool
	TimeOfCrossing() time.Time
	LastCrossDirection() (models.Direction, bool)
	Subscribe(o Observer)
	Clone() CrossingIndicator
}

// Kind enumerates the concrete indicators.
type Kind int

const (
	KindSMA Kind = iota
	KindMACD
	KindStochastic
	KindDMI
	KindRegression
)

var kindNames = map[Kind]string{
	KindSMA:        "sma",
	KindMACD:       "macd",
	KindStochastic: "stochastic",
	KindDMI:        "dmi",
	KindRegression: "regression",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a config name to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown indicator kind %q", models.ErrInvalidConfig, s)
}

// Params holds the window lengths an indicator uses. Fields a kind does not
// use are ignored; zero fields take that kind's defaults. Inverted flips the
// comparison so fast < slow counts as going up.
type Params struct {
	Fast     int  `mapstructure:"fast"`
	Slow     int  `mapstructure:"slow"`
	Signal   int  `mapstructure:"signal"`
	Period   int  `mapstructure:"period"`
	Inverted bool `mapstructure:"inverted"`
}

// DefaultParams returns the conventional settings for kind.
func DefaultParams(kind Kind) Params {
	switch kind {
	case KindSMA:
		return Params{Fast: 10, Slow: 30}
	case KindMACD:
		return Params{Fast: 12, Slow: 26, Signal: 9}
	case KindStochastic:
		return Params{Period: 14, Signal: 3}
	case KindDMI:
		return Params{Period: 14}
	case KindRegression:
		return Params{Period: 20}
	}
	return Params{}
}

func (p Params) withDefaults(kind Kind) Params {
	d := DefaultParams(kind)
	if p.Fast == 0 {
		p.Fast = d.Fast
	}
	if p.Slow == 0 {
		p.Slow = d.Slow
	}
	if p.Signal == 0 {
		p.Signal = d.Signal
	}
	if p.Period == 0 {
		p.Period = d.Period
	}
	return p
}

// New builds the indicator of the given kind. An empty name defaults to the kind name.
func New(kind Kind, name string, p Params) (CrossingIndicator, error) {
	if name == "" {
		name = kind.String()
	}
	p = p.withDefaults(kind)
	var (
		ind CrossingIndicator
		err error
	)
	switch kind {
	case KindSMA:
		ind, err = NewSMACross(name, p.Fast, p.Slow)
	case KindMACD:
		ind, err = NewMACDCross(name, p.Fast, p.Slow, p.Signal)
	case KindStochastic:
		ind, err = NewStochasticCross(name, p.Period, p.Signal)
	case KindDMI:
		ind, err = NewDMICross(name, p.Period)
	case KindRegression:
		ind, err = NewRegressionCross(name, p.Period)
	default:
		return nil, fmt.Errorf("%w: unknown indicator kind %d", models.ErrInvalidConfig, int(kind))
	}
	if err != nil {
		return nil, err
	}
	if p.Inverted {
		ind.(inverter).invert()
	}
	return ind, nil
}

type inverter interface{ invert() }

func (b *base) invert() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cross.inverted = true
}

// base carries the lock, the crossing state and the ordering check shared by
// the concrete indicators. The lock is held for a whole Update.
type base struct {
	mu    sync.Mutex
	name  string
	kind  Kind
	cross Cross
	last  time.Time
}

func newBase(name string, kind Kind, inverted bool) base {
	return base{name: name, kind: kind, cross: newCross(name, inverted)}
}

func (b *base) Name() string { return b.name }
func (b *base) Kind() Kind   { return b.kind }

// accept validates bar against the value rules and the last accepted stamp.
func (b *base) accept(bar models.Bar) error {
	if err := bar.Validate(); err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	if err := models.CheckOrder(b.last, bar.Time); err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	return nil
}

func (b *base) commit(t time.Time) {
	if !t.IsZero() {
		b.last = t
	}
}

func (b *base) IsGoingUp() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cross.goingUp
}

// TimeOfCrossing returns the stamp of the most recent crossing, or the zero time.
func (b *base) TimeOfCrossing() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cross.crossTime
}

// LastCrossDirection returns the direction of the most recent crossing; ok is
// false until one has happened.
func (b *base) LastCrossDirection() (models.Direction, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cross.crossDir, b.cross.crossed
}

func (b *base) Subscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cross.observers = append(b.cross.observers, o)
}

func (b *base) cloneBase() base {
	return base{name: b.name, kind: b.kind, cross: b.cross.clone(), last: b.last}
}

func validateWindows(name string, fast, slow int) error {
	if fast < 1 || slow < 1 {
		return fmt.Errorf("%w: %s windows must be positive (fast %d, slow %d)", models.ErrInvalidConfig, name, fast, slow)
	}
	if fast >= slow {
		return fmt.Errorf("%w: %s fast window %d must be shorter than slow window %d", models.ErrInvalidConfig, name, fast, slow)
	}
	return nil
}
