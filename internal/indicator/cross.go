// Package indicator implements crossing indicators: pairs of fast and slow
// statistics whose relative order flips are reported as crossings.
package indicator

import (
	"time"

	"github.com/rewired-gh/quantstream/internal/models"
)

// Crossing describes one detected crossing.
type Crossing struct {
	Indicator string
	Direction models.Direction
	Time      time.Time
	Fast      float64
	Slow      float64
}

// Observer is invoked synchronously from Update when a crossing is detected.
// It must not call back into the indicator that invoked it.
type Observer func(Crossing)

// Cross is the crossing state machine shared by every indicator. The direction
// is fast > slow (fast < slow when inverted); the first ready pair sets the
// initial direction and every later change records a crossing.
type Cross struct {
	name     string
	inverted bool

	initialized bool
	goingUp     bool
	crossed     bool
	crossTime   time.Time
	crossDir    models.Direction
	lastFast    float64
	lastSlow    float64

	observers []Observer
}

func newCross(name string, inverted bool) Cross {
	return Cross{name: name, inverted: inverted}
}

// observe feeds the latest pair and reports whether it crossed.
func (c *Cross) observe(t time.Time, fast, slow float64, ready bool) bool {
	c.lastFast, c.lastSlow = fast, slow
	if !ready {
		return false
	}
	up := fast > slow
	if c.inverted {
		up = fast < slow
	}
	if !c.initialized {
		c.initialized = true
		c.goingUp = up
		return false
	}
	if up == c.goingUp {
		return false
	}

	c.goingUp = up
	c.crossed = true
	c.crossTime = t
	c.crossDir = models.Down
	if up {
		c.crossDir = models.Up
	}

	ev := Crossing{Indicator: c.name, Direction: c.crossDir, Time: t, Fast: fast, Slow: slow}
	for _, o := range c.observers {
		o(ev)
	}
	return true
}

// clone copies the state without observers; they belong to the original.
func (c *Cross) clone() Cross {
	cp := *c
	cp.observers = nil
	return cp
}
