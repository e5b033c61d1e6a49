// Package window provides fixed-capacity FIFO buffers of timestamped points.
package window

import (
	"fmt"
	"math"
	"time"

	"github.com/gammazero/deque"

	"github.com/rewired-gh/quantstream/internal/models"
)

// Point is anything that carries a timestamp and a value.
type Point interface {
	Stamp() time.Time
	Val() float64
}

// Window is an index-addressable bounded FIFO. Once more than capacity points
// have been pushed, every push evicts the oldest one.
type Window[T Point] struct {
	items    deque.Deque[T]
	capacity int
	last     time.Time
}

// New creates a window holding at most capacity points.
func New[T Point](capacity int) (*Window[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: window capacity %d must be at least 1", models.ErrInvalidConfig, capacity)
	}
	return &Window[T]{capacity: capacity}, nil
}

// Push appends p. When the window overflows the oldest point is removed and
// returned with ok set so callers can subtract it from parallel aggregates.
func (w *Window[T]) Push(p T) (evicted T, ok bool, err error) {
	if err := checkStamp(w.last, p.Stamp()); err != nil {
		return evicted, false, err
	}
	w.items.PushBack(p)
	if !p.Stamp().IsZero() {
		w.last = p.Stamp()
	}
	if w.items.Len() > w.capacity {
		return w.items.PopFront(), true, nil
	}
	return evicted, false, nil
}

// At returns the i-th point, oldest first. It panics when i is out of range.
func (w *Window[T]) At(i int) T { return w.items.At(i) }

func (w *Window[T]) First() T { return w.items.Front() }
func (w *Window[T]) Last() T  { return w.items.Back() }

func (w *Window[T]) Len() int   { return w.items.Len() }
func (w *Window[T]) Cap() int   { return w.capacity }
func (w *Window[T]) Full() bool { return w.items.Len() >= w.capacity }

// Min returns the smallest value in the window, or +Inf when empty.
func (w *Window[T]) Min() float64 {
	m := math.Inf(1)
	for i := 0; i < w.items.Len(); i++ {
		m = math.Min(m, w.items.At(i).Val())
	}
	return m
}

// Max returns the largest value in the window, or -Inf when empty.
func (w *Window[T]) Max() float64 {
	m := math.Inf(-1)
	for i := 0; i < w.items.Len(); i++ {
		m = math.Max(m, w.items.At(i).Val())
	}
	return m
}

// Values copies the window values, oldest first.
func (w *Window[T]) Values() []float64 {
	out := make([]float64, w.items.Len())
	for i := range out {
		out[i] = w.items.At(i).Val()
	}
	return out
}

// Clear drops every point and forgets the last accepted stamp.
func (w *Window[T]) Clear() {
	w.items.Clear()
	w.last = time.Time{}
}

// Clone returns an independent copy of the window.
func (w *Window[T]) Clone() *Window[T] {
	c := &Window[T]{capacity: w.capacity, last: w.last}
	for i := 0; i < w.items.Len(); i++ {
		c.items.PushBack(w.items.At(i))
	}
	return c
}

func checkStamp(last, next time.Time) error {
	if last.IsZero() || next.IsZero() {
		return nil
	}
	if next.Before(last) {
		return fmt.Errorf("%w: %s before %s", models.ErrInvalidTime, next.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
	}
	return nil
}
