package window

import (
	"fmt"
	"time"

	"github.com/edwingeng/deque/v2"

	"github.com/rewired-gh/quantstream/internal/models"
)

// Queue is the append/evict-only bounded FIFO used under running aggregates.
// It never exposes interior points.
type Queue[T Point] struct {
	items    *deque.Deque[T]
	capacity int
	last     time.Time
}

// NewQueue creates a queue holding at most capacity points.
func NewQueue[T Point](capacity int) (*Queue[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: queue capacity %d must be at least 1", models.ErrInvalidConfig, capacity)
	}
	return &Queue[T]{items: deque.NewDeque[T](), capacity: capacity}, nil
}

// Push appends p and returns the evicted oldest point when the queue overflows.
func (q *Queue[T]) Push(p T) (evicted T, ok bool, err error) {
	if err := checkStamp(q.last, p.Stamp()); err != nil {
		return evicted, false, err
	}
	q.items.PushBack(p)
	if !p.Stamp().IsZero() {
		q.last = p.Stamp()
	}
	if q.items.Len() > q.capacity {
		return q.items.PopFront(), true, nil
	}
	return evicted, false, nil
}

func (q *Queue[T]) Len() int   { return q.items.Len() }
func (q *Queue[T]) Cap() int   { return q.capacity }
func (q *Queue[T]) Full() bool { return q.items.Len() >= q.capacity }

// Clone returns an independent copy. The source is rotated through once, so its
// order is preserved.
func (q *Queue[T]) Clone() *Queue[T] {
	c := &Queue[T]{items: deque.NewDeque[T](), capacity: q.capacity, last: q.last}
	for n := q.items.Len(); n > 0; n-- {
		p := q.items.PopFront()
		q.items.PushBack(p)
		c.items.PushBack(p)
	}
	return c
}
