package ostat

import (
	"fmt"

	"github.com/edwingeng/deque/v2"

	"github.com/rewired-gh/quantstream/internal/models"
)

// Rolling keeps the last capacity values in a Tree. The tree owns the ranking and
// a FIFO of entries owns the eviction order.
type Rolling struct {
	tree     *Tree
	order    *deque.Deque[Entry]
	capacity int
	next     int64
}

// NewRolling creates a sliding order-statistic window.
func NewRolling(capacity int) (*Rolling, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: rolling capacity %d must be at least 1", models.ErrInvalidConfig, capacity)
	}
	return &Rolling{
		tree:     &Tree{},
		order:    deque.NewDeque[Entry](),
		capacity: capacity,
	}, nil
}

// Push adds v and evicts the oldest value once the window is over capacity.
// It returns the evicted entry, if any.
func (r *Rolling) Push(v float64) (evicted Entry, ok bool) {
	e := Entry{Index: r.next, Value: v}
	r.next++
	r.tree.Insert(e)
	r.order.PushBack(e)
	if r.order.Len() > r.capacity {
		evicted = r.order.PopFront()
		r.tree.Delete(evicted)
		return evicted, true
	}
	return evicted, false
}

func (r *Rolling) Len() int   { return r.order.Len() }
func (r *Rolling) Cap() int   { return r.capacity }
func (r *Rolling) Full() bool { return r.order.Len() >= r.capacity }

func (r *Rolling) Median() (float64, bool) { return r.tree.Median() }
func (r *Rolling) Min() (Entry, bool)      { return r.tree.Min() }
func (r *Rolling) Max() (Entry, bool)      { return r.tree.Max() }

// Quantile returns the value at rank floor(q*(n-1)).
func (r *Rolling) Quantile(q float64) (float64, bool) {
	n := r.tree.Len()
	if n == 0 || q < 0 || q > 1 {
		return 0, false
	}
	e, ok := r.tree.Select(int(q * float64(n-1)))
	return e.Value, ok
}

// Clone deep-copies the window.
func (r *Rolling) Clone() *Rolling {
	c := &Rolling{
		tree:     r.tree.Clone(),
		order:    deque.NewDeque[Entry](),
		capacity: r.capacity,
		next:     r.next,
	}
	for n := r.order.Len(); n > 0; n-- {
		e := r.order.PopFront()
		r.order.PushBack(e)
		c.order.PushBack(e)
	}
	return c
}
