// Package swing finds swing highs and lows and joins them into a zigzag of
// alternating peaks and troughs.
package swing

import (
	"github.com/edwingeng/deque/v2"
	"github.com/zyedidia/generic"

	"github.com/rewired-gh/quantstream/internal/ostat"
)

// Tracker holds the last depth samples and answers their lowest and highest in
// O(log depth). New samples wait in a short staging list and move into the
// order-statistic set in arrival order, so most pushes touch only the list.
type Tracker struct {
	depth   int
	cut     int
	staging []ostat.Entry
	tree    ostat.Tree
	order   *deque.Deque[ostat.Entry]
}

// NewTracker creates a tracker over the last depth samples. depth below 1 is
// treated as 1.
func NewTracker(depth int) *Tracker {
	depth = generic.Max(depth, 1)
	cut := generic.Max(depth/3, 1)
	return &Tracker{
		depth:   depth,
		cut:     cut,
		staging: make([]ostat.Entry, 0, cut+1),
		order:   deque.NewDeque[ostat.Entry](),
	}
}

// Push records value at index. Indices must increase.
func (t *Tracker) Push(index int64, value float64) {
	t.staging = append(t.staging, ostat.Entry{Index: index, Value: value})
	if len(t.staging) > t.cut {
		e := t.staging[0]
		copy(t.staging, t.staging[1:])
		t.staging = t.staging[:len(t.staging)-1]
		t.tree.Insert(e)
		t.order.PushBack(e)
	}
	for t.Len() > t.depth && t.order.Len() > 0 {
		t.tree.Delete(t.order.PopFront())
	}
}

// Len returns the number of samples held, never more than depth.
func (t *Tracker) Len() int { return len(t.staging) + t.tree.Len() }

// Lowest returns the smallest held sample; ties go to the older one.
func (t *Tracker) Lowest() (ostat.Entry, bool) {
	best, ok := t.tree.Min()
	for _, e := range t.staging {
		if !ok || e.Less(best) {
			best, ok = e, true
		}
	}
	return best, ok
}

// Highest returns the largest held sample; ties go to the newer one.
func (t *Tracker) Highest() (ostat.Entry, bool) {
	best, ok := t.tree.Max()
	for _, e := range t.staging {
		if !ok || best.Less(e) {
			best, ok = e, true
		}
	}
	return best, ok
}
