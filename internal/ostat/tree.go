// Package ostat provides an order-statistic set (rank/select in O(log n)) and a
// sliding window built on it for rolling medians and extrema.
package ostat

// Entry is one element of the set. Entries order by Value, then by Index, so
// equal values inserted at different times stay distinct.
type Entry struct {
	Index int64
	Value float64
}

// Less reports whether e sorts before o.
func (e Entry) Less(o Entry) bool {
	if e.Value != o.Value {
		return e.Value < o.Value
	}
	return e.Index < o.Index
}

type node struct {
	entry       Entry
	priority    uint64
	size        int
	left, right *node
}

func (n *node) count() int {
	if n == nil {
		return 0
	}
	return n.size
}

func (n *node) fix() {
	n.size = 1 + n.left.count() + n.right.count()
}

// Tree is a size-augmented treap. The zero value is an empty set.
type Tree struct {
	root *node
	seed uint64
}

// Len returns the number of entries.
func (t *Tree) Len() int { return t.root.count() }

// nextPriority is splitmix64; deterministic so runs are reproducible.
func (t *Tree) nextPriority() uint64 {
	t.seed += 0x9e3779b97f4a7c15
	z := t.seed
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// split partitions n into entries < e and entries >= e.
func split(n *node, e Entry) (l, r *node) {
	if n == nil {
		return nil, nil
	}
	if n.entry.Less(e) {
		n.right, r = split(n.right, e)
		n.fix()
		return n, r
	}
	l, n.left = split(n.left, e)
	n.fix()
	return l, n
}

func merge(l, r *node) *node {
	if l == nil {
		return r
	}
	if r == nil {
		return l
	}
	if l.priority > r.priority {
		l.right = merge(l.right, r)
		l.fix()
		return l
	}
	r.left = merge(l, r.left)
	r.fix()
	return r
}

// Insert adds e. Inserting an entry already present is a no-op.
func (t *Tree) Insert(e Entry) {
	if t.Contains(e) {
		return
	}
	l, r := split(t.root, e)
	n := &node{entry: e, priority: t.nextPriority(), size: 1}
	t.root = merge(merge(l, n), r)
}

// Delete removes e and reports whether it was present.
func (t *Tree) Delete(e Entry) bool {
	var removed bool
	t.root, removed = remove(t.root, e)
	return removed
}

func remove(n *node, e Entry) (*node, bool) {
	if n == nil {
		return nil, false
	}
	var removed bool
	switch {
	case e == n.entry:
		return merge(n.left, n.right), true
	case e.Less(n.entry):
		n.left, removed = remove(n.left, e)
	default:
		n.right, removed = remove(n.right, e)
	}
	if removed {
		n.fix()
	}
	return n, removed
}

// Contains reports whether e is in the set.
func (t *Tree) Contains(e Entry) bool {
	n := t.root
	for n != nil {
		switch {
		case e == n.entry:
			return true
		case e.Less(n.entry):
			n = n.left
		default:
			n = n.right
		}
	}
	return false
}

// Select returns the k-th smallest entry (0-based). ok is false when k is out of range.
func (t *Tree) Select(k int) (Entry, bool) {
	if k < 0 || k >= t.Len() {
		return Entry{}, false
	}
	n := t.root
	for {
		ls := n.left.count()
		switch {
		case k < ls:
			n = n.left
		case k == ls:
			return n.entry, true
		default:
			k -= ls + 1
			n = n.right
		}
	}
}

// Rank returns the number of entries strictly less than e.
func (t *Tree) Rank(e Entry) int {
	rank := 0
	n := t.root
	for n != nil {
		if n.entry.Less(e) {
			rank += n.left.count() + 1
			n = n.right
		} else {
			n = n.left
		}
	}
	return rank
}

func (t *Tree) Min() (Entry, bool) { return t.Select(0) }
func (t *Tree) Max() (Entry, bool) { return t.Select(t.Len() - 1) }

// Median returns the median value: the middle entry for odd sizes, the mean of
// the two middle entries for even sizes. ok is false for an empty set.
func (t *Tree) Median() (float64, bool) {
	n := t.Len()
	if n == 0 {
		return 0, false
	}
	hi, _ := t.Select(n / 2)
	if n%2 == 1 {
		return hi.Value, true
	}
	lo, _ := t.Select(n/2 - 1)
	return (lo.Value + hi.Value) / 2, true
}

// Clone deep-copies the set.
func (t *Tree) Clone() *Tree {
	return &Tree{root: cloneNode(t.root), seed: t.seed}
}

func cloneNode(n *node) *node {
	if n == nil {
		return nil
	}
	c := *n
	c.left = cloneNode(n.left)
	c.right = cloneNode(n.right)
	return &c
}

// Ascend calls fn for every entry in order until fn returns false.
func (t *Tree) Ascend(fn func(Entry) bool) {
	ascend(t.root, fn)
}

func ascend(n *node, fn func(Entry) bool) bool {
	if n == nil {
		return true
	}
	if !ascend(n.left, fn) {
		return false
	}
	if !fn(n.entry) {
		return false
	}
	return ascend(n.right, fn)
}
