// Package skiplist implements an indexed skip list of variable-length items.
//
// Every link carries the number of characters it skips over, so a character
// position can be found in O(log n) expected steps where n is the number of
// items, not characters. Nodes live in an arena and are referred to from the
// outside by Marker handles. Any change to an item is reported to the
// NotifyTarget before the mutating call returns.
package skiplist

import (
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
)

const (
	DefaultMaxHeight = 20
	maxMaxHeight     = 32
)

var (
	ErrOutOfRange      = errors.New("position out of range")
	ErrSplitOutOfRange = errors.New("split offset out of range")
	ErrStaleMarker     = errors.New("stale marker")
	ErrNoPrevItem      = errors.New("no item before cursor")
	ErrInvalidModify   = errors.New("modify may only grow an item")
	ErrEmptyItem       = errors.New("item has zero length")
)

// Item is a run of characters stored in the list.
type Item[T any] interface {
	Len() int
	// Split cuts the item so that the first half holds at characters.
	// Callers guarantee 0 < at < Len().
	Split(at int) (T, T)
}

// NotifyTarget observes every item the list creates, splits or resizes.
type NotifyTarget[T any] interface {
	Notify(item T, m Marker)
}

// NotifyFunc adapts a plain function to NotifyTarget.
type NotifyFunc[T any] func(item T, m Marker)

func (f NotifyFunc[T]) Notify(item T, m Marker) { f(item, m) }

// Marker is a stable handle to the node currently holding an item. It goes
// stale when the node is split; the zero Marker is the null handle.
type Marker struct {
	idx uint32
	gen uint32
}

func (m Marker) IsNull() bool { return m.idx == 0 }

func (m Marker) String() string {
	if m.IsNull() {
		return "marker(null)"
	}
	return fmt.Sprintf("marker(%d/%d)", m.idx, m.gen)
}

type link struct {
	next  uint32 // 0 is nil, the head is never a successor
	width int    // characters in (this node, next]
}

type node[T any] struct {
	item  T
	gen   uint32
	links []link
}

type SkipList[T Item[T]] struct {
	nodes     []node[T] // nodes[0] is the head sentinel
	target    NotifyTarget[T]
	rng       *rand.Rand
	maxHeight int
	length    int
	count     int
}

type options struct {
	maxHeight int
	seed      uint64
	seeded    bool
}

type Option func(*options)

// WithMaxHeight caps the tower height of every node.
func WithMaxHeight(h int) Option {
	return func(o *options) { o.maxHeight = h }
}

// WithSeed makes node heights deterministic.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
		o.seeded = true
	}
}

// New returns an empty list reporting changes to target. target may be nil.
func New[T Item[T]](target NotifyTarget[T], opts ...Option) *SkipList[T] {
	o := options{maxHeight: DefaultMaxHeight}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.seeded {
		o.seed = rand.Uint64()
	}
	if o.maxHeight <= 0 {
		o.maxHeight = DefaultMaxHeight
	}
	o.maxHeight = min(o.maxHeight, maxMaxHeight)

	l := &SkipList[T]{
		target:    target,
		rng:       rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15)),
		maxHeight: o.maxHeight,
	}
	l.nodes = append(l.nodes, node[T]{links: make([]link, o.maxHeight)})
	return l
}

// Len returns the total number of characters across all items.
func (l *SkipList[T]) Len() int { return l.length }

// NumItems returns the number of items.
func (l *SkipList[T]) NumItems() int { return l.count }

// Lookup returns the item behind m, or ErrStaleMarker if the node has changed
// shape since m was handed out.
func (l *SkipList[T]) Lookup(m Marker) (T, error) {
	var zero T
	if m.IsNull() || int(m.idx) >= len(l.nodes) {
		return zero, fmt.Errorf("%w: %v", ErrStaleMarker, m)
	}
	n := &l.nodes[m.idx]
	if n.gen != m.gen {
		return zero, fmt.Errorf("%w: %v, node at generation %d", ErrStaleMarker, m, n.gen)
	}
	return n.item, nil
}

// All yields every item in order together with its current marker.
func (l *SkipList[T]) All() iter.Seq2[Marker, T] {
	return func(yield func(Marker, T) bool) {
		for x := l.nodes[0].links[0].next; x != 0; x = l.nodes[x].links[0].next {
			if !yield(l.marker(x), l.nodes[x].item) {
				return
			}
		}
	}
}

// Items returns a copy of all items in order.
func (l *SkipList[T]) Items() []T {
	items := make([]T, 0, l.count)
	for _, item := range l.All() {
		items = append(items, item)
	}
	return items
}

func (l *SkipList[T]) marker(idx uint32) Marker {
	return Marker{idx: idx, gen: l.nodes[idx].gen}
}

func (l *SkipList[T]) notify(idx uint32) {
	if l.target != nil {
		l.target.Notify(l.nodes[idx].item, l.marker(idx))
	}
}

// p = 1/4
func (l *SkipList[T]) randomHeight() int {
	h := 1
	for h < l.maxHeight && l.rng.IntN(4) == 0 {
		h++
	}
	return h
}

// Cursor is a position between two characters of the list.
//
// A cursor is only valid until the list is changed by anything other than
// the cursor itself.
type Cursor[T Item[T]] struct {
	list *SkipList[T]
	// prev[lvl] is the last node at level lvl ending at or before the
	// cursor; ends[lvl] is the position at which it ends.
	prev   []uint32
	ends   []int
	offset int
}

// Cursor opens a cursor at pos, 0 <= pos <= Len(). The returned offset is
// the distance from the start of the item containing pos. At the end of
// the list the offset is 0 and there is no current item.
func (l *SkipList[T]) Cursor(pos int) (*Cursor[T], int, error) {
	if pos < 0 || pos > l.length {
		return nil, 0, fmt.Errorf("%w: %d not in [0, %d]", ErrOutOfRange, pos, l.length)
	}
	c := &Cursor[T]{
		list: l,
		prev: make([]uint32, l.maxHeight),
		ends: make([]int, l.maxHeight),
	}

	c.offset = pos - l.descend(pos, c.prev, c.ends)
	return c, c.offset, nil
}

// descend fills prev[lvl] with the last node at each level ending at or
// before pos, and ends[lvl] with where it ends. ends may be nil. It returns
// the end of prev[0].
func (l *SkipList[T]) descend(pos int, prev []uint32, ends []int) int {
	var x uint32
	end := 0
	for lvl := l.maxHeight - 1; lvl >= 0; lvl-- {
		for {
			lk := l.nodes[x].links[lvl]
			if lk.next == 0 || end+lk.width > pos {
				break
			}
			end += lk.width
			x = lk.next
		}
		prev[lvl] = x
		if ends != nil {
			ends[lvl] = end
		}
	}
	return end
}

// Offset returns the distance from the start of the current item.
func (c *Cursor[T]) Offset() int { return c.offset }

// Pos returns the character position of the cursor.
func (c *Cursor[T]) Pos() int { return c.ends[0] + c.offset }

// PrevItem returns the item ending exactly at the cursor, if the cursor sits
// on an item boundary.
func (c *Cursor[T]) PrevItem() (T, bool) {
	var zero T
	if c.offset != 0 || c.prev[0] == 0 {
		return zero, false
	}
	return c.list.nodes[c.prev[0]].item, true
}

// CurrentItem returns the item starting at or containing the cursor.
func (c *Cursor[T]) CurrentItem() (T, bool) {
	var zero T
	next := c.list.nodes[c.prev[0]].links[0].next
	if next == 0 {
		return zero, false
	}
	return c.list.nodes[next].item, true
}

// Insert places item at the cursor and leaves the cursor just after it. If
// the cursor is inside an item, that item is split at the cursor first.
// Every node whose item changed is reported to the target.
func (c *Cursor[T]) Insert(item T) (Marker, error) {
	l := c.list
	if item.Len() <= 0 {
		return Marker{}, ErrEmptyItem
	}
	if c.offset == 0 {
		idx := c.link(item)
		c.advance(idx)
		l.notify(idx)
		return l.marker(idx), nil
	}

	cur := l.nodes[c.prev[0]].links[0].next
	if cur == 0 {
		return Marker{}, fmt.Errorf("%w: offset %d past end of list", ErrSplitOutOfRange, c.offset)
	}
	whole := l.nodes[cur].item
	if c.offset >= whole.Len() {
		return Marker{}, fmt.Errorf("%w: offset %d in item of length %d", ErrSplitOutOfRange, c.offset, whole.Len())
	}
	left, right := whole.Split(c.offset)
	if left.Len() != c.offset || left.Len()+right.Len() != whole.Len() {
		return Marker{}, fmt.Errorf("%w: split at %d gave %d+%d of %d",
			ErrSplitOutOfRange, c.offset, left.Len(), right.Len(), whole.Len())
	}

	// shrink cur to its left half; every link spanning the cursor covers cur
	cut := right.Len()
	for lvl := 0; lvl < l.maxHeight; lvl++ {
		lk := &l.nodes[c.prev[lvl]].links[lvl]
		if lk.next != 0 {
			lk.width -= cut
		}
	}
	l.nodes[cur].item = left
	l.nodes[cur].gen++
	l.length -= cut
	c.advance(cur)

	ri := c.link(right)
	ni := c.link(item)
	c.advance(ni)

	l.notify(cur)
	l.notify(ni)
	l.notify(ri)
	return l.marker(ni), nil
}

// ModifyPrevItem replaces the item ending at the cursor with f(item). The
// new item must start with the same characters and may only grow; only the
// appended tail is reported to the target. The cursor stays after the item.
func (c *Cursor[T]) ModifyPrevItem(f func(T) T) (Marker, error) {
	l := c.list
	p := c.prev[0]
	if c.offset != 0 {
		return Marker{}, fmt.Errorf("%w: cursor is %d into an item", ErrNoPrevItem, c.offset)
	}
	if p == 0 {
		return Marker{}, ErrNoPrevItem
	}

	old := l.nodes[p].item
	updated := f(old)
	grow := updated.Len() - old.Len()
	if grow < 0 {
		return Marker{}, fmt.Errorf("%w: length %d -> %d", ErrInvalidModify, old.Len(), updated.Len())
	}

	// every link ending at or past p starts before p's first character
	pred := make([]uint32, l.maxHeight)
	l.descend(c.ends[0]-old.Len(), pred, nil)
	for lvl, x := range pred {
		lk := &l.nodes[x].links[lvl]
		if lk.next != 0 {
			lk.width += grow
		}
	}

	l.nodes[p].item = updated
	h := len(l.nodes[p].links)
	for lvl := 0; lvl < h; lvl++ {
		c.ends[lvl] += grow
	}
	l.length += grow

	m := l.marker(p)
	if grow > 0 && l.target != nil {
		_, tail := updated.Split(old.Len())
		l.target.Notify(tail, m)
	}
	return m, nil
}

// link splices a new node in right after prev[0] without moving the cursor.
func (c *Cursor[T]) link(item T) uint32 {
	l := c.list
	n := item.Len()
	at := c.ends[0]
	idx := uint32(len(l.nodes))
	nd := node[T]{item: item, links: make([]link, l.randomHeight())}

	for lvl := 0; lvl < l.maxHeight; lvl++ {
		lk := &l.nodes[c.prev[lvl]].links[lvl]
		switch {
		case lvl < len(nd.links):
			nd.links[lvl].next = lk.next
			if lk.next != 0 {
				nd.links[lvl].width = lk.width + c.ends[lvl] - at
			}
			lk.next = idx
			lk.width = at + n - c.ends[lvl]
		case lk.next != 0:
			lk.width += n
		}
	}

	l.nodes = append(l.nodes, nd)
	l.length += n
	l.count++
	return idx
}

// advance steps the cursor over idx, which must directly follow prev[0].
func (c *Cursor[T]) advance(idx uint32) {
	nd := &c.list.nodes[idx]
	end := c.ends[0] + nd.item.Len()
	for lvl := range nd.links {
		c.prev[lvl] = idx
		c.ends[lvl] = end
	}
	c.offset = 0
}
