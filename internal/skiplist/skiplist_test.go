package skiplist

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// span is characters [start, start+n) of some source.
type span struct {
	start, n int
}

func (s span) Len() int { return s.n }

func (s span) Split(at int) (span, span) {
	return span{s.start, at}, span{s.start + at, s.n - at}
}

type event struct {
	item span
	m    Marker
}

type recorder struct {
	events []event
}

func (r *recorder) Notify(item span, m Marker) {
	r.events = append(r.events, event{item, m})
}

func (r *recorder) take() []event {
	ev := r.events
	r.events = nil
	return ev
}

// checkWidths recomputes every link width from item lengths.
func checkWidths(t *testing.T, l *SkipList[span]) {
	t.Helper()
	ends := map[uint32]int{0: 0}
	total, count := 0, 0
	for x := l.nodes[0].links[0].next; x != 0; x = l.nodes[x].links[0].next {
		total += l.nodes[x].item.Len()
		count++
		ends[x] = total
	}
	require.Equal(t, total, l.Len())
	require.Equal(t, count, l.NumItems())

	for x, end := range ends {
		for lvl, lk := range l.nodes[x].links {
			if lk.next == 0 {
				continue
			}
			require.Equalf(t, ends[lk.next]-end, lk.width, "node %d level %d", x, lvl)
		}
	}
}

func insertAt(t *testing.T, l *SkipList[span], pos int, item span) Marker {
	t.Helper()
	c, _, err := l.Cursor(pos)
	require.NoError(t, err)
	m, err := c.Insert(item)
	require.NoError(t, err)
	return m
}

func TestEmptyList(t *testing.T) {
	l := New[span](nil)
	c, offset, err := l.Cursor(0)
	require.NoError(t, err)
	assert.Equal(t, 0, offset)

	_, ok := c.PrevItem()
	assert.False(t, ok)
	_, ok = c.CurrentItem()
	assert.False(t, ok)

	_, _, err = l.Cursor(1)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, _, err = l.Cursor(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestCursorOffsets(t *testing.T) {
	l := New[span](nil, WithSeed(1))
	insertAt(t, l, 0, span{0, 3})
	insertAt(t, l, 3, span{100, 5})

	tests := []struct {
		pos     int
		offset  int
		prev    *span
		current *span
	}{
		{0, 0, nil, &span{0, 3}},
		{2, 2, nil, &span{0, 3}},
		{3, 0, &span{0, 3}, &span{100, 5}},
		{7, 4, nil, &span{100, 5}},
		{8, 0, &span{100, 5}, nil},
	}
	for _, tt := range tests {
		c, offset, err := l.Cursor(tt.pos)
		require.NoError(t, err)
		assert.Equal(t, tt.offset, offset, "pos %d", tt.pos)
		assert.Equal(t, tt.pos, c.Pos())

		prev, ok := c.PrevItem()
		if tt.prev == nil {
			assert.False(t, ok, "pos %d", tt.pos)
		} else {
			assert.Equal(t, *tt.prev, prev, "pos %d", tt.pos)
		}
		cur, ok := c.CurrentItem()
		if tt.current == nil {
			assert.False(t, ok, "pos %d", tt.pos)
		} else {
			assert.Equal(t, *tt.current, cur, "pos %d", tt.pos)
		}
	}
}

func TestInsertNotifies(t *testing.T) {
	r := &recorder{}
	l := New[span](r, WithSeed(2))

	m := insertAt(t, l, 0, span{0, 4})
	ev := r.take()
	require.Len(t, ev, 1)
	assert.Equal(t, event{span{0, 4}, m}, ev[0])
	assert.False(t, m.IsNull())

	got, err := l.Lookup(m)
	require.NoError(t, err)
	assert.Equal(t, span{0, 4}, got)
}

func TestSplit(t *testing.T) {
	r := &recorder{}
	l := New[span](r, WithSeed(3))
	old := insertAt(t, l, 0, span{10, 10})
	r.take()

	c, offset, err := l.Cursor(4)
	require.NoError(t, err)
	require.Equal(t, 4, offset)
	m, err := c.Insert(span{500, 2})
	require.NoError(t, err)

	assert.Equal(t, []span{{10, 4}, {500, 2}, {14, 6}}, l.Items())
	assert.Equal(t, 12, l.Len())
	assert.Equal(t, 6, c.Pos())
	checkWidths(t, l)

	ev := r.take()
	require.Len(t, ev, 3)
	assert.Equal(t, span{10, 4}, ev[0].item)
	assert.Equal(t, span{500, 2}, ev[1].item)
	assert.Equal(t, m, ev[1].m)
	assert.Equal(t, span{14, 6}, ev[2].item)

	// the split node changed shape, so the old marker is rejected
	_, err = l.Lookup(old)
	assert.ErrorIs(t, err, ErrStaleMarker)
	for _, e := range ev {
		got, err := l.Lookup(e.m)
		require.NoError(t, err)
		assert.Equal(t, e.item, got)
	}
}

func TestSplitPreservesRange(t *testing.T) {
	for at := 1; at < 7; at++ {
		l := New[span](nil, WithSeed(uint64(at)))
		insertAt(t, l, 0, span{40, 7})
		insertAt(t, l, at, span{900, 1})

		items := l.Items()
		require.Len(t, items, 3)
		left, right := items[0], items[2]
		assert.Equal(t, at, left.n)
		assert.Equal(t, 7-at, right.n)
		assert.Equal(t, left.start+at, right.start)
		assert.Equal(t, 40, left.start)
	}
}

func TestModifyPrevItem(t *testing.T) {
	r := &recorder{}
	l := New[span](r, WithSeed(4))
	insertAt(t, l, 0, span{0, 3})
	insertAt(t, l, 3, span{50, 2})
	r.take()

	c, _, err := l.Cursor(3)
	require.NoError(t, err)
	m, err := c.ModifyPrevItem(func(s span) span {
		s.n += 5
		return s
	})
	require.NoError(t, err)
	assert.Equal(t, 8, c.Pos())
	assert.Equal(t, []span{{0, 8}, {50, 2}}, l.Items())
	checkWidths(t, l)

	// only the appended tail is reported
	ev := r.take()
	require.Len(t, ev, 1)
	assert.Equal(t, event{span{3, 5}, m}, ev[0])

	got, err := l.Lookup(m)
	require.NoError(t, err)
	assert.Equal(t, span{0, 8}, got)
}

func TestModifyPrevItemErrors(t *testing.T) {
	l := New[span](nil)
	c, _, err := l.Cursor(0)
	require.NoError(t, err)
	_, err = c.ModifyPrevItem(func(s span) span { return s })
	assert.ErrorIs(t, err, ErrNoPrevItem)

	insertAt(t, l, 0, span{0, 5})
	c, _, err = l.Cursor(2)
	require.NoError(t, err)
	_, err = c.ModifyPrevItem(func(s span) span { return s })
	assert.ErrorIs(t, err, ErrNoPrevItem)

	c, _, err = l.Cursor(5)
	require.NoError(t, err)
	_, err = c.ModifyPrevItem(func(s span) span {
		s.n = 1
		return s
	})
	assert.ErrorIs(t, err, ErrInvalidModify)
	assert.Equal(t, []span{{0, 5}}, l.Items())
	assert.Equal(t, 5, l.Len())
}

func TestInsertEmptyItem(t *testing.T) {
	r := &recorder{}
	l := New[span](r)
	c, _, err := l.Cursor(0)
	require.NoError(t, err)
	_, err = c.Insert(span{0, 0})
	assert.ErrorIs(t, err, ErrEmptyItem)
	assert.Equal(t, 0, l.NumItems())
	assert.Empty(t, r.events)
}

func TestLookupNull(t *testing.T) {
	l := New[span](nil)
	_, err := l.Lookup(Marker{})
	assert.ErrorIs(t, err, ErrStaleMarker)
	_, err = l.Lookup(Marker{idx: 42})
	assert.ErrorIs(t, err, ErrStaleMarker)
}

func TestCursorChainedInserts(t *testing.T) {
	l := New[span](nil, WithSeed(5))
	c, _, err := l.Cursor(0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := c.Insert(span{i * 10, 2})
		require.NoError(t, err)
	}
	assert.Equal(t, []span{{0, 2}, {10, 2}, {20, 2}, {30, 2}, {40, 2}}, l.Items())
	checkWidths(t, l)
}

// Random inserts against a flat slice of source offsets.
func TestRandomAgainstModel(t *testing.T) {
	for _, height := range []int{1, 2, DefaultMaxHeight} {
		rng := rand.New(rand.NewPCG(7, uint64(height)))
		l := New[span](nil, WithSeed(uint64(height)), WithMaxHeight(height))
		var model []int
		next := 0

		for i := 0; i < 2000; i++ {
			pos := rng.IntN(len(model) + 1)
			n := 1 + rng.IntN(5)
			insertAt(t, l, pos, span{next, n})

			ins := make([]int, n)
			for j := range ins {
				ins[j] = next + j
			}
			model = append(model[:pos], append(ins, model[pos:]...)...)
			next += n + 1000
		}
		checkWidths(t, l)

		var flat []int
		for _, s := range l.All() {
			for j := 0; j < s.n; j++ {
				flat = append(flat, s.start+j)
			}
		}
		require.Equal(t, model, flat, "height %d", height)

		for pos := 0; pos < len(model); pos += 37 {
			c, offset, err := l.Cursor(pos)
			require.NoError(t, err)
			cur, ok := c.CurrentItem()
			require.True(t, ok)
			assert.Equal(t, model[pos], cur.start+offset)
		}
	}
}

func TestAllStopsEarly(t *testing.T) {
	l := New[span](nil)
	for i := 0; i < 4; i++ {
		insertAt(t, l, l.Len(), span{i * 100, 1})
	}
	seen := 0
	for range l.All() {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestNotifyFunc(t *testing.T) {
	var got []span
	l := New[span](NotifyFunc[span](func(s span, _ Marker) { got = append(got, s) }))
	insertAt(t, l, 0, span{0, 2})
	assert.Equal(t, []span{{0, 2}}, got)
}

func TestRepeatedModifyKeepsWidths(t *testing.T) {
	for _, height := range []int{1, 2, DefaultMaxHeight} {
		for _, before := range []int{0, 1, 6} {
			l := New[span](nil, WithSeed(uint64(height*10+before)), WithMaxHeight(height))
			for i := 0; i < before; i++ {
				insertAt(t, l, l.Len(), span{1000 * (i + 1), 3})
			}
			insertAt(t, l, l.Len(), span{0, 4})

			for i := 0; i < 50; i++ {
				c, offset, err := l.Cursor(l.Len())
				require.NoError(t, err)
				require.Equal(t, 0, offset, "height %d round %d", height, i)
				_, err = c.ModifyPrevItem(func(s span) span {
					s.n += 4
					return s
				})
				require.NoError(t, err)
				checkWidths(t, l)
			}
			assert.Equal(t, before+1, l.NumItems())
			assert.Equal(t, 3*before+204, l.Len())

			// positions inside the grown item still resolve
			c, offset, err := l.Cursor(3*before + 100)
			require.NoError(t, err)
			cur, ok := c.CurrentItem()
			require.True(t, ok)
			assert.Equal(t, span{0, 204}, cur)
			assert.Equal(t, 100, offset)
		}
	}
}

func TestModifyInMiddleKeepsWidths(t *testing.T) {
	l := New[span](nil, WithSeed(8))
	for i := 0; i < 20; i++ {
		insertAt(t, l, l.Len(), span{i * 100, 2})
	}
	for pos := 2; pos < l.Len(); pos += 7 {
		c, offset, err := l.Cursor(pos)
		require.NoError(t, err)
		if offset != 0 {
			continue
		}
		_, err = c.ModifyPrevItem(func(s span) span {
			s.n += 5
			return s
		})
		require.NoError(t, err)
		checkWidths(t, l)
	}
}

// lying reports a split that does not add up.
type lying struct {
	n int
}

func (s lying) Len() int { return s.n }

func (s lying) Split(at int) (lying, lying) { return lying{at}, lying{s.n} }

func TestBadSplitLeavesListUnchanged(t *testing.T) {
	var notified int
	l := New[lying](NotifyFunc[lying](func(lying, Marker) { notified++ }), WithSeed(9))
	c, _, err := l.Cursor(0)
	require.NoError(t, err)
	m, err := c.Insert(lying{6})
	require.NoError(t, err)
	notified = 0

	c, _, err = l.Cursor(2)
	require.NoError(t, err)
	_, err = c.Insert(lying{1})
	assert.ErrorIs(t, err, ErrSplitOutOfRange)

	assert.Equal(t, 0, notified)
	assert.Equal(t, []lying{{6}}, l.Items())
	assert.Equal(t, 6, l.Len())
	got, err := l.Lookup(m)
	require.NoError(t, err)
	assert.Equal(t, lying{6}, got)
}
