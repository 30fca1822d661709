package history

import "fmt"

// Entry is one committed value of a Ref together with the commit point it
// was written at.
type Entry struct {
	Value interface{}
	Point uint64
}

// Ring keeps the most recent committed values of a single Ref, oldest to
// newest, in an index-addressed circular buffer. Points strictly increase from
// the oldest entry to the newest one.
//
// A Ring is not safe for concurrent use; the owning Ref guards it with its
// latch.
type Ring struct {
	buf []Entry
	// start is the index of the oldest entry.
	start int
	size  int
}

// New creates an empty (unbound) ring.
func New() *Ring {
	return &Ring{}
}

// NewBound creates a ring holding a single entry.
func NewBound(value interface{}, point uint64) *Ring {
	r := &Ring{buf: make([]Entry, 1)}
	r.buf[0] = Entry{Value: value, Point: point}
	r.size = 1
	return r
}

// Bound reports whether the ring holds at least one entry.
func (r *Ring) Bound() bool {
	return r.size > 0
}

// Len returns the number of entries held, the newest included.
func (r *Ring) Len() int {
	return r.size
}

// HistoryCount returns the number of entries older than the newest one.
func (r *Ring) HistoryCount() int {
	if r.size == 0 {
		return 0
	}
	return r.size - 1
}

func (r *Ring) index(i int) int {
	return (r.start + i) % len(r.buf)
}

// Newest returns the most recently pushed entry.
func (r *Ring) Newest() (Entry, bool) {
	if r.size == 0 {
		return Entry{}, false
	}
	return r.buf[r.index(r.size-1)], true
}

// Oldest returns the oldest retained entry.
func (r *Ring) Oldest() (Entry, bool) {
	if r.size == 0 {
		return Entry{}, false
	}
	return r.buf[r.start], true
}

// FindAtOrBefore walks from the newest entry towards the oldest and returns
// the first one whose point is <= point. ok is false when every retained entry
// is newer than point, or when the ring is empty.
func (r *Ring) FindAtOrBefore(point uint64) (e Entry, ok bool) {
	for i := r.size - 1; i >= 0; i-- {
		e = r.buf[r.index(i)]
		if e.Point <= point {
			return e, true
		}
	}
	return Entry{}, false
}

// Push appends e as the newest entry and then drops the oldest entries until
// at most keep entries are left. keep is clamped to at least 1. Push panics if
// e.Point is not greater than the newest point.
func (r *Ring) Push(e Entry, keep int) {
	if newest, ok := r.Newest(); ok && e.Point <= newest.Point {
		panic(fmt.Sprintf("history: push of point %d after point %d", e.Point, newest.Point))
	}
	if keep < 1 {
		keep = 1
	}
	if r.size == len(r.buf) {
		if r.size >= keep {
			// Full and not growing: the new entry takes the oldest slot.
			r.buf[r.start] = e
			r.start = (r.start + 1) % len(r.buf)
			r.trim(keep)
			return
		}
		r.grow()
	}
	r.buf[r.index(r.size)] = e
	r.size++
	r.trim(keep)
}

// Trim drops the oldest entries until at most keep are left.
func (r *Ring) Trim(keep int) {
	if keep < 1 {
		keep = 1
	}
	r.trim(keep)
}

func (r *Ring) trim(keep int) {
	for r.size > keep {
		r.buf[r.start] = Entry{}
		r.start = (r.start + 1) % len(r.buf)
		r.size--
	}
}

func (r *Ring) grow() {
	n := len(r.buf) * 2
	if n == 0 {
		n = 1
	}
	buf := make([]Entry, n)
	for i := 0; i < r.size; i++ {
		buf[i] = r.buf[r.index(i)]
	}
	r.buf = buf
	r.start = 0
}

// Entries returns a copy of the retained entries, oldest first.
func (r *Ring) Entries() []Entry {
	out := make([]Entry, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[r.index(i)]
	}
	return out
}
