package stm

import (
	"context"
	"fmt"
	stdatomic "sync/atomic"

	"github.com/tinyclj/tinyclj/rt/stm/history"
	"github.com/tinyclj/tinyclj/rt/stm/latches"
	"go.uber.org/atomic"
)

// Fn computes a new value of a Ref from its old one. It is used by Alter and
// Commute and may be called more than once per transaction run.
type Fn func(old interface{}, args ...interface{}) (interface{}, error)

// Ref is a transactional reference cell: the only sanctioned way to share
// mutable state. Reads outside a transaction see the latest committed value;
// everything else goes through the transaction found in the context.
type Ref struct {
	id     uint64
	engine *Engine

	// latch guards hist and owner. It is write-held while a transaction
	// claims the ref and while one commits to it, and read-held by readers
	// and for the whole life of a transaction which ensured the ref.
	latch latches.RWLatch
	hist  *history.Ring
	// owner is the transaction which set the ref. It keeps other writers away
	// for as long as it is running.
	owner *txnInfo

	// latest is the newest committed entry, published after each commit so
	// that out-of-transaction readers never wait for a committer.
	latest stdatomic.Value

	// committing is set while a commit holds the write latch, as opposed to
	// a transaction briefly taking it to claim the ref.
	committing atomic.Bool

	faults     atomic.Int32
	minHistory atomic.Int32
	maxHistory atomic.Int32
}

// published wraps the newest entry; atomic.Value can't hold a nil entry.
type published struct {
	entry history.Entry
	bound bool
}

type RefOption func(r *Ref)

func WithMinHistory(n int) RefOption {
	return func(r *Ref) {
		r.SetMinHistory(n)
	}
}

func WithMaxHistory(n int) RefOption {
	return func(r *Ref) {
		r.SetMaxHistory(n)
	}
}

// NewRef creates a Ref bound to initial, stamped with point 0.
func (e *Engine) NewRef(initial interface{}, opts ...RefOption) *Ref {
	r := e.newRef(history.NewBound(initial, 0), opts)
	r.publish(history.Entry{Value: initial, Point: 0})
	return r
}

// NewUnboundRef creates a Ref without a value. Reading it fails with
// ErrUnbound until a transaction sets it.
func (e *Engine) NewUnboundRef(opts ...RefOption) *Ref {
	r := e.newRef(history.New(), opts)
	r.latest.Store(published{})
	return r
}

func (e *Engine) newRef(h *history.Ring, opts []RefOption) *Ref {
	r := &Ref{
		id:     e.refIDs.Inc(),
		engine: e,
		hist:   h,
	}
	r.minHistory.Store(int32(e.conf.MinHistory))
	r.maxHistory.Store(int32(e.conf.MaxHistory))
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRef creates a Ref on the default engine.
func NewRef(initial interface{}, opts ...RefOption) *Ref {
	return Default().NewRef(initial, opts...)
}

func (r *Ref) ID() uint64 {
	return r.id
}

// Compare orders refs by id, the order in which commits latch them.
func (r *Ref) Compare(o *Ref) int {
	switch {
	case r.id < o.id:
		return -1
	case r.id > o.id:
		return 1
	}
	return 0
}

func (r *Ref) String() string {
	return fmt.Sprintf("Ref@%d", r.id)
}

func (r *Ref) MinHistory() int {
	return int(r.minHistory.Load())
}

func (r *Ref) SetMinHistory(n int) *Ref {
	if n < 0 {
		n = 0
	}
	r.minHistory.Store(int32(n))
	return r
}

func (r *Ref) MaxHistory() int {
	return int(r.maxHistory.Load())
}

func (r *Ref) SetMaxHistory(n int) *Ref {
	if n < 0 {
		n = 0
	}
	r.maxHistory.Store(int32(n))
	return r
}

// Deref returns the value of the ref as seen from ctx: the latest committed
// value outside a transaction, the transaction's snapshot inside one.
func (r *Ref) Deref(ctx context.Context) (interface{}, error) {
	tx := FromContext(ctx)
	if tx == nil {
		return r.currentVal()
	}
	if err := tx.checkRef(r); err != nil {
		return nil, err
	}
	return tx.doGet(r)
}

// currentVal never waits: when a committer holds the latch the value
// published by the previous commit is returned.
func (r *Ref) currentVal() (interface{}, error) {
	if r.latch.TryRLock() {
		defer r.latch.RUnlock()
		if e, ok := r.hist.Newest(); ok {
			return e.Value, nil
		}
		return nil, unboundError(r)
	}
	p := r.latest.Load().(published)
	if !p.bound {
		return nil, unboundError(r)
	}
	return p.entry.Value, nil
}

func (r *Ref) txn(ctx context.Context) (*Txn, error) {
	tx := FromContext(ctx)
	if tx == nil {
		return nil, ErrNotInTransaction
	}
	if err := tx.checkRef(r); err != nil {
		return nil, err
	}
	return tx, nil
}

// Set sets the in-transaction value of the ref and returns it.
func (r *Ref) Set(ctx context.Context, val interface{}) (interface{}, error) {
	tx, err := r.txn(ctx)
	if err != nil {
		return nil, err
	}
	return tx.doSet(r, val)
}

// Alter sets the in-transaction value of the ref to fn(value, args...) and
// returns it.
func (r *Ref) Alter(ctx context.Context, fn Fn, args ...interface{}) (interface{}, error) {
	tx, err := r.txn(ctx)
	if err != nil {
		return nil, err
	}
	old, err := tx.doGet(r)
	if err != nil {
		return nil, err
	}
	val, err := fn(old, args...)
	if err != nil {
		return nil, err
	}
	return tx.doSet(r, val)
}

// Commute queues fn to be applied to the ref at commit time, against the
// value current then, and returns fn applied to the value current now.
// Concurrent commutes of the same ref don't conflict with each other.
func (r *Ref) Commute(ctx context.Context, fn Fn, args ...interface{}) (interface{}, error) {
	tx, err := r.txn(ctx)
	if err != nil {
		return nil, err
	}
	return tx.doCommute(r, fn, args)
}

// Touch ensures the ref: no other transaction may commit a write to it until
// this transaction ends. It does not make the ref part of the write set.
func (r *Ref) Touch(ctx context.Context) error {
	tx, err := r.txn(ctx)
	if err != nil {
		return err
	}
	return tx.doEnsure(r)
}

// IsBound reports whether the ref has a committed value.
func (r *Ref) IsBound() bool {
	r.latch.RLock()
	defer r.latch.RUnlock()
	return r.hist.Bound()
}

// HistoryCount returns the number of committed values kept besides the newest.
func (r *Ref) HistoryCount() int {
	r.latch.RLock()
	defer r.latch.RUnlock()
	return r.hist.HistoryCount()
}

// TrimHistory drops every committed value but the newest.
func (r *Ref) TrimHistory() {
	r.latch.Lock()
	defer r.latch.Unlock()
	r.hist.Trim(1)
}

// findValueFor returns the newest value committed at or before point. When
// the history holds nothing that old the fault is counted, so the next commit
// keeps more history. The caller holds the latch and has checked the ref is
// bound.
func (r *Ref) findValueFor(point uint64) (history.Entry, bool) {
	e, ok := r.hist.FindAtOrBefore(point)
	if !ok {
		r.faults.Inc()
		r.engine.stats.historyFaults.Inc()
		historyFaultCounter.Inc()
	}
	return e, ok
}

// newestPoint returns the commit point of the newest value, 0 when unbound.
// The caller holds the latch.
func (r *Ref) newestPoint() uint64 {
	e, _ := r.hist.Newest()
	return e.Point
}

// push appends a committed value. The caller holds the write latch.
//
// The history grows by one entry when a reader faulted on it since the last
// growth and it holds fewer than maxHistory old values, or when it holds fewer
// than minHistory. Otherwise the oldest entry makes room for the new one.
func (r *Ref) push(val interface{}, point uint64) {
	e := history.Entry{Value: val, Point: point}
	count := r.hist.HistoryCount()
	minHist, maxHist := r.MinHistory(), r.MaxHistory()

	keep := count + 1
	if r.hist.Bound() && ((r.faults.Load() > 0 && count < maxHist) || count < minHist) {
		keep++
		r.faults.Store(0)
	}
	if limit := maxHist + 1; keep > limit && maxHist >= minHist {
		keep = limit
	}
	r.hist.Push(e, keep)
	r.publish(e)
}

func (r *Ref) publish(e history.Entry) {
	r.latest.Store(published{entry: e, bound: true})
}
