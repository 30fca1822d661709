package stm

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	statusRunning int32 = iota
	statusCommitting
	statusRetry
	statusKilled
	statusCommitted
)

// txnInfo is the part of a transaction other transactions look at: they read
// its age and status to decide whether to barge it, and wait on done.
type txnInfo struct {
	// id is unique per attempt, seq is the id of the first attempt of the run.
	id         uint64
	seq        uint64
	startPoint uint64
	startTime  time.Time

	status atomic.Int32
	done   chan struct{}
	once   sync.Once
}

func newTxnInfo(id, seq, startPoint uint64, startTime time.Time) *txnInfo {
	info := &txnInfo{
		id:         id,
		seq:        seq,
		startPoint: startPoint,
		startTime:  startTime,
		done:       make(chan struct{}),
	}
	info.status.Store(statusRunning)
	return info
}

func (i *txnInfo) running() bool {
	s := i.status.Load()
	return s == statusRunning || s == statusCommitting
}

func (i *txnInfo) closeDone() {
	i.once.Do(func() {
		close(i.done)
	})
}

// olderThan orders transactions by start point, then by run sequence.
func (i *txnInfo) olderThan(o *txnInfo) bool {
	if i.startPoint != o.startPoint {
		return i.startPoint < o.startPoint
	}
	return i.seq < o.seq
}

type commuteFn struct {
	fn   Fn
	args []interface{}
}

// Txn is one attempt of a transaction. It is created by RunInTransaction,
// travels in the context passed to the body and is discarded when the attempt
// ends. A Txn must only be used by the goroutine running the body.
type Txn struct {
	engine    *Engine
	info      *txnInfo
	readPoint uint64
	attempt   int

	reads    map[*Ref]struct{}
	vals     map[*Ref]interface{}
	sets     map[*Ref]struct{}
	commutes map[*Ref][]commuteFn
	ensures  map[*Ref]struct{}

	// locked holds the refs write latched by commit, in latching order.
	locked    []*Ref
	lockedSet map[*Ref]struct{}

	// retry is the first retry signal of the attempt. Once set the attempt
	// can't commit, even if the body dropped the error.
	retry *retryError
	// released is set once the attempt ended. A context leaked from the body
	// may still point at it.
	released atomic.Bool
}

func newTxn(e *Engine, info *txnInfo, readPoint uint64, attempt int) *Txn {
	return &Txn{
		engine:    e,
		info:      info,
		readPoint: readPoint,
		attempt:   attempt,
		reads:     make(map[*Ref]struct{}),
		vals:      make(map[*Ref]interface{}),
		sets:      make(map[*Ref]struct{}),
		commutes:  make(map[*Ref][]commuteFn),
		ensures:   make(map[*Ref]struct{}),
		lockedSet: make(map[*Ref]struct{}),
	}
}

// StartPoint is the read point of the first attempt; it gives the age of the
// transaction when transactions compete for a ref.
func (tx *Txn) StartPoint() uint64 {
	return tx.info.startPoint
}

// ReadPoint is the point of the snapshot this attempt reads.
func (tx *Txn) ReadPoint() uint64 {
	return tx.readPoint
}

// Attempt counts the attempts of the transaction, starting at 1.
func (tx *Txn) Attempt() int {
	return tx.attempt
}

func (tx *Txn) Engine() *Engine {
	return tx.engine
}

func (tx *Txn) lockWait() time.Duration {
	return tx.engine.conf.LockWaitTimeout.Duration
}

func (tx *Txn) signal(reason RetryReason, r *Ref) error {
	if tx.retry == nil {
		tx.retry = &retryError{reason: reason}
		if r != nil {
			tx.retry.ref = r.id
		}
	}
	return tx.retry
}

func (tx *Txn) checkRef(r *Ref) error {
	if r.engine != tx.engine {
		return ErrForeignRef
	}
	return nil
}

// checkRunning fails operations of an attempt which can't commit. An attempt
// which already ended, whatever its outcome, is no transaction any more.
func (tx *Txn) checkRunning() error {
	if tx.released.Load() {
		return ErrNotInTransaction
	}
	if tx.retry != nil {
		return tx.retry
	}
	switch tx.info.status.Load() {
	case statusRunning:
		return nil
	case statusKilled:
		return tx.signal(RetryBarged, nil)
	}
	return ErrNotInTransaction
}

func (tx *Txn) doGet(r *Ref) (interface{}, error) {
	if err := tx.checkRunning(); err != nil {
		return nil, err
	}
	if v, ok := tx.vals[r]; ok {
		return v, nil
	}
	if !r.latch.RLockTimeout(tx.lockWait()) {
		return nil, tx.signal(RetryLockTimeout, r)
	}
	if !r.hist.Bound() {
		r.latch.RUnlock()
		return nil, unboundError(r)
	}
	e, ok := r.findValueFor(tx.readPoint)
	r.latch.RUnlock()
	if !ok {
		return nil, tx.signal(RetryHistoryFault, r)
	}
	tx.reads[r] = struct{}{}
	return e.Value, nil
}

func (tx *Txn) doSet(r *Ref, val interface{}) (interface{}, error) {
	if err := tx.checkRunning(); err != nil {
		return nil, err
	}
	if _, ok := tx.sets[r]; !ok {
		if _, ok := tx.commutes[r]; ok {
			return nil, ErrSetAfterCommute
		}
		if err := tx.claim(r); err != nil {
			return nil, err
		}
		tx.sets[r] = struct{}{}
	}
	tx.vals[r] = val
	return val, nil
}

// claim makes this transaction the owner of r. The write latch is only held
// while ownership changes hands.
func (tx *Txn) claim(r *Ref) error {
	tx.releaseIfEnsured(r)
	if !r.latch.LockTimeout(tx.lockWait()) {
		return tx.signal(RetryLockTimeout, r)
	}
	if r.newestPoint() > tx.readPoint {
		r.latch.Unlock()
		return tx.signal(RetryConflict, r)
	}
	if owner := r.owner; owner != nil && owner != tx.info && owner.running() {
		if !tx.barge(owner) {
			r.latch.Unlock()
			return tx.blockAndBail(owner, r)
		}
	}
	r.owner = tx.info
	r.latch.Unlock()
	return nil
}

func (tx *Txn) bargeTimeElapsed() bool {
	return time.Since(tx.info.startTime) >= tx.engine.conf.BargeWait.Duration
}

// barge kills rival if this transaction is older. It reports whether rival
// is out of the way.
func (tx *Txn) barge(rival *txnInfo) bool {
	if !tx.bargeTimeElapsed() || !tx.info.olderThan(rival) {
		return false
	}
	if rival.status.CAS(statusRunning, statusKilled) {
		rival.closeDone()
		tx.engine.stats.barges.Inc()
		bargeCounter.Inc()
		tx.engine.logger.Debug("barged transaction",
			zap.Uint64("txn", tx.info.seq),
			zap.Uint64("rival", rival.seq))
		return true
	}
	return !rival.running()
}

// blockAndBail gives up the attempt, waiting for rival to finish first so the
// retry doesn't run straight into it again.
func (tx *Txn) blockAndBail(rival *txnInfo, r *Ref) error {
	err := tx.signal(RetryBlocked, r)
	tx.info.status.Store(statusRetry)
	tx.info.closeDone()
	tx.releaseEnsures()

	timer := time.NewTimer(tx.lockWait())
	select {
	case <-rival.done:
	case <-timer.C:
	}
	timer.Stop()
	return err
}

func (tx *Txn) doEnsure(r *Ref) error {
	if err := tx.checkRunning(); err != nil {
		return err
	}
	if _, ok := tx.ensures[r]; ok {
		return nil
	}
	if !r.latch.RLockTimeout(tx.lockWait()) {
		return tx.signal(RetryLockTimeout, r)
	}
	if r.newestPoint() > tx.readPoint {
		r.latch.RUnlock()
		return tx.signal(RetryConflict, r)
	}
	if owner := r.owner; owner != nil && owner.running() {
		r.latch.RUnlock()
		if owner != tx.info {
			return tx.blockAndBail(owner, r)
		}
		return nil
	}
	tx.ensures[r] = struct{}{}
	return nil
}

func (tx *Txn) doCommute(r *Ref, fn Fn, args []interface{}) (interface{}, error) {
	if err := tx.checkRunning(); err != nil {
		return nil, err
	}
	if _, ok := tx.vals[r]; !ok {
		var cur interface{}
		if v, err := r.currentVal(); err == nil {
			cur = v
		}
		tx.vals[r] = cur
	}
	val, err := fn(tx.vals[r], args...)
	if err != nil {
		return nil, err
	}
	tx.commutes[r] = append(tx.commutes[r], commuteFn{fn: fn, args: args})
	tx.vals[r] = val
	return val, nil
}

func (tx *Txn) releaseIfEnsured(r *Ref) {
	if _, ok := tx.ensures[r]; ok {
		delete(tx.ensures, r)
		r.latch.RUnlock()
	}
}

func (tx *Txn) releaseEnsures() {
	for r := range tx.ensures {
		r.latch.RUnlock()
	}
	tx.ensures = make(map[*Ref]struct{})
}

// release ends the attempt with the given status: every latch still held is
// released and waiters on the transaction are woken. It is safe to call more
// than once; only the first call counts.
func (tx *Txn) release(final int32) {
	if !tx.released.CAS(false, true) {
		return
	}
	tx.info.status.Store(final)
	for i := len(tx.locked) - 1; i >= 0; i-- {
		tx.locked[i].committing.Store(false)
		tx.locked[i].latch.Unlock()
	}
	tx.locked = nil
	tx.lockedSet = nil
	tx.releaseEnsures()
	tx.info.closeDone()
}
