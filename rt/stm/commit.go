package stm

import (
	"time"

	"github.com/google/btree"
	"github.com/pingcap/failpoint"
)

const failpointPrefix = "github.com/tinyclj/tinyclj/rt/stm/"

func failpointPath(name string) string {
	return failpointPrefix + name
}

type lockItem struct {
	ref *Ref
}

func (i lockItem) Less(than btree.Item) bool {
	return i.ref.id < than.(lockItem).ref.id
}

// lockOrder returns the refs written by the transaction, sets and commutes,
// in ascending id order.
func (tx *Txn) lockOrder() []*Ref {
	tree := btree.New(8)
	for r := range tx.sets {
		tree.ReplaceOrInsert(lockItem{ref: r})
	}
	for r := range tx.commutes {
		tree.ReplaceOrInsert(lockItem{ref: r})
	}
	refs := make([]*Ref, 0, tree.Len())
	tree.Ascend(func(i btree.Item) bool {
		refs = append(refs, i.(lockItem).ref)
		return true
	})
	return refs
}

// commit publishes the attempt. It returns a *retryError when the attempt
// must be run again and the error of a commute function if one fails. The
// caller releases the transaction whatever the outcome.
func (tx *Txn) commit() error {
	if tx.retry != nil {
		return tx.retry
	}
	if !tx.info.status.CAS(statusRunning, statusCommitting) {
		return tx.signal(RetryBarged, nil)
	}
	start := time.Now()
	defer func() {
		commitDuration.Observe(time.Since(start).Seconds())
	}()

	if _, ok := failpoint.Eval(failpointPath("commitLockTimeout")); ok {
		return tx.signal(RetryLockTimeout, nil)
	}

	ensured := make(map[*Ref]bool)
	for _, r := range tx.lockOrder() {
		if _, ok := tx.ensures[r]; ok {
			ensured[r] = true
		}
		tx.releaseIfEnsured(r)
		if !r.latch.LockTimeout(tx.lockWait()) {
			return tx.signal(RetryLockTimeout, r)
		}
		r.committing.Store(true)
		tx.locked = append(tx.locked, r)
		tx.lockedSet[r] = struct{}{}
	}

	for r := range tx.commutes {
		if _, ok := tx.sets[r]; ok {
			continue
		}
		if ensured[r] && r.newestPoint() > tx.readPoint {
			return tx.signal(RetryConflict, r)
		}
		if owner := r.owner; owner != nil && owner != tx.info && owner.running() {
			if !tx.barge(owner) {
				return tx.signal(RetryBlocked, r)
			}
		}
	}

	if err := tx.validate(); err != nil {
		return err
	}

	for r, fns := range tx.commutes {
		if _, ok := tx.sets[r]; ok {
			continue
		}
		var val interface{}
		if e, ok := r.hist.Newest(); ok {
			val = e.Value
		}
		for _, c := range fns {
			var err error
			if val, err = c.fn(val, c.args...); err != nil {
				return err
			}
		}
		tx.vals[r] = val
	}

	// Holds the write latches of a commit which has not taken its point.
	failpoint.Eval(failpointPath("beforeCommitPoint"))

	point := tx.engine.clock.Next()
	for _, r := range tx.locked {
		r.push(tx.vals[r], point)
	}
	tx.release(statusCommitted)
	return nil
}

// validate checks that no ref read by the transaction changed after the
// read point. Refs written by another commit in flight count as changed; a
// ref only latched to be claimed is waited for.
func (tx *Txn) validate() error {
	for r := range tx.reads {
		_, locked := tx.lockedSet[r]
		_, ensured := tx.ensures[r]
		if !locked && !ensured {
			if !r.latch.TryRLock() {
				if r.committing.Load() || !r.latch.RLockTimeout(tx.lockWait()) {
					return tx.signal(RetryValidation, r)
				}
			}
			p := r.newestPoint()
			r.latch.RUnlock()
			if p > tx.readPoint {
				return tx.signal(RetryValidation, r)
			}
			continue
		}
		if r.newestPoint() > tx.readPoint {
			return tx.signal(RetryValidation, r)
		}
	}
	return nil
}
