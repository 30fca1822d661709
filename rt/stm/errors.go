package stm

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotInTransaction is returned by Set, Alter, Commute and Touch when the
	// context carries no running transaction.
	ErrNotInTransaction = errors.New("stm: no transaction running")
	// ErrUnbound is returned when reading a Ref which has never been given a
	// value.
	ErrUnbound = errors.New("stm: ref is unbound")
	// ErrSetAfterCommute is returned when a transaction sets a Ref it has
	// already commuted.
	ErrSetAfterCommute = errors.New("stm: can't set after commute")
	// ErrForeignRef is returned when a Ref is used in a transaction of another
	// Engine.
	ErrForeignRef = errors.New("stm: ref belongs to another engine")
	// ErrTransactionFailed is returned once a transaction used up its retry
	// budget.
	ErrTransactionFailed = errors.New("stm: transaction failed after reaching retry limit")
)

// RetryReason tells why an attempt was abandoned.
type RetryReason int

const (
	// RetryConflict: a ref to be written or ensured was committed after the
	// transaction's read point.
	RetryConflict RetryReason = iota
	// RetryValidation: a ref read by the transaction changed before commit.
	RetryValidation
	// RetryLockTimeout: a latch could not be taken in time.
	RetryLockTimeout
	// RetryHistoryFault: the history of a ref no longer holds a value old
	// enough for the read point.
	RetryHistoryFault
	// RetryBarged: an older transaction killed this one.
	RetryBarged
	// RetryBlocked: a ref is owned by an older (or equally old) running
	// transaction.
	RetryBlocked

	retryReasonCount
)

func (r RetryReason) String() string {
	switch r {
	case RetryConflict:
		return "conflict"
	case RetryValidation:
		return "validation"
	case RetryLockTimeout:
		return "lock-timeout"
	case RetryHistoryFault:
		return "history-fault"
	case RetryBarged:
		return "barged"
	case RetryBlocked:
		return "blocked"
	}
	return "unknown"
}

// retryError is the internal signal which makes the runner start a new
// attempt. It never leaves RunInTransaction.
type retryError struct {
	reason RetryReason
	ref    uint64
}

func (e *retryError) Error() string {
	return fmt.Sprintf("stm: retry transaction (%s on ref %d)", e.reason, e.ref)
}

func isRetry(err error) bool {
	var re *retryError
	return errors.As(err, &re)
}

func unboundError(r *Ref) error {
	return errors.WithMessagef(ErrUnbound, "ref %d", r.id)
}
