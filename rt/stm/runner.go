package stm

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Body is the code of a transaction. It may run several times and should
// have no side effects besides Ref operations through ctx.
type Body func(ctx context.Context) (interface{}, error)

// RunInTransaction runs body in a transaction and returns what it returns.
// The transaction commits when body returns a nil error and is run again from
// scratch when it conflicts with another one, up to the configured retry
// limit. A non-nil error from body, or from a commute function at commit,
// discards the transaction and is returned as is.
//
// If ctx already carries a running transaction body joins it.
func (e *Engine) RunInTransaction(ctx context.Context, body Body) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx := FromContext(ctx); tx != nil {
		if tx.engine != e {
			return nil, ErrForeignRef
		}
		return body(ctx)
	}

	var (
		seq        uint64
		startPoint uint64
		startTime  time.Time
		last       *retryError
	)
	limit := e.conf.RetryLimit
	for attempt := 1; attempt <= limit; attempt++ {
		id := e.txnIDs.Inc()
		readPoint := e.clock.Current()
		if attempt == 1 {
			seq, startPoint, startTime = id, readPoint, time.Now()
		}
		tx := newTxn(e, newTxnInfo(id, seq, startPoint, startTime), readPoint, attempt)

		val, err := e.runAttempt(ctx, tx, body)
		if err == nil {
			e.stats.commits.Inc()
			txnCounter.WithLabelValues("commit").Inc()
			attemptsHistogram.Observe(float64(attempt))
			return val, nil
		}
		var re *retryError
		if !errors.As(err, &re) {
			e.stats.aborts.Inc()
			txnCounter.WithLabelValues("abort").Inc()
			return nil, err
		}
		last = re
		e.stats.retries[re.reason].Inc()
		retryCounter.WithLabelValues(re.reason.String()).Inc()
		e.logger.Debug("transaction retry",
			zap.Uint64("txn", seq),
			zap.Int("attempt", attempt),
			zap.Stringer("reason", re.reason),
			zap.Uint64("ref", re.ref))
		if attempt < limit {
			e.backoff(attempt)
		}
	}

	e.stats.failures.Inc()
	txnCounter.WithLabelValues("fail").Inc()
	attemptsHistogram.Observe(float64(limit))
	e.logger.Warn("transaction failed",
		zap.Uint64("txn", seq),
		zap.Int("attempts", limit),
		zap.Stringer("last-reason", last.reason))
	return nil, errors.Wrapf(ErrTransactionFailed, "%d attempts, last retry: %s", limit, last.reason)
}

func (e *Engine) runAttempt(ctx context.Context, tx *Txn, body Body) (interface{}, error) {
	e.stats.attempts.Inc()
	e.registry.add(tx)
	defer e.registry.remove(tx)
	defer tx.release(statusRetry)

	val, err := body(withTxn(ctx, tx))
	if tx.retry != nil {
		return nil, tx.retry
	}
	if err != nil {
		return nil, err
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	return val, nil
}

// backoff sleeps a random time of at most RetryBackoffBase * 2^(attempt-1),
// capped at RetryBackoffMax.
func (e *Engine) backoff(attempt int) {
	base, max := e.conf.RetryBackoffBase.Duration, e.conf.RetryBackoffMax.Duration
	if base <= 0 || max <= 0 {
		return
	}
	shift := uint(attempt - 1)
	if shift > 20 {
		shift = 20
	}
	d := base << shift
	if d > max || d <= 0 {
		d = max
	}
	time.Sleep(time.Duration(rand.Int63n(int64(d))) + 1)
}

// Sync runs body in a transaction of the default engine.
func Sync(ctx context.Context, body Body) (interface{}, error) {
	return Default().RunInTransaction(ctx, body)
}

// NewUnboundRef creates an unbound Ref on the default engine.
func NewUnboundRef(opts ...RefOption) *Ref {
	return Default().NewUnboundRef(opts...)
}
