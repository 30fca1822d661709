package stm

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinyclj/tinyclj/rt/config"
)

// TestRetryLimit runs a body which always conflicts.
func TestRetryLimit(t *testing.T) {
	conf := config.NewTestConfig()
	conf.STM.RetryLimit = 5
	e := newTestEngineWithConfig(t, conf)
	r := e.NewRef(0)

	runs := 0
	_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
		runs++
		v, err := r.Deref(ctx)
		if err != nil {
			return nil, err
		}
		setOutside(t, r, v.(int)+1)
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransactionFailed))
	assert.Contains(t, err.Error(), "5 attempts")
	assert.Contains(t, err.Error(), RetryValidation.String())
	assert.Equal(t, 5, runs)
	assert.Equal(t, 5, mustDeref(t, r))

	s := e.Stats()
	assert.Equal(t, uint64(1), s.Failures)
	assert.Equal(t, uint64(5), s.Retries[RetryValidation])
	assert.Equal(t, 0, e.ActiveTransactions())
}

// TestBodyErrorAborts returns the body's error as is and commits nothing.
func TestBodyErrorAborts(t *testing.T) {
	e := newTestEngine(t)
	r := e.NewRef(0)
	boom := errors.New("boom")

	runs := 0
	_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
		runs++
		if _, err := r.Set(ctx, 1); err != nil {
			return nil, err
		}
		return nil, boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, runs)
	assert.Equal(t, 0, mustDeref(t, r))
	assert.Equal(t, uint64(1), e.Stats().Aborts)

	// The aborted transaction no longer owns the ref.
	setOutside(t, r, 2)
	assert.Equal(t, 2, mustDeref(t, r))
}

// TestCommuteErrorAtCommit fails a commute only when it is applied at commit.
func TestCommuteErrorAtCommit(t *testing.T) {
	e := newTestEngine(t)
	r := e.NewRef("ok")
	bad := errors.New("bad value")
	check := func(old interface{}, args ...interface{}) (interface{}, error) {
		if old == "bad" {
			return nil, bad
		}
		return old.(string) + "!", nil
	}

	_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
		v, err := r.Commute(ctx, check)
		if err != nil {
			return nil, err
		}
		assert.Equal(t, "ok!", v)
		setOutside(t, r, "bad")
		return v, nil
	})
	assert.Equal(t, bad, err)
	assert.Equal(t, "bad", mustDeref(t, r))
	readers, writer := r.latch.State()
	assert.Equal(t, 0, readers)
	assert.False(t, writer)
}

// TestPanicReleasesLatches panics in a body holding an ensure and an owned
// ref; both are free again afterwards.
func TestPanicReleasesLatches(t *testing.T) {
	e := newTestEngine(t)
	owned, ensured := e.NewRef(0), e.NewRef(0)

	assert.Panics(t, func() {
		_, _ = e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
			if _, err := owned.Set(ctx, 1); err != nil {
				return nil, err
			}
			if err := ensured.Touch(ctx); err != nil {
				return nil, err
			}
			panic("body panicked")
		})
	})
	assert.Equal(t, 0, e.ActiveTransactions())
	for _, r := range []*Ref{owned, ensured} {
		readers, writer := r.latch.State()
		assert.Equal(t, 0, readers)
		assert.False(t, writer)
	}

	start := time.Now()
	setOutside(t, owned, 2)
	setOutside(t, ensured, 2)
	assert.True(t, time.Since(start) < e.Config().LockWaitTimeout.Duration)
	assert.Equal(t, uint64(0), e.Stats().TotalRetries())
}

// TestNestedTransactionJoinsOuter runs a transaction inside another one; both
// bodies share one transaction and one commit.
func TestNestedTransactionJoinsOuter(t *testing.T) {
	e := newTestEngine(t)
	r := e.NewRef(0)

	v, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
		outer := FromContext(ctx)
		if _, err := r.Set(ctx, 1); err != nil {
			return nil, err
		}
		_, err := e.RunInTransaction(ctx, func(ctx context.Context) (interface{}, error) {
			assert.True(t, outer == FromContext(ctx))
			return r.Alter(ctx, inc)
		})
		if err != nil {
			return nil, err
		}
		// Not committed yet.
		assert.Equal(t, 0, mustDeref(t, r))
		return r.Deref(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, mustDeref(t, r))

	s := e.Stats()
	assert.Equal(t, uint64(1), s.Commits)
	assert.Equal(t, uint64(1), s.Attempts)
}

// TestDroppedRetryStillRetries ignores the error of a read which must retry;
// the attempt is not committed anyway.
func TestDroppedRetryStillRetries(t *testing.T) {
	e := newTestEngine(t)
	r, w := e.NewRef(0), e.NewRef(0)

	runs := 0
	_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
		runs++
		if runs == 1 {
			setOutside(t, r, 1)
		}
		// History fault on the first run, dropped on purpose.
		_, _ = r.Deref(ctx)
		_, _ = w.Set(ctx, runs)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, runs)
	assert.Equal(t, 2, mustDeref(t, w))
	assert.Equal(t, uint64(1), e.Stats().Retries[RetryHistoryFault])
}

// TestTxnOutlivingAttempt uses the context of a finished attempt.
func TestTxnOutlivingAttempt(t *testing.T) {
	e := newTestEngine(t)
	r := e.NewRef(0)

	var leaked context.Context
	_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
		leaked = ctx
		return nil, nil
	})
	require.NoError(t, err)

	_, err = r.Set(leaked, 1)
	assert.Equal(t, ErrNotInTransaction, err)
	assert.Equal(t, 0, mustDeref(t, r))
}

// TestRetriedAttemptContext keeps the context of an attempt which ended in a
// retry. It carries no transaction: operations on it fail as outside any
// transaction and a transaction run on it starts afresh.
func TestRetriedAttemptContext(t *testing.T) {
	e := newTestEngine(t)
	r, w := e.NewRef(0), e.NewRef(0)

	var first context.Context
	_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
		if first == nil {
			first = ctx
			setOutside(t, r, 1)
		}
		if _, err := r.Deref(ctx); err != nil {
			return nil, err
		}
		return w.Set(ctx, 1)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Stats().Retries[RetryHistoryFault])

	assert.Nil(t, FromContext(first))
	assert.False(t, InTransaction(first))
	_, err = w.Set(first, 5)
	assert.Equal(t, ErrNotInTransaction, err)
	assert.False(t, isRetry(err))
	assert.Equal(t, ErrNotInTransaction, w.Touch(first))
	v, err := r.Deref(first)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = e.RunInTransaction(first, func(ctx context.Context) (interface{}, error) {
		return w.Alter(ctx, inc)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, mustDeref(t, w))
}

func TestBackoffIsBounded(t *testing.T) {
	conf := config.NewTestConfig()
	conf.STM.RetryBackoffBase = config.NewDuration(time.Microsecond)
	conf.STM.RetryBackoffMax = config.NewDuration(2 * time.Millisecond)
	e := newTestEngineWithConfig(t, conf)

	start := time.Now()
	for attempt := 1; attempt <= 40; attempt++ {
		e.backoff(attempt)
	}
	assert.True(t, time.Since(start) < 40*(2*time.Millisecond)+time.Second)

	conf.STM.RetryBackoffBase = config.NewDuration(0)
	e = newTestEngineWithConfig(t, conf)
	start = time.Now()
	e.backoff(10)
	assert.True(t, time.Since(start) < time.Millisecond)
}
