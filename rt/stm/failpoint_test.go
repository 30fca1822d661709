package stm

import (
	"context"
	"testing"
	"time"

	"github.com/pingcap/failpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCommitLockTimeout fails the first commit while it latches; the attempt
// is retried and commits.
func TestCommitLockTimeout(t *testing.T) {
	e := newTestEngine(t)
	r := e.NewRef(0)

	fp := failpointPath("commitLockTimeout")
	require.NoError(t, failpoint.Enable(fp, `1*return(true)`))
	defer failpoint.Disable(fp)

	runs := 0
	_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
		runs++
		return r.Alter(ctx, inc)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, runs)
	assert.Equal(t, 1, mustDeref(t, r))
	assert.Equal(t, uint64(1), e.Stats().Retries[RetryLockTimeout])

	readers, writer := r.latch.State()
	assert.Equal(t, 0, readers)
	assert.False(t, writer)
}

// TestDerefWhileCommitPaused stops a commit while it holds its write latches
// and reads the ref from outside any transaction.
func TestDerefWhileCommitPaused(t *testing.T) {
	e := newTestEngine(t)
	r := e.NewRef(1)

	fp := failpointPath("beforeCommitPoint")
	require.NoError(t, failpoint.Enable(fp, `pause`))
	paused := true
	defer func() {
		if paused {
			failpoint.Disable(fp)
		}
	}()

	done := make(chan error, 1)
	go func() {
		_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
			return r.Set(ctx, 2)
		})
		done <- err
	}()

	committing := func() bool {
		e.registry.mu.Lock()
		defer e.registry.mu.Unlock()
		for _, tx := range e.registry.txns {
			if tx.info.status.Load() == statusCommitting {
				return true
			}
		}
		return false
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, writer := r.latch.State(); writer && committing() {
			break
		}
		require.True(t, time.Now().Before(deadline), "commit never latched")
		time.Sleep(time.Millisecond)
	}

	start := time.Now()
	assert.Equal(t, 1, mustDeref(t, r))
	assert.True(t, time.Since(start) < e.Config().LockWaitTimeout.Duration)
	assert.Equal(t, 1, e.ActiveTransactions())

	require.NoError(t, failpoint.Disable(fp))
	paused = false
	require.NoError(t, <-done)
	assert.Equal(t, 2, mustDeref(t, r))
}
