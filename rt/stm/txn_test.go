package stm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinyclj/tinyclj/rt/config"
	"github.com/tinyclj/tinyclj/rt/stm/clock"
	"go.uber.org/atomic"
)

// TestConcurrentAlter runs two streams of increments on one ref; none is lost.
func TestConcurrentAlter(t *testing.T) {
	e := newTestEngine(t)
	r := e.NewRef(0)

	const perWorker = 10000
	var (
		wg    sync.WaitGroup
		calls atomic.Uint64
	)
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
					calls.Inc()
					return r.Alter(ctx, inc)
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2*perWorker, mustDeref(t, r))
	s := e.Stats()
	assert.Equal(t, uint64(2*perWorker), s.Commits)
	assert.True(t, calls.Load() >= s.Commits)
	assert.Equal(t, calls.Load(), s.Attempts)
	assert.Equal(t, s.Attempts, s.Commits+s.TotalRetries())
}

// TestConcurrentCommutes never retries: commutes of one ref don't conflict.
func TestConcurrentCommutes(t *testing.T) {
	conf := config.NewTestConfig()
	conf.STM.LockWaitTimeout = config.NewDuration(5 * time.Second)
	e := newTestEngineWithConfig(t, conf)
	r := e.NewRef(0)

	const (
		workers   = 4
		perWorker = 1000
	)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
					return r.Commute(ctx, inc, d)
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}(w + 1)
	}
	wg.Wait()

	assert.Equal(t, perWorker*(1+2+3+4), mustDeref(t, r))
	s := e.Stats()
	assert.Equal(t, uint64(0), s.TotalRetries())
	assert.Equal(t, uint64(workers*perWorker), s.Attempts)
}

// TestCommuteAppliedAtCommit commits a value between the commute and the
// commit; the commute applies to it without a retry.
func TestCommuteAppliedAtCommit(t *testing.T) {
	e := newTestEngine(t)
	r := e.NewRef(0)

	attempts := 0
	v, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		v, err := r.Commute(ctx, inc)
		if err != nil {
			return nil, err
		}
		// Read your own commute.
		own, err := r.Deref(ctx)
		if err != nil {
			return nil, err
		}
		assert.Equal(t, v, own)

		setOutside(t, r, 100)
		return v, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, v)
	assert.Equal(t, 101, mustDeref(t, r))
}

func TestCommuteAfterSet(t *testing.T) {
	e := newTestEngine(t)
	r := e.NewRef(0)
	v, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
		if _, err := r.Set(ctx, 10); err != nil {
			return nil, err
		}
		if _, err := r.Commute(ctx, inc); err != nil {
			return nil, err
		}
		return r.Set(ctx, 20)
	})
	require.NoError(t, err)
	assert.Equal(t, 20, v)
	assert.Equal(t, 20, mustDeref(t, r))
}

func TestSetAfterCommute(t *testing.T) {
	e := newTestEngine(t)
	r := e.NewRef(0)
	_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
		if _, err := r.Commute(ctx, inc); err != nil {
			return nil, err
		}
		return r.Set(ctx, 5)
	})
	assert.Equal(t, ErrSetAfterCommute, err)
	assert.Equal(t, 0, mustDeref(t, r))
	assert.Equal(t, uint64(1), e.Stats().Aborts)
}

// TestTouchBlocksSet holds an ensure on a ref; a concurrent writer can't
// commit until the ensuring transaction ends.
func TestTouchBlocksSet(t *testing.T) {
	e := newTestEngine(t)
	r := e.NewRef(0)

	var (
		touched = make(chan struct{})
		once    sync.Once
		wg      sync.WaitGroup
		unseen  atomic.Bool
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
			if err := r.Touch(ctx); err != nil {
				return nil, err
			}
			// Touching twice is a no-op.
			if err := r.Touch(ctx); err != nil {
				return nil, err
			}
			once.Do(func() { close(touched) })
			time.Sleep(100 * time.Millisecond)
			if mustDeref(t, r) == 0 {
				unseen.Store(true)
			}
			return r.Deref(ctx)
		})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		<-touched
		_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
			return r.Set(ctx, 1)
		})
		assert.NoError(t, err)
	}()
	wg.Wait()

	assert.True(t, unseen.Load())
	assert.Equal(t, 1, mustDeref(t, r))
	assert.True(t, e.Stats().Retries[RetryLockTimeout] > 0)
}

// TestTouchConflict ensures a ref committed after the read point.
func TestTouchConflict(t *testing.T) {
	e := newTestEngine(t)
	r := e.NewRef(0)
	attempts := 0
	_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts == 1 {
			setOutside(t, r, 1)
		}
		return nil, r.Touch(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, uint64(1), e.Stats().Retries[RetryConflict])
	readers, writer := r.latch.State()
	assert.Equal(t, 0, readers)
	assert.False(t, writer)
}

// TestDerefDuringCommit reads a ref from outside while a commit to it holds
// its latch; the read returns the previous value at once.
func TestDerefDuringCommit(t *testing.T) {
	c := clock.NewManual(0)
	e := newTestEngine(t, WithClock(c))
	r := e.NewRef(1)

	var (
		during  interface{}
		elapsed time.Duration
		writer  bool
	)
	c.OnNext = func(uint64) {
		_, writer = r.latch.State()
		start := time.Now()
		during = mustDeref(t, r)
		elapsed = time.Since(start)
	}
	setOutside(t, r, 2)

	assert.True(t, writer)
	assert.Equal(t, 1, during)
	assert.True(t, elapsed < e.Config().LockWaitTimeout.Duration)
	assert.Equal(t, 2, mustDeref(t, r))
}

// holdLatch write latches r from another goroutine for d, marking it as
// committed to when committing is set. It returns once the latch is held.
func holdLatch(r *Ref, d time.Duration, committing bool) {
	latched := make(chan struct{})
	go func() {
		r.latch.Lock()
		r.committing.Store(committing)
		close(latched)
		time.Sleep(d)
		r.committing.Store(false)
		r.latch.Unlock()
	}()
	<-latched
}

// TestValidationWaitsForClaim commits while a ref it read is latched by a
// transaction claiming it; nothing was committed to it, so no retry.
func TestValidationWaitsForClaim(t *testing.T) {
	e := newTestEngine(t)
	r, w := e.NewRef(0), e.NewRef(0)

	runs := 0
	_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
		runs++
		if _, err := r.Deref(ctx); err != nil {
			return nil, err
		}
		if _, err := w.Set(ctx, runs); err != nil {
			return nil, err
		}
		if runs == 1 {
			holdLatch(r, 5*time.Millisecond, false)
		}
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
	assert.Equal(t, uint64(0), e.Stats().TotalRetries())
	assert.Equal(t, 1, mustDeref(t, w))
}

// TestValidationFailsWhileCommitted commits while a ref it read is latched by
// a commit in flight.
func TestValidationFailsWhileCommitted(t *testing.T) {
	e := newTestEngine(t)
	r, w := e.NewRef(0), e.NewRef(0)

	runs := 0
	_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
		runs++
		if _, err := r.Deref(ctx); err != nil {
			return nil, err
		}
		if _, err := w.Set(ctx, runs); err != nil {
			return nil, err
		}
		if runs == 1 {
			holdLatch(r, 10*time.Millisecond, true)
		}
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, runs)
	assert.Equal(t, uint64(1), e.Stats().Retries[RetryValidation])
	assert.Equal(t, 2, mustDeref(t, w))
}

// TestSnapshotAcrossRefs reads two refs written together; a transaction never
// sees one without the other.
func TestSnapshotAcrossRefs(t *testing.T) {
	e := newTestEngine(t)
	a, b := e.NewRef(0), e.NewRef(0)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
				if _, err := a.Set(ctx, i); err != nil {
					return nil, err
				}
				return b.Set(ctx, i)
			})
			if err != nil {
				t.Error(err)
				return
			}
			time.Sleep(10 * time.Microsecond)
		}
	}()

	for i := 0; i < 200; i++ {
		_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
			va, err := a.Deref(ctx)
			if err != nil {
				return nil, err
			}
			vb, err := b.Deref(ctx)
			if err != nil {
				return nil, err
			}
			if va != vb {
				return nil, errors.Errorf("torn read: %v != %v", va, vb)
			}
			return nil, nil
		})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

// TestBarging lets an older transaction take a ref owned by a younger one.
func TestBarging(t *testing.T) {
	e := newTestEngine(t)
	r, other := e.NewRef("init"), e.NewRef(0)

	var (
		aStarted = make(chan struct{})
		bOwns    = make(chan struct{})
		bGo      = make(chan struct{})
		aOnce    sync.Once
		bOnce    sync.Once
		bRuns    atomic.Int32
		aErr     = make(chan error, 1)
		bErr     = make(chan error, 1)
	)
	go func() {
		_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
			aOnce.Do(func() { close(aStarted) })
			<-bOwns
			return r.Set(ctx, "a")
		})
		aErr <- err
	}()

	<-aStarted
	// Make the next transaction strictly younger.
	setOutside(t, other, 1)

	go func() {
		_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
			bRuns.Inc()
			if _, err := r.Set(ctx, "b"); err != nil {
				return nil, err
			}
			bOnce.Do(func() { close(bOwns) })
			<-bGo
			return nil, nil
		})
		bErr <- err
	}()

	require.NoError(t, <-aErr)
	assert.Equal(t, "a", mustDeref(t, r))
	close(bGo)
	require.NoError(t, <-bErr)

	assert.Equal(t, "b", mustDeref(t, r))
	assert.Equal(t, int32(2), bRuns.Load())
	s := e.Stats()
	assert.Equal(t, uint64(1), s.Barges)
	assert.Equal(t, uint64(1), s.Retries[RetryBarged])
}

// TestYoungerWaitsForOwner makes a younger transaction find a ref owned by an
// older running one: it waits for the owner and retries.
func TestYoungerWaitsForOwner(t *testing.T) {
	e := newTestEngine(t)
	r := e.NewRef(0)

	var (
		owned    = make(chan struct{})
		release  = make(chan struct{})
		once     sync.Once
		olderErr = make(chan error, 1)
	)
	go func() {
		_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
			if _, err := r.Set(ctx, 1); err != nil {
				return nil, err
			}
			once.Do(func() { close(owned) })
			<-release
			return nil, nil
		})
		olderErr <- err
	}()
	<-owned

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	_, err := e.RunInTransaction(context.Background(), func(ctx context.Context) (interface{}, error) {
		return r.Alter(ctx, inc)
	})
	require.NoError(t, err)
	require.NoError(t, <-olderErr)

	assert.Equal(t, 2, mustDeref(t, r))
	s := e.Stats()
	assert.Equal(t, uint64(0), s.Barges)
	assert.True(t, s.Retries[RetryBlocked] > 0)
}
