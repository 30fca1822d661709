package latches

import (
	"sync"
	"time"
)

// RWLatch is the per-Ref lock. Any number of readers or a single writer may
// hold it. Unlike sync.RWMutex it can be tried without blocking and waited on
// for a bounded time, which is what lets transactions give up and retry instead
// of deadlocking.
//
// Waiters are not queued: every release wakes all of them and they race for the
// latch again. A writer therefore does not block new readers while it waits.
// Ensured refs rely on this, a reader holding the latch for a whole transaction
// keeps writers out without slowing other readers down.
type RWLatch struct {
	mu      sync.Mutex
	readers int
	writer  bool
	// released is closed and replaced every time the latch becomes more
	// available. Threads who find the latch taken wait on it.
	released chan struct{}
}

func (l *RWLatch) releasedCh() chan struct{} {
	if l.released == nil {
		l.released = make(chan struct{})
	}
	return l.released
}

func (l *RWLatch) wakeAll() {
	if l.released != nil {
		close(l.released)
		l.released = nil
	}
}

// tryLock attempts to take the latch. If it can't, it returns a channel which
// will be closed once the latch state changes.
func (l *RWLatch) tryLock(write bool) (bool, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if write {
		if !l.writer && l.readers == 0 {
			l.writer = true
			return true, nil
		}
	} else if !l.writer {
		l.readers++
		return true, nil
	}
	return false, l.releasedCh()
}

// waitFor tries to take the latch until it succeeds or timeout elapses. A
// non-positive timeout makes a single attempt.
func (l *RWLatch) waitFor(write bool, timeout time.Duration) bool {
	ok, ch := l.tryLock(write)
	if ok || timeout <= 0 {
		return ok
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ch:
		case <-timer.C:
			// One last attempt, the latch may have been freed just now.
			ok, _ = l.tryLock(write)
			return ok
		}
		if ok, ch = l.tryLock(write); ok {
			return true
		}
	}
}

// wait blocks until the latch is taken.
func (l *RWLatch) wait(write bool) {
	for {
		ok, ch := l.tryLock(write)
		if ok {
			return
		}
		<-ch
	}
}

// Lock blocks until the write latch is taken.
func (l *RWLatch) Lock() {
	l.wait(true)
}

// RLock blocks until a read latch is taken.
func (l *RWLatch) RLock() {
	l.wait(false)
}

// TryLock takes the write latch if it is free right now.
func (l *RWLatch) TryLock() bool {
	ok, _ := l.tryLock(true)
	return ok
}

// TryRLock takes a read latch if no writer holds the latch right now.
func (l *RWLatch) TryRLock() bool {
	ok, _ := l.tryLock(false)
	return ok
}

// LockTimeout waits at most timeout for the write latch and reports whether it
// was taken.
func (l *RWLatch) LockTimeout(timeout time.Duration) bool {
	return l.waitFor(true, timeout)
}

// RLockTimeout waits at most timeout for a read latch and reports whether it
// was taken.
func (l *RWLatch) RLockTimeout(timeout time.Duration) bool {
	return l.waitFor(false, timeout)
}

// Unlock releases the write latch.
func (l *RWLatch) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.writer {
		panic("latches: Unlock of unlocked RWLatch")
	}
	l.writer = false
	l.wakeAll()
}

// RUnlock releases one read latch.
func (l *RWLatch) RUnlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readers <= 0 {
		panic("latches: RUnlock of unlocked RWLatch")
	}
	l.readers--
	if l.readers == 0 {
		l.wakeAll()
	}
}

// State returns the number of readers and whether a writer holds the latch.
func (l *RWLatch) State() (readers int, writer bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readers, l.writer
}
