package lock

import (
	"testing"
	"time"

	"quantumfiber/fiber"
)

func (l *SleepLockSX) waitForXWaiters(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.meta.Lock()
		got := l.xWaiters.Len()
		l.meta.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d queued writers", n)
}

func (l *SleepLockSX) waitForSWaiters(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.meta.Lock()
		got := l.sWaiters.Len()
		l.meta.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d queued readers", n)
}

// TestSleepLockSXReaderStorm reproduces spec.md §8's "reader storm"
// scenario: a writer holds the lock while 8 readers queue behind it; once
// the writer exits, all 8 readers unblock together (shared_count becomes
// 8), then release, ending with owner == null && shared_count == 0.
func TestSleepLockSXReaderStorm(t *testing.T) {
	const readers = 8
	rt := fiber.NewRuntime(readers+1, 4)
	go rt.Start()
	defer rt.Shutdown()

	l := NewSleepLockSX()

	writerReady := make(chan struct{})
	releaseWriter := make(chan struct{})
	rt.Spawn(0, func(self *fiber.FiberContext, args []any) {
		l.Xlock(self)
		close(writerReady)
		<-releaseWriter
		l.Xunlock(self)
	})
	<-writerReady

	unblocked := make(chan struct{}, readers)
	released := make(chan struct{}, readers)
	for i := 0; i < readers; i++ {
		core := i + 1
		rt.Spawn(core, func(self *fiber.FiberContext, args []any) {
			l.Slock(self)
			unblocked <- struct{}{}
			l.Sunlock(self)
			released <- struct{}{}
		})
	}
	l.waitForSWaiters(t, readers)

	close(releaseWriter)

	for i := 0; i < readers; i++ {
		<-unblocked
	}
	for i := 0; i < readers; i++ {
		<-released
	}

	l.meta.Lock()
	owner, count := l.owner, l.sharedCount
	l.meta.Unlock()
	if !owner.IsNull() || count != 0 {
		t.Fatalf("after reader storm drains: owner=%v sharedCount=%d, want null/0", owner, count)
	}
}

// TestSleepLockSXWriterNotOvertaken checks that a parked writer blocks new
// readers that arrive after it, even though those readers could otherwise
// acquire immediately (no active writer yet).
func TestSleepLockSXWriterNotOvertaken(t *testing.T) {
	rt := fiber.NewRuntime(3, 4)
	go rt.Start()
	defer rt.Shutdown()

	l := NewSleepLockSX()

	firstReaderReady := make(chan struct{})
	releaseFirstReader := make(chan struct{})
	rt.Spawn(0, func(self *fiber.FiberContext, args []any) {
		l.Slock(self)
		close(firstReaderReady)
		<-releaseFirstReader
		l.Sunlock(self)
	})
	<-firstReaderReady

	writerAcquired := make(chan struct{})
	rt.Spawn(1, func(self *fiber.FiberContext, args []any) {
		l.Xlock(self)
		close(writerAcquired)
		l.Xunlock(self)
	})
	l.waitForXWaiters(t, 1)

	lateReaderAcquired := make(chan struct{})
	rt.Spawn(2, func(self *fiber.FiberContext, args []any) {
		l.Slock(self)
		close(lateReaderAcquired)
		l.Sunlock(self)
	})

	select {
	case <-lateReaderAcquired:
		t.Fatal("late reader acquired before the parked writer")
	case <-time.After(30 * time.Millisecond):
	}

	close(releaseFirstReader)
	<-writerAcquired
	<-lateReaderAcquired
}
