package lock

import (
	"testing"
	"time"

	"quantumfiber/fiber"
)

// waitForWaiters polls the waiter count under the lock's own meta guard
// until at least n fibers are queued or the deadline expires. Same-package white-box helper: real production
// code never introspects a lock's waiter queue directly.
func (l *SleepLock) waitForWaiters(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.meta.Lock()
		got := l.waiters.Len()
		l.meta.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d queued waiters", n)
}

// TestSleepLockContendedFIFO reproduces spec.md §8's "contended exclusive
// lock" scenario: one holder, two waiters queued in arrival order, unlocked
// once each. The second waiter must never acquire before the first.
func TestSleepLockContendedFIFO(t *testing.T) {
	rt := fiber.NewRuntime(3, 8)
	go rt.Start()
	defer rt.Shutdown()

	l := NewSleepLock()

	holderReady := make(chan struct{})
	release := make(chan struct{})
	rt.Spawn(0, func(self *fiber.FiberContext, args []any) {
		l.Lock(self)
		close(holderReady)
		for range release {
		}
		l.Unlock(self)
	})
	<-holderReady

	order := make(chan int, 2)

	rt.Spawn(1, func(self *fiber.FiberContext, args []any) {
		l.Lock(self)
		order <- 1
		l.Unlock(self)
	})
	l.waitForWaiters(t, 1)

	rt.Spawn(2, func(self *fiber.FiberContext, args []any) {
		l.Lock(self)
		order <- 2
		l.Unlock(self)
	})
	l.waitForWaiters(t, 2)

	close(release)

	first := <-order
	second := <-order
	if first != 1 || second != 2 {
		t.Fatalf("waiters acquired out of order: got %d then %d, want 1 then 2", first, second)
	}
}

func TestSleepLockTryLockNeverBlocks(t *testing.T) {
	rt := fiber.NewRuntime(1, 4)
	go rt.Start()
	defer rt.Shutdown()

	l := NewSleepLock()
	done := make(chan bool, 2)

	held := make(chan struct{})
	release := make(chan struct{})
	rt.Spawn(0, func(self *fiber.FiberContext, args []any) {
		l.Lock(self)
		close(held)
		// Yield while waiting so the single core can still run the TryLock
		// fiber below; a raw channel receive here would freeze the core.
		for {
			select {
			case <-release:
				l.Unlock(self)
				return
			default:
			}
			self.Yield()
		}
	})
	<-held

	rt.Spawn(0, func(self *fiber.FiberContext, args []any) {
		done <- l.TryLock(self)
	})
	if ok := <-done; ok {
		t.Fatal("TryLock succeeded while another fiber holds the lock")
	}
	close(release)
}
