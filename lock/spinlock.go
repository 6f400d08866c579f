// spinlock.go — test-and-test-and-set spin lock.
//
// Grounded on spec.md §4.5. Protects only lock/scheduler metadata; hold
// times are expected to be microseconds. Never hold this across a
// suspension point (Dispatch/Yield/Suspend/Sleep or a lock/syscall call) —
// doing so would deadlock the core, since nothing else can run to release
// it.

package lock

import (
	"sync/atomic"

	"quantumfiber/internal/cpupause"
)

// SpinLock is a non-reentrant, non-blocking-fiber-aware mutual exclusion
// primitive: contended callers busy-wait, they never suspend.
type SpinLock struct {
	held atomic.Bool
}

// Lock spins until acquired, testing before every compare-and-swap
// attempt so contended cores don't hammer the cache line with writes.
func (s *SpinLock) Lock() {
	for {
		if !s.held.Load() && s.held.CompareAndSwap(false, true) {
			return
		}
		cpupause.Relax()
	}
}

// TryLock attempts to acquire without spinning.
func (s *SpinLock) TryLock() bool {
	return !s.held.Load() && s.held.CompareAndSwap(false, true)
}

// Unlock releases the lock. Calling Unlock without holding it is a
// programming error the caller must not make; SpinLock does not detect it.
func (s *SpinLock) Unlock() {
	s.held.Store(false)
}
