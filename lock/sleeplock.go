// sleeplock.go — exclusive sleep lock: contended fibers block, not workers.
//
// Grounded on original_source/src/SleepLock.{h,cc} (SleepLock::lock/
// try_lock/unlock/owned), transcribed as the spec.md §4.3 pseudocode
// directly: FiberContext.Suspend replaces the C++ dispatch() call,
// the FIFO waiter list is intrusive.List[fiber.FiberContext].

package lock

import (
	"quantumfiber/fiber"
	"quantumfiber/internal/intrusive"
)

// SleepLock is a mutual exclusion lock whose waiters are fibers, parked
// via Suspend/Dispatch, rather than OS threads.
type SleepLock struct {
	meta    SpinLock
	owner   fiber.FiberId
	waiters *intrusive.List[fiber.FiberContext]
}

// NewSleepLock returns an unlocked SleepLock.
func NewSleepLock() *SleepLock {
	return &SleepLock{waiters: intrusive.New[fiber.FiberContext]()}
}

// Lock blocks self until it holds the lock. Spurious wakes are tolerated:
// the loop re-checks ownership on every return from Suspend, per spec.md
// §4.3's discipline (ownership transfer is stored in owner; owner==self
// is the sole authoritative predicate).
func (l *SleepLock) Lock(self *fiber.FiberContext) {
	l.meta.Lock()
	if l.owner.IsNull() {
		l.owner = self.Id()
		l.meta.Unlock()
		return
	}
	l.waiters.PushBack(&self.WaitNode)
	l.meta.Unlock()

	for {
		self.Suspend()
		l.meta.Lock()
		if l.owner == self.Id() {
			l.meta.Unlock()
			return
		}
		l.meta.Unlock()
	}
}

// TryLock acquires the lock without blocking, or reports false. It never
// touches the waiter list.
func (l *SleepLock) TryLock(self *fiber.FiberContext) bool {
	l.meta.Lock()
	defer l.meta.Unlock()
	if l.owner.IsNull() {
		l.owner = self.Id()
		return true
	}
	return false
}

// Unlock releases the lock, transferring ownership to the head waiter (if
// any) before releasing meta — matching spec.md §4.3's unlock() pseudocode,
// where schedule(next) runs while meta is still held (Wake never suspends,
// so this cannot deadlock the core).
func (l *SleepLock) Unlock(self *fiber.FiberContext) {
	l.meta.Lock()
	if l.owner != self.Id() {
		l.meta.Unlock()
		panic("lock: SleepLock.Unlock called by non-owner")
	}
	next := l.waiters.PopFront()
	if next == nil {
		l.owner = fiber.FiberId{}
		l.meta.Unlock()
		return
	}
	nextId := next.Id()
	l.owner = nextId
	self.Wake(nextId)
	l.meta.Unlock()
}

// Owned reports whether the lock is currently held by anyone, matching
// SleepLock::owned() in the original (owner != nullptr) rather than
// asking about a particular fiber — Lock and Unlock already use owner
// equality for that.
func (l *SleepLock) Owned() bool {
	l.meta.Lock()
	defer l.meta.Unlock()
	return !l.owner.IsNull()
}
