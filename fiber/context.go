// context.go — resident per-slot fiber state.
//
// Grounded on original_source's ThreadContext concept (referenced but not
// separately headered in the retrieved sources — its fields are inferred
// from SleepLock.cc/fiber_syscall.cc's usage of ThreadId/ThreadContext) and
// on spec.md §3's FiberContext description. The "stack" field becomes a
// long-lived goroutine plus a small scratch byte arena; saved_registers has
// no Go analogue (the goroutine's own stack holds that state implicitly).

package fiber

import (
	"sync/atomic"
	"time"

	"quantumfiber/constants"
	"quantumfiber/internal/intrusive"
)

// entryFunc is the top-level callable a spawned fiber executes. It
// receives its own FiberContext handle so it can call Yield/Sleep/Dispatch
// without any goroutine-local lookup — the handle is simply passed down
// the call stack like any other Go value.
type entryFunc func(self *FiberContext, args []any)

// FiberContext is the resident state of one fiber slot on one core, and
// also the public handle fiber code uses to suspend itself. Exactly one
// FiberContext exists per slot for the lifetime of the core; successive
// fibers reuse it and its backing goroutine.
type FiberContext struct {
	core *Core
	slot uint32

	// resumeCh hands control TO the fiber goroutine; doneCh hands control
	// back to the dispatcher. Exactly one of {dispatcher, fiber} ever holds
	// the token, mirroring the sole-runnable-party contract of swap_context.
	resumeCh chan struct{}
	doneCh   chan struct{}

	generation   atomic.Uint32
	wakeupCycles atomic.Uint64

	// stackArena is scratch space retained across reuses of this slot,
	// standing in for spec.md's reused fixed-size stack region. The
	// syscall bridge borrows it for small inline iovecs.
	stackArena [256]byte

	entry entryFunc
	args  []any

	// joinWaiter is the single fiber (if any) parked in Join() waiting for
	// this slot's current inhabitant to terminate.
	joinWaiter FiberId

	// spawnResult carries a cross-core Spawn's outcome back to this fiber.
	// It is written by this fiber's own core's dispatcher (drainOneRequestRing
	// handling the requestSpawnReply the target core sent back) strictly
	// before that same call wakes this fiber, and read only after this fiber resumes from the
	// Suspend() rt.spawn parks it on — never touched while this fiber is
	// runnable, so the write/wake and resume/read pairs never race.
	spawnResult FiberId

	// WaitNode links this context into a lock's FIFO waiter list. Package
	// lock reads and mutates it directly. Only one lock may hold a
	// reference to a given fiber at a time, since a fiber can only be
	// blocked on one thing.
	WaitNode intrusive.Node[FiberContext]

	terminated bool
}

// Id returns the FiberId currently naming this slot's inhabitant.
func (fc *FiberContext) Id() FiberId {
	return FiberId{Core: uint16(fc.core.id), Slot: fc.slot, Generation: fc.generation.Load()}
}

// CoreID returns the id of the core that owns this fiber's slot.
func (fc *FiberContext) CoreID() int { return fc.core.id }

// StackArena exposes the slot's reused scratch region. The async syscall
// bridge borrows it for small inline iovecs rather than allocating.
func (fc *FiberContext) StackArena() []byte { return fc.stackArena[:] }

// Wake marks fid runnable via this fiber's core (same-core fast path or
// the cross-core wakeup ring, chosen automatically).
func (fc *FiberContext) Wake(fid FiberId) { fc.core.Wake(fid) }

// Spawn creates a new fiber, targeting coreHint (or the least-loaded core
// if coreHint < 0), and returns its id. A null id means the target core
// had no free slot.
func (fc *FiberContext) Spawn(coreHint int, entry entryFunc, args ...any) FiberId {
	return fc.core.rt.spawn(fc, coreHint, entry, args)
}

// Dispatch is the single suspension primitive: it hands control back to
// this core's dispatcher and blocks until the dispatcher resumes this
// fiber. All other blocking calls are built on top of it. Spurious wakes
// are possible; callers that wait on a condition must re-check it.
func (fc *FiberContext) Dispatch() {
	fc.doneCh <- struct{}{}
	<-fc.resumeCh
}

// Yield cooperatively reschedules: the fiber becomes immediately
// runnable again but lets other eligible fibers run first.
func (fc *FiberContext) Yield() {
	fc.wakeupCycles.Store(constants.WakeupNow)
	fc.Dispatch()
}

// Suspend blocks indefinitely; only a subsequent Wake (signal/schedule)
// makes this fiber eligible again.
func (fc *FiberContext) Suspend() {
	fc.wakeupCycles.Store(constants.WakeupNever)
	fc.Dispatch()
}

// Sleep suspends the fiber until at least d has elapsed.
func (fc *FiberContext) Sleep(d time.Duration) {
	fc.SuspendUntil(uint64(nowNanos() + int64(d)))
}

// SuspendUntil blocks until either woken or deadlineNanos (in the same
// timebase as Now/Wake) passes, whichever comes first. Sleep is built on
// this; so is the async syscall bridge, which needs a bounded wait with
// an external completion path racing the deadline.
func (fc *FiberContext) SuspendUntil(deadlineNanos uint64) {
	now := nowNanos()
	fc.wakeupCycles.Store(deadlineNanos)
	fc.core.TrackDeadline(fc.slot, deadlineNanos, uint64(now))
	fc.Dispatch()
}

// Join blocks until target terminates. A target that has already exited
// returns immediately: either its generation has moved on, or (the
// window between reap and the slot's next spawnLocal, since generation
// only advances on reuse, not on termination) its slot is simply no
// longer occupied.
func (fc *FiberContext) Join(target FiberId) {
	if int(target.Core) == fc.core.id {
		tfc := &fc.core.slots[target.Slot]
		if tfc.generation.Load() != target.Generation || !fc.core.isOccupied(target.Slot) {
			return
		}
		tfc.joinWaiter = fc.Id()
		fc.Suspend()
		return
	}
	fc.core.rt.pushRequest(fc.core.id, int(target.Core), Request{
		Kind:       requestJoin,
		JoinTarget: target,
		JoinWaiter: fc.Id(),
	})
	fc.Suspend()
}

// loop is the fiber's long-lived backing goroutine, started once per slot
// and reused across every fiber that subsequently inhabits it.
func (fc *FiberContext) loop() {
	for {
		<-fc.resumeCh
		fc.entry(fc, fc.args)
		fc.terminated = true
		fc.doneCh <- struct{}{}
	}
}

func nowNanos() int64 { return time.Now().UnixNano() }

// Now returns the current time in the same timebase as wakeupCycles: a
// monotonically increasing count with no other defined unit. Package
// ioring uses it to compute syscall-bridge deadlines.
func Now() uint64 { return uint64(nowNanos()) }
