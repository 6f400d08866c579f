// core.go — per-worker scheduler state.
//
// Grounded on spec.md §3's Core description and the teacher's control.go /
// ring24 pinned-consumer pattern for the hot/cold dispatch loop shape
// (see dispatch.go). Per-core state (slot table, occupancy bitmap, rotor)
// is written only by this core's own dispatcher goroutine, matching
// spec.md §5's single-writer rule; the only fields touched from other
// goroutines are the atomics inside FiberContext (generation, wakeupCycles)
// and the SPSC rings feeding this core.

package fiber

import (
	"math/bits"
	"sync/atomic"
	"time"

	"quantumfiber/constants"
	"quantumfiber/internal/backoff"
	"quantumfiber/internal/timerwheel"
	"quantumfiber/internal/wakering"
	"quantumfiber/internal/xring"
)

// Poller is the async syscall bridge's hook into the dispatch loop. The
// concrete implementation lives in package ioring; fiber only depends on
// this interface to avoid an import cycle (ioring depends on fiber for
// FiberId and the Wake/Dispatch primitives).
type Poller interface {
	Poll(now uint64)
}

// DiagSink receives fiber lifecycle events. kind is caller-defined (see
// package diag's event kind constants); fiber never interprets it.
type DiagSink interface {
	Record(kind byte, coreID uint16, slot, generation uint32, extra int64)
}

// Drainer is optionally implemented by a Poller that owns cancellable
// outstanding work (the async syscall bridge's pending kernel/offload
// requests). Core.Run's teardown path uses it to give in-flight
// syscalls a bounded chance to complete instead of leaking them
// silently — SPEC_FULL.md §9's resolution of the pending_requests
// teardown question.
type Drainer interface {
	CancelAll()
	NumPending() int
}

// Core is one worker's scheduler: a fixed slot table, an occupancy
// bitmap, and the inbound cross-core rings feeding it.
type Core struct {
	id int
	rt *Runtime

	slots      []FiberContext
	occupiedLo uint64
	occupiedHi uint64
	rotor      uint32

	loaded   FiberId
	loadHint atomic.Int32 // occupied-slot count, for cross-core load balancing

	wakeRingsIn    []*wakering.Ring
	requestRingsIn []*xring.Ring[Request]

	wheel    *timerwheel.Wheel
	activity *backoff.Tracker

	completions Poller
	diag        DiagSink

	stop   atomic.Bool
	doneCh chan struct{}
}

func newCore(id int, rt *Runtime, capacity int) *Core {
	if capacity <= 0 || capacity > 128 {
		panic("fiber: core capacity must be in (0,128]")
	}
	return &Core{
		id:       id,
		rt:       rt,
		slots:    make([]FiberContext, capacity),
		wheel:    timerwheel.New(capacity),
		activity: backoff.New(time.Duration(constants.HotWindowNs)),
		doneCh:   make(chan struct{}),
	}
}

// ID returns this core's numeric index.
func (c *Core) ID() int { return c.id }

// AttachCompletionSource wires the async syscall bridge's reaper into this
// core's dispatch loop. Nil is valid (no async syscall support).
func (c *Core) AttachCompletionSource(p Poller) { c.completions = p }

// AttachDiag wires an optional diagnostics sink. Nil is valid and costs
// one branch per lifecycle event.
func (c *Core) AttachDiag(d DiagSink) { c.diag = d }

func (c *Core) capacity() int { return len(c.slots) }

// ── occupancy bitmap ──────────────────────────────────────────────────

func (c *Core) isOccupied(idx uint32) bool {
	if idx < 64 {
		return c.occupiedLo&(1<<idx) != 0
	}
	return c.occupiedHi&(1<<(idx-64)) != 0
}

func (c *Core) setOccupied(idx uint32) {
	if idx < 64 {
		c.occupiedLo |= 1 << idx
	} else {
		c.occupiedHi |= 1 << (idx - 64)
	}
}

func (c *Core) clearOccupied(idx uint32) {
	if idx < 64 {
		c.occupiedLo &^= 1 << idx
	} else {
		c.occupiedHi &^= 1 << (idx - 64)
	}
}

// allocSlot returns the index of a free slot, or ok=false if the core is
// at capacity (spec.md §7 category 2: resource exhaustion).
func (c *Core) allocSlot() (uint32, bool) {
	n := c.capacity()
	if idx := firstZero(c.occupiedLo, min(n, 64)); idx >= 0 {
		return uint32(idx), true
	}
	if n > 64 {
		if idx := firstZero(c.occupiedHi, n-64); idx >= 0 {
			return uint32(idx + 64), true
		}
	}
	return 0, false
}

func firstZero(word uint64, limit int) int {
	inv := ^word
	if limit < 64 {
		inv &= (uint64(1) << uint(limit)) - 1
	}
	if inv == 0 {
		return -1
	}
	return bits.TrailingZeros64(inv)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ── spawn / reap ──────────────────────────────────────────────────────

// spawnLocal allocates and starts a fiber on this core directly. It must
// only be called by code that is, at the moment of the call, this core's
// single writer: either the dispatch loop itself (draining a request
// ring) or a fiber currently running on this core.
func (c *Core) spawnLocal(fn entryFunc, args []any) FiberId {
	slot, ok := c.allocSlot()
	if !ok {
		return FiberId{}
	}
	fc := &c.slots[slot]
	if fc.resumeCh == nil {
		fc.core = c
		fc.slot = slot
		fc.resumeCh = make(chan struct{})
		fc.doneCh = make(chan struct{})
		fc.WaitNode.Init(fc)
		go fc.loop()
	}
	fc.entry = fn
	fc.args = args
	fc.terminated = false
	fc.joinWaiter = FiberId{}
	fc.generation.Add(1)
	fc.wakeupCycles.Store(constants.WakeupNow)

	c.setOccupied(slot)
	c.loadHint.Add(1)

	id := fc.Id()
	if c.diag != nil {
		c.diag.Record(diagEventSpawn, uint16(c.id), slot, id.Generation, 0)
	}
	return id
}

// reap runs after a fiber's entry function returns: frees the slot, wakes
// any joiner, and untracks any stale timer-wheel entry.
func (c *Core) reap(slot uint32) {
	fc := &c.slots[slot]
	c.clearOccupied(slot)
	c.loadHint.Add(-1)
	c.wheel.Untrack(slot)

	if c.diag != nil {
		c.diag.Record(diagEventTerminate, uint16(c.id), slot, fc.generation.Load(), 0)
	}

	if !fc.joinWaiter.IsNull() {
		c.Wake(fc.joinWaiter)
		fc.joinWaiter = FiberId{}
	}
	fc.entry = nil
	fc.args = nil
}

// RecordDiag forwards a lifecycle/bridge event to the attached DiagSink,
// if any. Safe to call with no sink attached.
func (c *Core) RecordDiag(kind byte, slot, generation uint32, extra int64) {
	if c.diag != nil {
		c.diag.Record(kind, uint16(c.id), slot, generation, extra)
	}
}

// TrackDeadline records that slot has a pending time-based wakeup, for
// the idle-backoff timer wheel's advisory use only.
func (c *Core) TrackDeadline(slot uint32, deadline, now uint64) {
	c.wheel.Track(slot, deadline, now)
}

// ── wakeup ────────────────────────────────────────────────────────────

// Signal marks fid runnable directly. Only valid when the calling code is
// itself running on fid's owning core (the fast, same-core path of
// spec.md §4.2's signal()).
func (c *Core) Signal(fid FiberId) {
	if int(fid.Core) != c.id {
		panic("fiber: Signal called for a fiber not owned by this core")
	}
	if fid.Slot >= uint32(c.capacity()) {
		return
	}
	fc := &c.slots[fid.Slot]
	if fc.generation.Load() == fid.Generation {
		fc.wakeupCycles.Store(constants.WakeupNow)
	}
}

// Wake marks fid runnable, choosing the same-core fast path or the
// appropriate cross-core wakeup ring automatically (spec.md §4.2's
// signal()/schedule() pair, unified at the call site).
func (c *Core) Wake(fid FiberId) {
	if int(fid.Core) == c.id {
		c.Signal(fid)
		return
	}
	target := c.rt.cores[fid.Core]
	ring := target.wakeRingsIn[c.id]
	if !ring.Push(wakering.Msg{Slot: fid.Slot, Generation: fid.Generation}) {
		panic("fiber: wake ring overflow: raise constants.WakeRingCapacity")
	}
}
