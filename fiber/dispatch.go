// dispatch.go — the dispatch loop and context-switch fabric.
//
// Grounded on spec.md §4.1 (eligibility predicate, fixed-rotation scan,
// between-scan housekeeping) and the teacher's ring24/pinned_consumer.go
// hot/cold adaptive-polling shape (spin budget, activity window, CPU
// relaxation on prolonged idleness), generalized from "poll one ring,
// call a handler" to "poll several rings, then run one eligible fiber".

package fiber

import (
	"fmt"
	"runtime"
	"time"

	"quantumfiber/constants"
	"quantumfiber/internal/cpupause"
	"quantumfiber/internal/timerwheel"
	"quantumfiber/internal/wakering"
	"quantumfiber/internal/xlog"
)

// Run is the per-core dispatch loop. It owns the calling goroutine's OS
// thread for as long as the core is alive; call it in its own goroutine
// per core (Runtime.Start does this).
func (c *Core) Run() {
	runtime.LockOSThread()
	cpupause.SetAffinity(c.id)
	defer runtime.UnlockOSThread()

	var miss int
	for !c.stop.Load() {
		now := uint64(nowNanos())

		if c.completions != nil {
			c.completions.Poll(now)
		}

		c.drainWakeRings()
		c.drainRequestRings()
		c.activity.PollCooldown()

		if slot, ok := c.scanEligible(now); ok {
			c.swapTo(slot)
			miss = 0
			c.activity.MarkActive()
			continue
		}

		if c.activity.Hot() {
			continue
		}
		if miss++; miss >= constants.SpinBudget {
			miss = 0
			c.backoffSleep()
		}
	}
	if d, ok := c.completions.(Drainer); ok {
		c.drainTeardown(d)
	}
	close(c.doneCh)
}

// drainTeardown gives outstanding async syscalls a bounded chance to
// complete during shutdown instead of abandoning them silently: every
// pending request is marked cancelled, then the completion backend is
// polled for a fixed number of passes so requests already in flight can
// still be reaped normally. Anything left after that is logged, not
// leaked forever — the backend itself still owns freeing it whenever its
// real completion eventually lands.
func (c *Core) drainTeardown(d Drainer) {
	d.CancelAll()
	const maxPasses = 1000
	for i := 0; i < maxPasses && d.NumPending() > 0; i++ {
		c.completions.Poll(uint64(nowNanos()))
		if d.NumPending() > 0 {
			time.Sleep(time.Millisecond)
		}
	}
	if n := d.NumPending(); n > 0 {
		xlog.Warn(fmt.Sprintf("fiber: core %d shutting down with %d syscall requests never drained", c.id, n))
	}
}

// scanEligible implements spec.md §4.1's fixed-rotation scan: within one
// pass, occupied slots are visited starting from the rotor position and
// the first eligible one wins. This is intentionally not FIFO.
func (c *Core) scanEligible(now uint64) (uint32, bool) {
	n := uint32(c.capacity())
	for i := uint32(0); i < n; i++ {
		idx := (c.rotor + i) % n
		if !c.isOccupied(idx) {
			continue
		}
		fc := &c.slots[idx]
		if fc.wakeupCycles.Load() <= now {
			c.rotor = (idx + 1) % n
			return idx, true
		}
	}
	return 0, false
}

// swapTo is the context-switch primitive: it hands control to the fiber
// in slot, blocks until that fiber suspends (via Dispatch), and reaps the
// slot if the fiber's entry function returned.
func (c *Core) swapTo(slot uint32) {
	fc := &c.slots[slot]
	c.loaded = fc.Id()
	c.wheel.Untrack(slot)

	fc.resumeCh <- struct{}{}
	<-fc.doneCh

	c.loaded = FiberId{}
	if fc.terminated {
		c.reap(slot)
	}
}

// drainWakeRings applies every pending cross-core wakeup (spec.md §4.2's
// schedule()), one inbound SPSC lane per source core.
func (c *Core) drainWakeRings() {
	for _, ring := range c.wakeRingsIn {
		for {
			msg, ok := ring.Pop()
			if !ok {
				break
			}
			c.applyWake(msg)
		}
	}
}

func (c *Core) applyWake(msg wakering.Msg) {
	if msg.Slot >= uint32(c.capacity()) {
		return
	}
	fc := &c.slots[msg.Slot]
	if fc.generation.Load() == msg.Generation {
		fc.wakeupCycles.Store(constants.WakeupNow)
	}
}

// drainRequestRings applies every pending spawn/join request, from both
// peer cores and the runtime's external bootstrap lane.
func (c *Core) drainRequestRings() {
	for _, ring := range c.requestRingsIn {
		c.drainOneRequestRing(ring)
	}
	if ext := c.rt.externalRingsIn[c.id]; ext != nil {
		c.drainOneRequestRing(ext)
	}
}

func (c *Core) drainOneRequestRing(ring interface {
	Pop() (Request, bool)
}) {
	for {
		req, ok := ring.Pop()
		if !ok {
			return
		}
		switch req.Kind {
		case requestSpawn:
			id := c.spawnLocal(req.Entry, req.Args)
			if req.Reply != nil {
				req.Reply <- id
				continue
			}
			c.rt.pushRequest(c.id, int(req.SpawnWaiter.Core), Request{
				Kind:        requestSpawnReply,
				SpawnWaiter: req.SpawnWaiter,
				SpawnResult: id,
			})
		case requestSpawnReply:
			c.completeSpawnReply(req.SpawnWaiter, req.SpawnResult)
		case requestJoin:
			c.handleJoinRequest(req)
		}
	}
}

// completeSpawnReply delivers a cross-core Spawn's result back to the
// fiber that's parked waiting for it: this runs on the waiter's own core
// (draining the ring the target core just replied on), so writing
// straight into the waiter's slot is the same single-writer access every
// other per-slot field gets.
func (c *Core) completeSpawnReply(waiter FiberId, result FiberId) {
	if waiter.Slot >= uint32(c.capacity()) {
		return
	}
	fc := &c.slots[waiter.Slot]
	if fc.generation.Load() != waiter.Generation {
		return
	}
	fc.spawnResult = result
	c.Wake(waiter)
}

func (c *Core) handleJoinRequest(req Request) {
	if req.JoinTarget.Slot >= uint32(c.capacity()) {
		c.Wake(req.JoinWaiter)
		return
	}
	tfc := &c.slots[req.JoinTarget.Slot]
	if tfc.generation.Load() != req.JoinTarget.Generation || !c.isOccupied(req.JoinTarget.Slot) {
		c.Wake(req.JoinWaiter)
		return
	}
	tfc.joinWaiter = req.JoinWaiter
}

// backoffSleep parks the dispatcher briefly when a full scan found
// nothing eligible and the core has been idle past its hot window. The
// timer wheel gives an advisory earliest-deadline hint; absent any
// tracked deadline this just relaxes the CPU for one spin.
func (c *Core) backoffSleep() {
	if b, ok := c.wheel.PeepMinBucket(); ok {
		d := time.Duration(uint64(b+1)<<timerwheel.Shift) * time.Nanosecond
		const maxBackoff = 2 * time.Millisecond
		if d > maxBackoff {
			d = maxBackoff
		}
		time.Sleep(d)
		return
	}
	cpupause.Relax()
}
