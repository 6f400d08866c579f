// ═══════════════════════════════════════════════════════════════════════════════════════════════
// Idle-Backoff Timer Wheel — 128-Bucket Hierarchical Bitmap Index
// ───────────────────────────────────────────────────────────────────────────────────────────────
// Project: Fiber Runtime Core
// Component: Advisory earliest-deadline index for the per-core dispatch loop
//
// Description:
//   Tracks, per core, which currently-parked fibers have a pending time-based wakeup
//   (spec.md §4.1's wakeup_time_cycles), bucketed by how far in the future (relative to
//   the cycle count observed at Track time) that wakeup falls. PeepMinBucket answers
//   "roughly how soon is the next deadline" in O(1) via CLZ bitmap scanning, so an idle
//   dispatcher can size its backoff sleep instead of hot-spinning or guessing.
//
//   This structure is advisory only. It is never consulted to decide which fiber may
//   run — that is the fixed-rotation occupancy scan spec.md §4.1 mandates. A stale or
//   wrong bucket here only costs a slightly too-long or too-short backoff nap, never a
//   missed wakeup (the scan re-derives eligibility from wakeup_time_cycles directly).
//
// Grounded on: compactqueue128/queue.go's three-level bitmap hierarchy and CLZ-based
// PeepMin, generalized from a fixed-address arena of Entry structs to one entry per
// fiber slot (indexed directly by slot index — a fiber's timer-wheel entry and its
// FiberContext slot are the same index, so no separate handle/freelist bookkeeping
// is needed).
// ═══════════════════════════════════════════════════════════════════════════════════════════════

package timerwheel

import "math/bits"

const (
	// Buckets is the wheel's resolution: 128 quantized "how soon" buckets,
	// matching compactqueue128's BucketCount.
	Buckets = 128

	nilIdx = ^uint32(0)
)

type entry struct {
	bucket int32 // active bucket index + 1, or 0 if not tracked
	next   uint32
	prev   uint32
}

// groupBlock mirrors compactqueue128's single-group, two-lane summary: 128
// buckets fit in two 64-bit lane masks under one group bit.
type groupBlock struct {
	l1Summary uint64
	l2        [2]uint64
}

// Wheel is a per-core advisory index of parked-with-timeout fibers.
type Wheel struct {
	entries []entry
	buckets [Buckets]uint32
	group   groupBlock
	summary uint64
	size    int
}

// New allocates a wheel sized for capacity fiber slots.
func New(capacity int) *Wheel {
	w := &Wheel{entries: make([]entry, capacity)}
	for i := range w.buckets {
		w.buckets[i] = nilIdx
	}
	return w
}

// Shift controls how coarsely deadlines are bucketed: bucket = (deadline-now)>>Shift,
// clamped to [0, Buckets-1]. Deadlines are in nanoseconds (fiber's wakeup timebase),
// so 20 bits is about 1.05ms per bucket step, wide enough to cover typical
// lock/timeout wait windows.
const Shift = 20

func bucketFor(deadline, now uint64) int {
	if deadline <= now {
		return 0
	}
	b := (deadline - now) >> Shift
	if b >= Buckets {
		b = Buckets - 1
	}
	return int(b)
}

// Track records that slot has a pending wakeup at cycle deadline, observed at
// cycle now. Re-tracking an already-tracked slot first untracks it.
func (w *Wheel) Track(slot uint32, deadline, now uint64) {
	if w.entries[slot].bucket != 0 {
		w.Untrack(slot)
	}
	b := bucketFor(deadline, now)
	e := &w.entries[slot]
	e.bucket = int32(b) + 1
	e.prev = nilIdx
	e.next = w.buckets[b]
	if e.next != nilIdx {
		w.entries[e.next].prev = slot
	}
	w.buckets[b] = slot

	lane := uint64(b) >> 6
	bb := uint64(b) & 63
	w.group.l2[lane] |= 1 << (63 - bb)
	w.group.l1Summary |= 1 << (63 - lane)
	w.summary |= 1
	w.size++
}

// Untrack removes slot from the wheel if present. Safe to call on an
// untracked slot.
func (w *Wheel) Untrack(slot uint32) {
	e := &w.entries[slot]
	if e.bucket == 0 {
		return
	}
	b := int(e.bucket - 1)
	if e.prev != nilIdx {
		w.entries[e.prev].next = e.next
	} else {
		w.buckets[b] = e.next
	}
	if e.next != nilIdx {
		w.entries[e.next].prev = e.prev
	}

	if w.buckets[b] == nilIdx {
		lane := uint64(b) >> 6
		bb := uint64(b) & 63
		w.group.l2[lane] &^= 1 << (63 - bb)
		if w.group.l2[lane] == 0 {
			w.group.l1Summary &^= 1 << (63 - lane)
			if w.group.l1Summary == 0 {
				w.summary = 0
			}
		}
	}

	e.bucket, e.next, e.prev = 0, nilIdx, nilIdx
	w.size--
}

// Empty reports whether no slot is currently tracked.
func (w *Wheel) Empty() bool {
	return w.size == 0
}

// PeepMinBucket returns the lowest occupied bucket index and true, or
// (0, false) if the wheel is empty. Callers translate the bucket back into
// an approximate cycle count via 1<<Shift to size a backoff sleep.
func (w *Wheel) PeepMinBucket() (int, bool) {
	if w.summary == 0 {
		return 0, false
	}
	lane := bits.LeadingZeros64(w.group.l1Summary)
	bb := bits.LeadingZeros64(w.group.l2[lane])
	return (lane << 6) | bb, true
}
