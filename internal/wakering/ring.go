// ============================================================================
// LOCK-FREE SPSC WAKEUP RING
// ============================================================================
//
// Cross-core fiber wakeup ring: when a fiber on core A must wake a fiber
// parked on core B, A cannot touch B's slot table directly (per-core state
// is single-writer). Instead A pushes a Msg naming the target slot and
// generation onto B's wakering; B drains it once per dispatch pass and
// applies the wakeup locally (spec.md §4.2 schedule()).
//
// Grounded on the teacher's ring24 package: same fixed-payload SPSC design
// (separated head/tail cache lines, sequence-stamped slots, power-of-two
// sizing), repurposed from a 24-byte trade-tick payload to a small
// {slot, generation} wakeup message.
//
// Overflow is a hard design-time error per spec.md §4.2: capacity must
// exceed the maximum number of in-flight cross-core wakes a core can
// receive between two dispatch passes. Push returns false on overflow so
// callers can choose to log-and-drop rather than corrupt the ring.

package wakering

import "sync/atomic"

// Msg names one fiber to wake: its slot index and the generation the
// waker observed when it decided to wake it. The receiving core must
// still re-check the generation before touching the slot (ABA guard).
type Msg struct {
	Slot       uint32
	Generation uint32
}

type slot struct {
	val Msg
	seq uint64
}

// Ring is a fixed-capacity SPSC queue of wakeup messages, one per
// (source-core, dest-core) ordered pair reaching into dest's dispatcher.
type Ring struct {
	_    [64]byte
	head uint64

	_    [56]byte
	tail uint64

	_ [56]byte

	mask uint64
	step uint64
	buf  []slot

	_ [3]uint64
}

// New allocates a ring; size must be a power of two.
func New(size int) *Ring {
	if size <= 0 || size&(size-1) != 0 {
		panic("wakering: size must be a positive power of two")
	}
	r := &Ring{
		mask: uint64(size - 1),
		step: uint64(size),
		buf:  make([]slot, size),
	}
	for i := range r.buf {
		r.buf[i].seq = uint64(i)
	}
	return r
}

// Push enqueues a wakeup message. Returns false if the ring is full — the
// caller must treat this as the design-time capacity violation spec.md
// §4.2 calls out, not as a routine backpressure signal.
//
//go:nosplit
func (r *Ring) Push(m Msg) bool {
	t := r.tail
	s := &r.buf[t&r.mask]
	if atomic.LoadUint64(&s.seq) != t {
		return false
	}
	s.val = m
	atomic.StoreUint64(&s.seq, t+1)
	r.tail = t + 1
	return true
}

// Pop dequeues one message, or reports ok=false if the ring is empty.
//
//go:nosplit
func (r *Ring) Pop() (Msg, bool) {
	h := r.head
	s := &r.buf[h&r.mask]
	if atomic.LoadUint64(&s.seq) != h+1 {
		return Msg{}, false
	}
	m := s.val
	atomic.StoreUint64(&s.seq, h+r.step)
	r.head = h + 1
	return m, true
}
