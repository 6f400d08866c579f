// backoff.go — per-core idle activity tracking for the dispatch loop.
// ============================================================================
// DISPATCH BACKOFF ORCHESTRATION
// ============================================================================
//
// Grounded on control.go's global hot/stop flag pair, generalized from a
// single process-wide pair (one WebSocket ingress feeding one set of pinned
// consumers) to one instance per core (many independent dispatchers, each
// with its own activity history).
//
// A core is "hot" for a short window after it last found an eligible fiber.
// While hot, the dispatcher scans again immediately on an empty pass. Once
// the hot window lapses, the dispatcher backs off after a run of empty
// scans (a short sleep sized by the timer wheel, or a cpuRelax when no
// deadline is tracked) so an idle core does not spin at 100% CPU. This never changes which fiber runs next — only how long the
// dispatcher waits before re-scanning when nothing was eligible.
//
// Threading model:
//   - PollCooldown() and Hot() are called by the owning core's dispatcher only.
//   - MarkActive() may be called from any core (a cross-core signal/schedule
//     should mark the target hot so it wakes promptly).

package backoff

import (
	"sync/atomic"
	"time"
)

// Tracker holds one core's hot/cold backoff state.
type Tracker struct {
	hot        atomic.Uint32 // 1 = recently active, 0 = idle
	lastActive atomic.Int64  // UnixNano of last MarkActive call
	cooldownNs int64
}

// New returns a Tracker with the given cooldown window.
func New(cooldown time.Duration) *Tracker {
	return &Tracker{cooldownNs: int64(cooldown)}
}

// MarkActive records that the core (or a remote signaler targeting it) just
// produced runnable work. Safe to call from any core.
func (t *Tracker) MarkActive() {
	t.hot.Store(1)
	t.lastActive.Store(time.Now().UnixNano())
}

// PollCooldown clears the hot flag once the cooldown window has elapsed
// since the last recorded activity. Call once per dispatch pass.
func (t *Tracker) PollCooldown() {
	if t.hot.Load() == 1 && time.Now().UnixNano()-t.lastActive.Load() > t.cooldownNs {
		t.hot.Store(0)
	}
}

// Hot reports whether the core should keep hot-spinning rather than backing off.
func (t *Tracker) Hot() bool {
	return t.hot.Load() == 1
}
