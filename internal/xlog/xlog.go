// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: xlog.go — scheduler-aligned diagnostic logging helper (zero-alloc on the nil-error path)
//
// Purpose:
//   - Logs infrequent error paths (spawn exhaustion, syscall bridge cancellation,
//     lock invariant traces) without introducing heap pressure on the dispatch hot path.
//   - Used only in cold paths: setup, teardown, and failure diagnostics.
//
// Notes:
//   - Mirrors the teacher's dropError: branch on nil, avoid fmt.Sprintf on the
//     common (no-error) path.
//
// ⚠️ Never invoke from inside a fiber's suspension window with the spin lock held.
// ─────────────────────────────────────────────────────────────────────────────

package xlog

import "log"

// Errf logs "prefix: err" when err is non-nil, or nothing at all if err is nil —
// callers that always want a line even without an error should use Warn instead.
//
//go:noinline
func Errf(prefix string, err error) {
	if err != nil {
		log.Printf("%s: %v", prefix, err)
	}
}

// Warn logs a bare diagnostic line, used for cold-path traces that carry no error
// value (GC-style tags, cancellation notices, teardown progress).
func Warn(prefix string) {
	log.Print(prefix)
}

// Fatalf logs and panics. Reserved for the programming-error category of the
// syscall bridge and lock invariants: lock invariant violation, unlock-not-owner,
// cross-core ring overflow, spin lock held across a suspension point.
func Fatalf(format string, args ...any) {
	log.Panicf(format, args...)
}
