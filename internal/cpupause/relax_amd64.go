// ════════════════════════════════════════════════════════════════════════════════════════════════
// CPU Relaxation - AMD64 Architecture
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Fiber Runtime Core
// Component: x86-64 Spin-Wait Optimization
//
// Description:
//   Platform-specific implementation for x86-64 processors using the PAUSE instruction.
//   Used by the dispatch loop's idle backoff and by SpinLock's busy-wait so a
//   spinning core yields pipeline slots to sibling hyperthreads instead of
//   hammering the memory subsystem.
// ════════════════════════════════════════════════════════════════════════════════════════════════

//go:build amd64 && !noasm && !nocgo

package cpupause

/*
#ifdef __x86_64__
static inline void cpu_pause() {
    __asm__ __volatile__("pause" ::: "memory");
}
#else
#error "This file requires x86-64 architecture"
#endif
*/
import "C"

// Relax emits the x86-64 PAUSE instruction, hinting that the calling thread is
// in a busy-wait loop.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func Relax() {
	C.cpu_pause()
}
