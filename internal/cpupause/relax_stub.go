// ════════════════════════════════════════════════════════════════════════════════════════════════
// CPU Relaxation - Fallback Implementation
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Fiber Runtime Core
// Component: Cross-Platform Compatibility Layer
//
// Description:
//   Fallback for architectures without a dedicated spin-wait instruction, for
//   builds with assembly disabled (noasm), or with cgo disabled (CGO_ENABLED=0 or
//   the nocgo tag).
// ════════════════════════════════════════════════════════════════════════════════════════════════

//go:build (!amd64 && !arm64) || noasm || nocgo || !cgo

package cpupause

// Relax is a no-op on platforms without a spin-wait hint instruction; the
// processor spins at full speed.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func Relax() {
}
