// affinity_stub.go - CPU affinity no-op for platforms without sched_setaffinity(2).

//go:build !linux || tinygo

package cpupause

// SetAffinity is a no-op on platforms without CPU affinity support. Cores
// still run on dedicated, locked OS threads (runtime.LockOSThread); they are
// simply not pinned to a specific hardware thread.
//
//go:nosplit
//go:inline
func SetAffinity(cpu int) {
}
