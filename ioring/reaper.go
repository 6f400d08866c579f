// reaper.go — CompletionRing: the per-core owner of a backend and its
// outstanding requests.
//
// Grounded on original_source/src/fiber_syscall.cc's check_for_completions:
// drain every ready completion, apply it, and either wake the issuer (once
// a request's refcount hits zero) or free a cancelled request outright.

package ioring

import (
	"sync"

	"quantumfiber/fiber"
	"quantumfiber/internal/intrusive"
	"quantumfiber/internal/xlog"
)

// CompletionRing is the async syscall bridge for one core: it owns the
// platform backend, the list of outstanding requests, and applies
// completions on the owning core's own dispatch loop (Poll is only ever
// called from Core.Run, so pending never needs a lock against that
// goroutine — only issue()/issuev(), called from fibers running on this
// same core, share it).
type CompletionRing struct {
	core    *fiber.Core
	backend backend

	mu      sync.Mutex
	pending *intrusive.List[SyscallRequest]
}

// New opens the platform-appropriate completion backend for core and
// wires it up. entries sizes the kernel ring on Linux; portable backends
// ignore it. Attach the result with core.AttachCompletionSource.
func New(core *fiber.Core, entries uint32) *CompletionRing {
	b, err := newBackend(entries)
	if err != nil {
		xlog.Errf("ioring: falling back to portable offload backend", err)
		b = newStubBackend()
	}
	return &CompletionRing{core: core, backend: b, pending: intrusive.New[SyscallRequest]()}
}

// Poll implements fiber.Poller.
func (r *CompletionRing) Poll(now uint64) {
	_ = now
	r.backend.drain(r.onComplete)
}

// Close releases the backend's kernel/goroutine resources. Call only
// after every pending request has drained or been abandoned.
func (r *CompletionRing) Close() { r.backend.close() }

// NumPending reports the outstanding-request count, for the bounded
// teardown drain Core.Run performs (Core.drainTeardown) after it stops.
func (r *CompletionRing) NumPending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.Len()
}

// CancelAll marks every outstanding request cancelled without waiting
// for its completion, for core teardown.
func (r *CompletionRing) CancelAll() {
	r.mu.Lock()
	r.pending.Each(func(req *SyscallRequest) { req.Cancelled.Store(true) })
	r.mu.Unlock()
}

func (r *CompletionRing) trackPending(req *SyscallRequest) {
	r.mu.Lock()
	r.pending.PushBack(&req.Node)
	r.mu.Unlock()
}

func (r *CompletionRing) removePending(req *SyscallRequest) {
	r.mu.Lock()
	r.pending.Remove(&req.Node)
	r.mu.Unlock()
}

func (r *CompletionRing) onComplete(req *SyscallRequest, result int64) {
	req.Result.Store(result)
	if req.Cancelled.Load() {
		r.removePending(req)
		return
	}
	if req.Refcount.Add(-1) == 0 {
		r.core.Wake(req.Issuer)
	}
}
