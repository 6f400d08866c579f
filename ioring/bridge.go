// bridge.go — issue/issuev: the fiber-facing async syscall entry points.
//
// Grounded on original_source/src/fiber_syscall.cc's uring_syscall/
// uring_syscallv: submit, suspend with a wakeup_time computed the same
// way Sleep computes one, and on resume distinguish "completed" from
// "timed out or interrupted" by comparing the current time against the
// deadline — INCOMPLETE_REQUEST after resume means the wait ended some
// other way than a completion.
//
// One difference from the original: on a timed-out issuev() batch, any
// member that had in fact already completed is reaped immediately here
// instead of waiting on a CQE that, for an already-consumed completion,
// will never arrive again.
//
// Neither issue() nor issueRequest() below post a real kernel-side cancel
// (IORING_OP_ASYNC_CANCEL) when a wait times out; they mark Cancelled and
// return, leaving the original submission live until its CQE eventually
// lands and the reaper drops it. That matches fiber_syscall.cc:39-48
// exactly — the original never issues a real cancel either — but it does
// mean a timed-out OpAccept/OpConnect/OpPoll can hold its fd's kernel-side
// operation open past the point its issuer gave up on it, since unlike a
// pipe read or write there is no second syscall on the same fd to unstick
// it.

package ioring

import (
	"time"

	"golang.org/x/sys/unix"

	"quantumfiber/constants"
	"quantumfiber/fiber"
)

// Preadv reads len(iov) buffers from fd at offset off, blocking self
// until the read completes, times out, or the wait is interrupted.
func Preadv(self *fiber.FiberContext, ring *CompletionRing, fd int, iov [][]byte, off uint64, timeoutMs uint64) int64 {
	return issue(self, ring, OpReadv, fd, iov, off, timeoutMs)
}

// Pwritev writes len(iov) buffers to fd at offset off.
func Pwritev(self *fiber.FiberContext, ring *CompletionRing, fd int, iov [][]byte, off uint64, timeoutMs uint64) int64 {
	return issue(self, ring, OpWritev, fd, iov, off, timeoutMs)
}

// Fsync flushes fd to stable storage.
func Fsync(self *fiber.FiberContext, ring *CompletionRing, fd int, timeoutMs uint64) int64 {
	return issue(self, ring, OpFsync, fd, nil, 0, timeoutMs)
}

// Preadvv issues a scatter/gather batch of reads, one iov group per fd,
// and returns once every member has completed or the whole batch times
// out. rcs[i] holds the individual result for fds[i]; the returned int64
// is the last negative result seen, or 0.
func Preadvv(self *fiber.FiberContext, ring *CompletionRing, fds []int, iovs [][][]byte, offs []uint64, timeoutMs uint64) ([]int64, int64) {
	return issuev(self, ring, OpReadv, fds, iovs, offs, timeoutMs)
}

// Pwritevv is Preadvv's write counterpart.
func Pwritevv(self *fiber.FiberContext, ring *CompletionRing, fds []int, iovs [][][]byte, offs []uint64, timeoutMs uint64) ([]int64, int64) {
	return issuev(self, ring, OpWritev, fds, iovs, offs, timeoutMs)
}

// Fsyncv flushes each fd in fds, returning once every member has completed
// or the whole batch times out. It shares issuev's group-refcount wakeup
// rather than the OpFsync opcode having any vectored form of its own.
func Fsyncv(self *fiber.FiberContext, ring *CompletionRing, fds []int, timeoutMs uint64) ([]int64, int64) {
	return issuev(self, ring, OpFsync, fds, nil, nil, timeoutMs)
}

// Send writes buf to fd through the socket send path.
func Send(self *fiber.FiberContext, ring *CompletionRing, fd int, buf []byte, flags int32, timeoutMs uint64) int64 {
	return issueSocket(self, ring, OpSend, fd, [][]byte{buf}, flags, 0, timeoutMs)
}

// Sendmsg gathers iov into one socket write with the same flags as Send.
func Sendmsg(self *fiber.FiberContext, ring *CompletionRing, fd int, iov [][]byte, flags int32, timeoutMs uint64) int64 {
	return issueSocket(self, ring, OpSendmsg, fd, iov, flags, 0, timeoutMs)
}

// Accept waits for a new connection on the listening socket fd and
// returns the accepted connection's file descriptor, or a negative errno.
func Accept(self *fiber.FiberContext, ring *CompletionRing, fd int, flags int32, timeoutMs uint64) int64 {
	return issueSocket(self, ring, OpAccept, fd, nil, flags, 0, timeoutMs)
}

// Connect initiates a connection on fd to addr, a raw sockaddr encoding
// (2-byte little-endian address family, then family-specific fields in
// network byte order — see sockaddrFromBytes).
func Connect(self *fiber.FiberContext, ring *CompletionRing, fd int, addr []byte, timeoutMs uint64) int64 {
	return issueSocket(self, ring, OpConnect, fd, [][]byte{addr}, 0, 0, timeoutMs)
}

// Close releases fd through the bridge so teardown stays on the same
// completion-ordered path as every other bridge operation, instead of a
// fiber calling unix.Close synchronously and racing the reaper.
func Close(self *fiber.FiberContext, ring *CompletionRing, fd int, timeoutMs uint64) int64 {
	return issueSocket(self, ring, OpClose, fd, nil, 0, 0, timeoutMs)
}

// Poll waits for fd to become ready for any event in mask (POLLIN,
// POLLOUT, ...) and returns the ready mask, or a negative errno.
func Poll(self *fiber.FiberContext, ring *CompletionRing, fd int, mask uint32, timeoutMs uint64) int64 {
	return issueSocket(self, ring, OpPoll, fd, nil, 0, mask, timeoutMs)
}

func issue(self *fiber.FiberContext, ring *CompletionRing, opcode uint8, fd int, iov [][]byte, off uint64, timeoutMs uint64) int64 {
	req := newRequest(self.Id(), opcode, fd, off, iov)
	return issueRequest(self, ring, req, timeoutMs)
}

func issueSocket(self *fiber.FiberContext, ring *CompletionRing, opcode uint8, fd int, iov [][]byte, flags int32, pollMask uint32, timeoutMs uint64) int64 {
	req := newRequest(self.Id(), opcode, fd, 0, iov)
	req.Flags = flags
	req.PollMask = pollMask
	return issueRequest(self, ring, req, timeoutMs)
}

func issueRequest(self *fiber.FiberContext, ring *CompletionRing, req *SyscallRequest, timeoutMs uint64) int64 {
	ring.trackPending(req)

	if err := ring.backend.submit(req); err != nil {
		ring.removePending(req)
		return -int64(errnoOf(err))
	}

	deadline := deadlineFor(timeoutMs)
	self.SuspendUntil(deadline)

	result := req.Result.Load()
	if result == Incomplete {
		req.Cancelled.Store(true)
		if fiber.Now() >= deadline {
			return -int64(unix.ETIME)
		}
		return -int64(unix.EINTR)
	}
	ring.removePending(req)
	return result
}

func issuev(self *fiber.FiberContext, ring *CompletionRing, opcode uint8, fds []int, iovs [][][]byte, offs []uint64, timeoutMs uint64) ([]int64, int64) {
	n := len(fds)
	if n == 0 {
		return nil, 0
	}

	issuer := self.Id()
	reqs := make([]*SyscallRequest, n)
	for i := range fds {
		var off uint64
		if offs != nil {
			off = offs[i]
		}
		var iov [][]byte
		if iovs != nil {
			iov = iovs[i]
		}
		reqs[i] = newRequest(issuer, opcode, fds[i], off, iov)
	}
	shared := reqs[0].Refcount
	shared.Store(int32(n))
	for _, req := range reqs[1:] {
		req.Refcount = shared
	}

	for _, req := range reqs {
		ring.trackPending(req)
		if err := ring.backend.submit(req); err != nil {
			req.Result.Store(-int64(errnoOf(err)))
			shared.Add(-1)
			ring.removePending(req)
		}
	}

	deadline := deadlineFor(timeoutMs)
	self.SuspendUntil(deadline)

	if shared.Load() != 0 {
		for _, req := range reqs {
			if req.Result.Load() == Incomplete {
				req.Cancelled.Store(true)
			} else {
				ring.removePending(req)
			}
		}
		if fiber.Now() >= deadline {
			return nil, -int64(unix.ETIME)
		}
		return nil, -int64(unix.EINTR)
	}

	results := make([]int64, n)
	var rc int64
	for i, req := range reqs {
		results[i] = req.Result.Load()
		if results[i] < 0 {
			rc = results[i]
		}
		ring.removePending(req)
	}
	return results, rc
}

func deadlineFor(timeoutMs uint64) uint64 {
	if timeoutMs == constants.NoTimeoutMs {
		return constants.WakeupNever
	}
	if timeoutMs < constants.MinDelayMs {
		timeoutMs = constants.MinDelayMs
	}
	return fiber.Now() + timeoutMs*uint64(time.Millisecond)
}
