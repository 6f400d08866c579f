// request.go — the async syscall bridge's request record.
//
// Grounded on original_source/src/fiber_syscall.h's syscall_wait_request:
// a fixed inline layout plus a refcount that is either the request's own
// (single-request issue()) or shared across a batch (issuev()), exactly
// as the C struct's refcount_local/refcount-pointer pair models it.

package ioring

import (
	"math"
	"sync/atomic"

	"quantumfiber/fiber"
	"quantumfiber/internal/intrusive"
)

// Incomplete is the sentinel Result value meaning "no completion has
// landed yet" — the Go analogue of the original's INCOMPLETE_REQUEST.
const Incomplete = math.MinInt64

// Opcodes supported by the bridge. Values are chosen independently of
// the kernel's IORING_OP_* numbering; backends translate at submit time.
const (
	OpReadv uint8 = iota
	OpWritev
	OpFsync
	OpSend
	OpSendmsg
	OpAccept
	OpConnect
	OpClose
	OpPoll
)

// SyscallRequest is one outstanding asynchronous syscall. It is
// reference-counted rather than reaped as soon as its own completion
// arrives, so a group of requests issued together (issuev) can share
// one wakeup once every member has completed.
type SyscallRequest struct {
	Issuer fiber.FiberId
	Opcode uint8
	FD     int
	Offset uint64
	Iov    [][]byte

	// Flags carries OpSend/OpSendmsg's MSG_* flags or OpAccept's SOCK_*
	// flags. PollMask carries OpPoll's requested event mask. Both are
	// zero and unused for every other opcode. Connect's destination
	// address travels as Iov[0], the same slot readv/writev use for
	// their buffers, since only one opcode per request ever needs it.
	Flags    int32
	PollMask uint32

	Result atomic.Int64

	// Cancelled marks a request whose issuer gave up waiting (timeout or
	// interruption). The completion reaper still owns freeing it once
	// the kernel's completion for it actually arrives.
	Cancelled atomic.Bool

	refcountLocal atomic.Int32
	Refcount      *atomic.Int32

	Node intrusive.Node[SyscallRequest]
}

func newRequest(issuer fiber.FiberId, opcode uint8, fd int, off uint64, iov [][]byte) *SyscallRequest {
	req := &SyscallRequest{Issuer: issuer, Opcode: opcode, FD: fd, Offset: off, Iov: iov}
	req.Result.Store(Incomplete)
	req.Refcount = &req.refcountLocal
	req.Refcount.Store(1)
	req.Node.Init(req)
	return req
}
