// backend.go — the bridge's platform seam, plus the portable fallback.
//
// spec.md §1 treats "a separate worker thread pool for kernel operations
// the completion ring does not support" as an external collaborator with
// just an enqueue operation. stubBackend implements exactly that: a small
// fixed pool of goroutines performs the equivalent blocking syscall and
// posts a synthetic completion, generalizing main_darwin.go's dedicated
// blocking-io dispatch loop from "one socket" to "any blocking call".
// It is compiled on every platform so ring_linux.go can fall back to it
// if io_uring setup fails (old kernel, seccomp, container restrictions).

package ioring

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// backend is the platform-specific half of the bridge: submit hands a
// prepared request off for execution, and drain reports every
// completion seen since the last call.
type backend interface {
	submit(req *SyscallRequest) error
	drain(complete func(req *SyscallRequest, result int64))
	close()
}

const offloadWorkers = 4

type stubCompletion struct {
	req    *SyscallRequest
	result int64
}

// stubBackend is the portable offload service.
type stubBackend struct {
	work chan *SyscallRequest
	done chan stubCompletion
	quit chan struct{}
}

func newStubBackend() backend {
	b := &stubBackend{
		work: make(chan *SyscallRequest, 256),
		done: make(chan stubCompletion, 256),
		quit: make(chan struct{}),
	}
	for i := 0; i < offloadWorkers; i++ {
		go b.worker()
	}
	return b
}

func (b *stubBackend) worker() {
	for {
		select {
		case req := <-b.work:
			b.done <- stubCompletion{req: req, result: b.perform(req)}
		case <-b.quit:
			return
		}
	}
}

func (b *stubBackend) perform(req *SyscallRequest) int64 {
	switch req.Opcode {
	case OpReadv:
		if len(req.Iov) == 0 {
			return -int64(unix.EINVAL)
		}
		n, err := unix.Preadv(req.FD, req.Iov, int64(req.Offset))
		if err != nil {
			return -int64(errnoOf(err))
		}
		return int64(n)
	case OpWritev:
		if len(req.Iov) == 0 {
			return -int64(unix.EINVAL)
		}
		n, err := unix.Pwritev(req.FD, req.Iov, int64(req.Offset))
		if err != nil {
			return -int64(errnoOf(err))
		}
		return int64(n)
	case OpFsync:
		if err := unix.Fsync(req.FD); err != nil {
			return -int64(errnoOf(err))
		}
		return 0
	case OpSend:
		if len(req.Iov) == 0 {
			return -int64(unix.EINVAL)
		}
		n, err := unix.SendmsgN(req.FD, req.Iov[0], nil, nil, int(req.Flags))
		if err != nil {
			return -int64(errnoOf(err))
		}
		return int64(n)
	case OpSendmsg:
		buf := gatherIov(req.Iov)
		if len(buf) == 0 {
			return -int64(unix.EINVAL)
		}
		n, err := unix.SendmsgN(req.FD, buf, nil, nil, int(req.Flags))
		if err != nil {
			return -int64(errnoOf(err))
		}
		return int64(n)
	case OpAccept:
		// unix.Accept, not Accept4: this file has no build tag and
		// accept4(2) isn't available on every platform stubBackend runs
		// on, so req.Flags (SOCK_NONBLOCK and friends) has no effect
		// here — only the Linux completion ring backend honors it.
		nfd, _, err := unix.Accept(req.FD)
		if err != nil {
			return -int64(errnoOf(err))
		}
		return int64(nfd)
	case OpConnect:
		if len(req.Iov) == 0 {
			return -int64(unix.EINVAL)
		}
		sa, err := sockaddrFromBytes(req.Iov[0])
		if err != nil {
			return -int64(unix.EINVAL)
		}
		if err := unix.Connect(req.FD, sa); err != nil {
			return -int64(errnoOf(err))
		}
		return 0
	case OpClose:
		if err := unix.Close(req.FD); err != nil {
			return -int64(errnoOf(err))
		}
		return 0
	case OpPoll:
		fds := []unix.PollFd{{Fd: int32(req.FD), Events: int16(req.PollMask)}}
		n, err := unix.Poll(fds, -1)
		if err != nil {
			return -int64(errnoOf(err))
		}
		if n == 0 {
			return -int64(unix.ETIMEDOUT)
		}
		return int64(fds[0].Revents)
	default:
		return -int64(unix.ENOSYS)
	}
}

// gatherIov flattens a scatter/gather buffer list into one contiguous
// slice. The portable backend has no vectored sendmsg equivalent to
// unix.Preadv/Pwritev, so OpSendmsg gathers before handing off; the Linux
// completion ring gathers the same way before submitting IORING_OP_SEND.
func gatherIov(bufs [][]byte) []byte {
	total := 0
	for _, b := range bufs {
		total += len(b)
	}
	if total == 0 {
		return nil
	}
	out := make([]byte, 0, total)
	for _, b := range bufs {
		out = append(out, b...)
	}
	return out
}

// sockaddrFromBytes decodes a raw sockaddr encoding — 2-byte little-endian
// address family, then family-specific fields big-endian in network order
// the way a caller would pack them for a raw connect(2) — into the
// unix.Sockaddr the standard helpers expect. Only AF_INET and AF_INET6 are
// supported; the bridge has no Unix-domain or other-family use case yet.
func sockaddrFromBytes(b []byte) (unix.Sockaddr, error) {
	if len(b) < 4 {
		return nil, unix.EINVAL
	}
	family := binary.LittleEndian.Uint16(b[0:2])
	switch family {
	case unix.AF_INET:
		if len(b) < 8 {
			return nil, unix.EINVAL
		}
		sa := &unix.SockaddrInet4{Port: int(binary.BigEndian.Uint16(b[2:4]))}
		copy(sa.Addr[:], b[4:8])
		return sa, nil
	case unix.AF_INET6:
		if len(b) < 24 {
			return nil, unix.EINVAL
		}
		sa := &unix.SockaddrInet6{Port: int(binary.BigEndian.Uint16(b[2:4]))}
		copy(sa.Addr[:], b[8:24])
		return sa, nil
	default:
		return nil, unix.EAFNOSUPPORT
	}
}

func (b *stubBackend) submit(req *SyscallRequest) error {
	select {
	case b.work <- req:
		return nil
	default:
		return unix.EBUSY
	}
}

func (b *stubBackend) drain(complete func(req *SyscallRequest, result int64)) {
	for {
		select {
		case c := <-b.done:
			complete(c.req, c.result)
		default:
			return
		}
	}
}

func (b *stubBackend) close() {
	close(b.quit)
}

func toIovec(bufs [][]byte) []unix.Iovec {
	iov := make([]unix.Iovec, 0, len(bufs))
	for _, buf := range bufs {
		if len(buf) == 0 {
			continue
		}
		v := unix.Iovec{Base: &buf[0]}
		v.SetLen(len(buf))
		iov = append(iov, v)
	}
	return iov
}

func errnoOf(err error) unix.Errno {
	if errno, ok := err.(unix.Errno); ok {
		return errno
	}
	return unix.EIO
}
