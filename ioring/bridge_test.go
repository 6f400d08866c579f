package ioring

import (
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"quantumfiber/fiber"
)

func newTestRuntime(t *testing.T) (*fiber.Runtime, *fiber.Core, *CompletionRing) {
	t.Helper()
	rt := fiber.NewRuntime(1, 4)
	core := rt.Cores()[0]
	ring := New(core, 32)
	core.AttachCompletionSource(ring)
	go rt.Start()
	t.Cleanup(func() {
		rt.Shutdown()
		ring.Close()
	})
	return rt, core, ring
}

func tempFileWithContent(t *testing.T, content string) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "ioring-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	return f
}

func TestPreadvReadsFileContent(t *testing.T) {
	rt, _, ring := newTestRuntime(t)

	const want = "hello from the completion ring"
	f := tempFileWithContent(t, want)
	fd := int(f.Fd())

	type outcome struct {
		n   int64
		buf []byte
	}
	done := make(chan outcome, 1)
	rt.Spawn(0, func(self *fiber.FiberContext, args []any) {
		buf := make([]byte, len(want))
		n := Preadv(self, ring, fd, [][]byte{buf}, 0, 500)
		done <- outcome{n: n, buf: buf}
	})

	select {
	case got := <-done:
		if got.n != int64(len(want)) {
			t.Fatalf("Preadv returned %d, want %d", got.n, len(want))
		}
		if string(got.buf) != want {
			t.Fatalf("Preadv read %q, want %q", got.buf, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Preadv never completed")
	}
}

func TestPwritevThenPreadvRoundTrip(t *testing.T) {
	rt, _, ring := newTestRuntime(t)

	f, err := os.CreateTemp(t.TempDir(), "ioring-rw-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	fd := int(f.Fd())
	const payload = "round trip payload"

	done := make(chan []byte, 1)
	rt.Spawn(0, func(self *fiber.FiberContext, args []any) {
		wn := Pwritev(self, ring, fd, [][]byte{[]byte(payload)}, 0, 500)
		if wn != int64(len(payload)) {
			done <- nil
			return
		}
		if rc := Fsync(self, ring, fd, 500); rc != 0 {
			done <- nil
			return
		}
		buf := make([]byte, len(payload))
		Preadv(self, ring, fd, [][]byte{buf}, 0, 500)
		done <- buf
	})

	select {
	case got := <-done:
		if string(got) != payload {
			t.Fatalf("round trip read %q, want %q", got, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("write/fsync/read round trip never completed")
	}
}

func TestPreadvvScattersAcrossFiles(t *testing.T) {
	rt, _, ring := newTestRuntime(t)

	fa := tempFileWithContent(t, "AAAA")
	fb := tempFileWithContent(t, "BBBBBB")

	type outcome struct {
		results []int64
		bufA    []byte
		bufB    []byte
	}
	done := make(chan outcome, 1)
	rt.Spawn(0, func(self *fiber.FiberContext, args []any) {
		bufA := make([]byte, 4)
		bufB := make([]byte, 6)
		results, _ := Preadvv(self, ring,
			[]int{int(fa.Fd()), int(fb.Fd())},
			[][][]byte{{bufA}, {bufB}},
			[]uint64{0, 0},
			500)
		done <- outcome{results: results, bufA: bufA, bufB: bufB}
	})

	select {
	case got := <-done:
		if got.results == nil || len(got.results) != 2 {
			t.Fatalf("Preadvv returned %v, want 2 results", got.results)
		}
		if string(got.bufA) != "AAAA" || string(got.bufB) != "BBBBBB" {
			t.Fatalf("Preadvv read %q / %q", got.bufA, got.bufB)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Preadvv never completed")
	}
}

func TestPreadvTimesOutOnEmptyPipe(t *testing.T) {
	rt, _, ring := newTestRuntime(t)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	t.Cleanup(func() { r.Close(); w.Close() })

	done := make(chan int64, 1)
	rt.Spawn(0, func(self *fiber.FiberContext, args []any) {
		buf := make([]byte, 8)
		done <- Preadv(self, ring, int(r.Fd()), [][]byte{buf}, 0, 20)
	})

	select {
	case rc := <-done:
		if rc >= 0 {
			t.Fatalf("Preadv on an empty pipe returned %d, want a negative errno", rc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Preadv on an empty pipe never returned")
	}
}

func TestFsyncvFlushesEachFD(t *testing.T) {
	rt, _, ring := newTestRuntime(t)

	fa := tempFileWithContent(t, "AAAA")
	fb := tempFileWithContent(t, "BBBBBB")

	type outcome struct {
		results []int64
		rc      int64
	}
	done := make(chan outcome, 1)
	rt.Spawn(0, func(self *fiber.FiberContext, args []any) {
		results, rc := Fsyncv(self, ring, []int{int(fa.Fd()), int(fb.Fd())}, 500)
		done <- outcome{results: results, rc: rc}
	})

	select {
	case got := <-done:
		if got.rc != 0 || len(got.results) != 2 || got.results[0] != 0 || got.results[1] != 0 {
			t.Fatalf("Fsyncv = %+v, want two zero results and rc 0", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fsyncv never completed")
	}
}

func TestSendDeliversToConnectedPeer(t *testing.T) {
	rt, _, ring := newTestRuntime(t)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	t.Cleanup(func() { unix.Close(fds[0]); unix.Close(fds[1]) })

	const payload = "async send"
	done := make(chan int64, 1)
	rt.Spawn(0, func(self *fiber.FiberContext, args []any) {
		done <- Send(self, ring, fds[0], []byte(payload), 0, 500)
	})

	select {
	case n := <-done:
		if n != int64(len(payload)) {
			t.Fatalf("Send returned %d, want %d", n, len(payload))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send never completed")
	}

	buf := make([]byte, len(payload))
	if _, err := unix.Read(fds[1], buf); err != nil {
		t.Fatalf("reading from peer socket: %v", err)
	}
	if string(buf) != payload {
		t.Fatalf("peer received %q, want %q", buf, payload)
	}
}

func TestPollReportsReadReadiness(t *testing.T) {
	rt, _, ring := newTestRuntime(t)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	t.Cleanup(func() { r.Close(); w.Close() })
	if _, err := w.WriteString("x"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}

	done := make(chan int64, 1)
	rt.Spawn(0, func(self *fiber.FiberContext, args []any) {
		done <- Poll(self, ring, int(r.Fd()), unix.POLLIN, 500)
	})

	select {
	case rc := <-done:
		if rc < 0 || rc&unix.POLLIN == 0 {
			t.Fatalf("Poll returned %d, want POLLIN set", rc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Poll never completed")
	}
}

func TestCloseReleasesFD(t *testing.T) {
	rt, _, ring := newTestRuntime(t)

	f, err := os.CreateTemp(t.TempDir(), "ioring-close-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	dupFd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}

	done := make(chan int64, 1)
	rt.Spawn(0, func(self *fiber.FiberContext, args []any) {
		done <- Close(self, ring, dupFd, 500)
	})

	select {
	case rc := <-done:
		if rc != 0 {
			t.Fatalf("Close returned %d, want 0", rc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close never completed")
	}

	if err := unix.Close(dupFd); err == nil {
		t.Fatal("fd was still open after Close via the bridge")
	}
}
