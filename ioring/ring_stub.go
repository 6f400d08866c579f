//go:build !linux

// ring_stub.go — non-Linux backend selection.
//
// The portable offload service itself (stubBackend) lives in backend.go
// since ring_linux.go also falls back to it when io_uring setup fails;
// this file only supplies the platform's default backend constructor.

package ioring

func newBackend(entries uint32) (backend, error) {
	_ = entries
	return newStubBackend(), nil
}
