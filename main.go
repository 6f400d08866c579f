// ════════════════════════════════════════════════════════════════════════════════════════════════
// Fiber Runtime - Main Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Process Orchestration
//
// Description:
//   Phased startup mirroring the teacher's main.go: load configuration, wire the
//   runtime's optional subsystems (diagnostics, async syscall bridge), start the
//   dispatch loops, run a small demo workload, then shut down cleanly on signal.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"quantumfiber/config"
	"quantumfiber/diag"
	"quantumfiber/fiber"
	"quantumfiber/internal/xlog"
	"quantumfiber/ioring"
	"quantumfiber/lock"
)

func main() {
	configPath := flag.String("config", "", "path to an optional JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		xlog.Fatalf("main: loading config: %v", err)
	}

	xlog.Warn(fmt.Sprintf("main: starting %d cores, %d slots/core", cfg.Cores, cfg.SlotCapacity))

	rt := fiber.NewRuntime(cfg.Cores, cfg.SlotCapacity)

	var sink *diag.Sink
	if cfg.DiagDBPath != "" {
		sink, err = diag.Open(cfg.DiagDBPath, cfg.Cores, cfg.DiagRingCapacity)
		if err != nil {
			xlog.Errf("main: opening diagnostics sink, continuing without one", err)
		}
	}

	rings := make([]*ioring.CompletionRing, cfg.Cores)
	for _, c := range rt.Cores() {
		if sink != nil {
			c.AttachDiag(sink)
		}
		ring := ioring.New(c, uint32(128))
		rings[c.ID()] = ring
		c.AttachCompletionSource(ring)
	}

	setupSignalHandling(rt, sink, rings)

	go rt.Start()

	runDemoWorkload(rt, rings, cfg.DefaultTimeoutMs)

	// Block the main goroutine forever; the signal handler below shuts the
	// runtime down and exits the process.
	select {}
}

// runDemoWorkload exercises the wired subsystems end to end: a shared
// SleepLock guarding a scratch file that several fibers write to through
// the async syscall bridge, proving spawn, cross-core wake, locking, and
// the completion ring all cooperate under one runtime.
func runDemoWorkload(rt *fiber.Runtime, rings []*ioring.CompletionRing, timeoutMs uint64) {
	scratch, err := os.CreateTemp("", "quantumfiber-demo-*")
	if err != nil {
		xlog.Errf("main: creating demo scratch file", err)
		return
	}
	fd := int(scratch.Fd())
	l := lock.NewSleepLock()

	const writers = 4
	for i := 0; i < writers; i++ {
		i := i
		rt.Spawn(-1, func(self *fiber.FiberContext, args []any) {
			l.Lock(self)
			defer l.Unlock(self)

			payload := []byte(fmt.Sprintf("writer %d on core %d\n", i, self.CoreID()))
			ring := rings[self.CoreID()]
			off := uint64(i * len(payload))
			if rc := ioring.Pwritev(self, ring, fd, [][]byte{payload}, off, timeoutMs); rc < 0 {
				xlog.Warn(fmt.Sprintf("main: demo writer %d failed: rc=%d", i, rc))
			}
		})
	}
}

func setupSignalHandling(rt *fiber.Runtime, sink *diag.Sink, rings []*ioring.CompletionRing) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		xlog.Warn("main: received interrupt, shutting down")

		rt.Shutdown()
		for _, ring := range rings {
			if ring != nil {
				ring.Close()
			}
		}
		if sink != nil {
			if err := sink.Close(); err != nil {
				xlog.Errf("main: closing diagnostics sink", err)
			}
		}

		xlog.Warn("main: shutdown complete")
		os.Exit(0)
	}()
}
