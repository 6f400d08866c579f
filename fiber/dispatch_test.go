package fiber

import (
	"testing"
	"time"
)

func TestSpawnYieldTerminateLifecycle(t *testing.T) {
	rt := NewRuntime(1, 4)
	go rt.Start()
	defer rt.Shutdown()

	done := make(chan FiberId, 1)
	id := rt.Spawn(0, func(self *FiberContext, args []any) {
		for i := 0; i < 3; i++ {
			self.Yield()
		}
		done <- self.Id()
	})
	if id.IsNull() {
		t.Fatal("Spawn returned a null id")
	}

	select {
	case got := <-done:
		if got != id {
			t.Fatalf("id changed across yields: got %v want %v", got, id)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("fiber never completed its yield loop")
	}

	waitUntil(t, func() bool { return !rt.cores[0].isOccupied(id.Slot) },
		"slot still marked occupied after fiber terminated")

	id2 := rt.Spawn(0, func(self *FiberContext, args []any) {})
	if id2.Slot == id.Slot && id2.Generation <= id.Generation {
		t.Fatalf("slot %d reused without generation advancing: old=%v new=%v", id.Slot, id, id2)
	}
}

func TestStaleSignalIsNoOp(t *testing.T) {
	rt := NewRuntime(1, 2)
	go rt.Start()
	defer rt.Shutdown()

	bDone := make(chan FiberId, 1)
	bID := rt.Spawn(0, func(self *FiberContext, args []any) {
		bDone <- self.Id()
	})
	staleID := <-bDone
	if staleID != bID {
		t.Fatalf("unexpected id from spawn: %v vs %v", staleID, bID)
	}
	waitUntil(t, func() bool { return !rt.cores[0].isOccupied(staleID.Slot) },
		"B's slot never freed")

	cStarted := make(chan struct{})
	cWoken := make(chan struct{}, 1)
	cID := rt.Spawn(0, func(self *FiberContext, args []any) {
		close(cStarted)
		self.Suspend()
		cWoken <- struct{}{}
	})
	<-cStarted
	time.Sleep(5 * time.Millisecond) // let C actually reach Suspend()

	rt.cores[0].Wake(staleID)
	select {
	case <-cWoken:
		t.Fatal("a signal addressed to a dead generation woke the slot's new occupant")
	case <-time.After(30 * time.Millisecond):
	}

	rt.cores[0].Wake(cID)
	select {
	case <-cWoken:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for a correctly-addressed wake")
	}
}

func TestCrossCoreWakeup(t *testing.T) {
	rt := NewRuntime(2, 4)
	go rt.Start()
	defer rt.Shutdown()

	waiterID := make(chan FiberId, 1)
	woken := make(chan struct{}, 1)
	rt.Spawn(1, func(self *FiberContext, args []any) {
		waiterID <- self.Id()
		self.Suspend()
		woken <- struct{}{}
	})
	id := <-waiterID
	time.Sleep(5 * time.Millisecond)

	rt.Spawn(0, func(self *FiberContext, args []any) {
		self.Wake(id)
	})

	select {
	case <-woken:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("cross-core wakeup never arrived")
	}
}

func TestSleepDeadline(t *testing.T) {
	rt := NewRuntime(1, 2)
	go rt.Start()
	defer rt.Shutdown()

	start := time.Now()
	woke := make(chan struct{}, 1)
	rt.Spawn(0, func(self *FiberContext, args []any) {
		self.Sleep(30 * time.Millisecond)
		woke <- struct{}{}
	})

	select {
	case <-woke:
		if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
			t.Fatalf("Sleep returned too early: %v", elapsed)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Sleep never returned")
	}
}

func TestFiberSpawnCrossCoreDoesNotFreezeSourceDispatcher(t *testing.T) {
	rt := NewRuntime(2, 4)
	go rt.Start()
	defer rt.Shutdown()

	// A ticker fiber shares core 0 with the spawning fiber below. If the
	// cross-core Spawn round trip blocked core 0's dispatcher instead of
	// just the calling fiber, this would stop ticking for the duration.
	ticks := make(chan struct{}, 1024)
	stopTicker := make(chan struct{})
	rt.Spawn(0, func(self *FiberContext, args []any) {
		for {
			select {
			case <-stopTicker:
				return
			default:
			}
			select {
			case ticks <- struct{}{}:
			default:
			}
			self.Yield()
		}
	})

	spawnedID := make(chan FiberId, 1)
	childRan := make(chan struct{})
	rt.Spawn(0, func(self *FiberContext, args []any) {
		id := self.Spawn(1, func(child *FiberContext, args []any) {
			close(childRan)
		})
		spawnedID <- id
	})

	var id FiberId
	select {
	case id = <-spawnedID:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("cross-core Spawn never returned")
	}
	if id.IsNull() {
		t.Fatal("cross-core Spawn returned a null id")
	}
	if int(id.Core) != 1 {
		t.Fatalf("cross-core Spawn landed on core %d, want 1", id.Core)
	}

	select {
	case <-childRan:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("cross-core spawned child never ran")
	}

	select {
	case <-ticks:
	default:
		t.Fatal("core 0's dispatcher made no progress around the cross-core spawn")
	}
	close(stopTicker)
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}
