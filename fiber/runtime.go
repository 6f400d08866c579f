// runtime.go — multi-core wiring and the cross-core spawn/join entry point.
//
// Grounded on the teacher's main.go orchestration style (phased setup,
// then a fixed pool of pinned goroutines) generalized from one WebSocket
// ingress consumer per shard to one dispatcher per fiber-runtime core.

package fiber

import (
	"sync"

	"quantumfiber/constants"
	"quantumfiber/internal/wakering"
	"quantumfiber/internal/xring"
)

// Runtime owns a fixed set of cores and the N×N cross-core rings wiring
// them together. Each ring pair is single-producer/single-consumer: core
// j is the only producer of cores[i].wakeRingsIn[j] and
// cores[i].requestRingsIn[j].
type Runtime struct {
	cores []*Core

	// externalMu serializes bootstrap Spawn calls made from outside any
	// fiber (e.g. process startup), which share one producer lane per
	// target core and are therefore not naturally single-producer.
	externalMu      sync.Mutex
	externalRingsIn []*xring.Ring[Request]
}

// NewRuntime allocates numCores cores, each with slotCapacity fiber slots,
// and wires the cross-core wakeup/request rings between every ordered
// pair (including the reserved "external" bootstrap lane).
func NewRuntime(numCores, slotCapacity int) *Runtime {
	if numCores <= 0 || numCores > constants.MaxCores {
		panic("fiber: numCores out of range")
	}
	rt := &Runtime{cores: make([]*Core, numCores)}
	for i := 0; i < numCores; i++ {
		rt.cores[i] = newCore(i, rt, slotCapacity)
	}
	for i := 0; i < numCores; i++ {
		c := rt.cores[i]
		c.wakeRingsIn = make([]*wakering.Ring, numCores)
		c.requestRingsIn = make([]*xring.Ring[Request], numCores)
		for j := 0; j < numCores; j++ {
			c.wakeRingsIn[j] = wakering.New(constants.WakeRingCapacity)
			c.requestRingsIn[j] = xring.New[Request](constants.SpawnRingCapacity)
		}
	}
	rt.externalRingsIn = make([]*xring.Ring[Request], numCores)
	for i := range rt.externalRingsIn {
		rt.externalRingsIn[i] = xring.New[Request](constants.SpawnRingCapacity)
	}
	return rt
}

// Cores returns the runtime's cores, indexed by id.
func (rt *Runtime) Cores() []*Core { return rt.cores }

// Start launches one dispatch loop per core and blocks the calling
// goroutine until all of them return (normally only on Shutdown).
func (rt *Runtime) Start() {
	var wg sync.WaitGroup
	wg.Add(len(rt.cores))
	for _, c := range rt.cores {
		c := c
		go func() {
			defer wg.Done()
			c.Run()
		}()
	}
	wg.Wait()
}

// Shutdown asks every core's dispatch loop to stop after its current
// pass and waits for all of them to exit.
func (rt *Runtime) Shutdown() {
	for _, c := range rt.cores {
		c.stop.Store(true)
	}
	for _, c := range rt.cores {
		<-c.doneCh
	}
}

// resolveTarget picks a core by explicit hint, or the least-loaded core
// (fewest occupied slots, ties toward the lowest id) when hint < 0.
func (rt *Runtime) resolveTarget(hint int) *Core {
	if hint >= 0 {
		return rt.cores[hint%len(rt.cores)]
	}
	best := rt.cores[0]
	bestLoad := best.loadHint.Load()
	for _, c := range rt.cores[1:] {
		if l := c.loadHint.Load(); l < bestLoad {
			best, bestLoad = c, l
		}
	}
	return best
}

// spawn is the fiber-facing spawn path: self's own core is the
// single-writer fast path when it equals the target. The cross-core path
// suspends self via Suspend/Wake, the same protocol Join uses, rather
// than blocking self's backing goroutine on a raw channel receive — that
// goroutine is the one this core's dispatcher is waiting on inside
// swapTo, so blocking it directly would freeze the whole core's dispatch
// loop for the round trip instead of just this one fiber.
func (rt *Runtime) spawn(self *FiberContext, hint int, entry entryFunc, args []any) FiberId {
	from := self.core
	target := rt.resolveTarget(hint)
	if target.id == from.id {
		return target.spawnLocal(entry, args)
	}
	rt.pushRequest(from.id, target.id, Request{Kind: requestSpawn, Entry: entry, Args: args, SpawnWaiter: self.Id()})
	self.Suspend()
	return self.spawnResult
}

// Spawn is the bootstrap-facing spawn path, safe to call from outside any
// fiber. It blocks until the target core's dispatch loop has drained the
// request, so it returns only once Start is running; a call made before
// Start waits until Start begins.
func (rt *Runtime) Spawn(coreHint int, entry entryFunc, args ...any) FiberId {
	target := rt.resolveTarget(coreHint)
	reply := make(chan FiberId, 1)
	req := Request{Kind: requestSpawn, Entry: entry, Args: args, Reply: reply}

	rt.externalMu.Lock()
	ok := rt.externalRingsIn[target.id].Push(req)
	rt.externalMu.Unlock()
	if !ok {
		panic("fiber: external spawn ring overflow: raise constants.SpawnRingCapacity")
	}
	return <-reply
}

// pushRequest enqueues req from source core `from` onto target core
// `to`'s inbound lane for `from`.
func (rt *Runtime) pushRequest(from, to int, req Request) {
	if !rt.cores[to].requestRingsIn[from].Push(req) {
		panic("fiber: request ring overflow: raise constants.SpawnRingCapacity")
	}
}
