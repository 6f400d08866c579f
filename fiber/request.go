// request.go — cross-core spawn/join requests.
//
// Grounded on spec.md §4.9's cross-core spawn description, generalized to
// also carry join registrations: both are rare, cold-path operations
// compared to the wakeup ring's hot path, so one tagged message type
// shares a single internal/xring.Ring[Request] instantiation per
// (source core, dest core) pair instead of adding a second ring type.

package fiber

type requestKind uint8

const (
	requestSpawn requestKind = iota
	requestJoin
	requestSpawnReply
)

// Request is the payload carried on a core's inbound request ring.
type Request struct {
	Kind requestKind

	// Spawn fields. Reply is set only for Runtime.Spawn's bootstrap path,
	// which calls in from outside any fiber and so has no dispatcher to
	// suspend — blocking that caller's own goroutine on the channel is
	// safe there. A fiber's own cross-core Spawn (FiberContext.Spawn)
	// instead leaves Reply nil and fills SpawnWaiter, so the round trip
	// comes back as a requestSpawnReply the waiter's own core delivers
	// through Suspend/Wake instead of a raw channel receive.
	Entry       entryFunc
	Args        []any
	Reply       chan FiberId
	SpawnWaiter FiberId

	// requestSpawnReply fields: SpawnWaiter names the fiber to resume,
	// SpawnResult is the id spawnLocal produced (or the null id on
	// allocation failure).
	SpawnResult FiberId

	// Join fields.
	JoinTarget FiberId
	JoinWaiter FiberId
}
