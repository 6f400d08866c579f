// event.go — the wire shape of one diagnostics record.
//
// Grounded on fiber.DiagSink's Record signature (fiber/core.go) and the
// teacher's EthereumLog/ProcessedReserveEntry style of a small fixed-shape
// struct carrying exactly what a downstream consumer needs, nothing more
// (syncharvester/syncharvester.go's ProcessedReserveEntry).

package diag

// Event kind values. Mirrors fiber's exported Event* constants; diag keeps
// its own copy so this package has no compile-time dependency beyond the
// DiagSink interface it implements.
const (
	EventSpawn     byte = 1
	EventTerminate byte = 2
	EventTimeout   byte = 3
	EventCancel    byte = 4
)

// Event is one fiber lifecycle or syscall-bridge occurrence, timestamped
// implicitly by its arrival order in the per-core ring that carried it.
type Event struct {
	Kind       byte
	CoreID     uint16
	Slot       uint32
	Generation uint32
	Extra      int64
}
