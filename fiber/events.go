package fiber

// Diagnostic event kinds recorded through a Core's optional DiagSink.
// Values are stable across the process; package diag interprets them
// when writing rows.
const (
	diagEventSpawn     byte = 1
	diagEventTerminate byte = 2
	diagEventTimeout   byte = 3
	diagEventCancel    byte = 4
)

const (
	EventSpawn     = diagEventSpawn
	EventTerminate = diagEventTerminate
	EventTimeout   = diagEventTimeout
	EventCancel    = diagEventCancel
)
