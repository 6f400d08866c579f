// id.go — stable fiber identity.
//
// Grounded on original_source/src/ThreadId.h: a {context, generation} pair
// used everywhere a fiber must be named across a suspension point without
// risking the ABA hazard of slot reuse. Go's value-type equality (==)
// replaces the C++ operator== overload directly.

package fiber

// FiberId names one fiber: which slot on which core it occupies, and the
// generation of that slot at the time the id was captured. The zero value
// is the null id (no core, slot 0, generation 0) and never names a live
// fiber, since real generations start at 1.
type FiberId struct {
	Core       uint16
	Slot       uint32
	Generation uint32
}

// IsNull reports whether id is the zero id.
func (id FiberId) IsNull() bool {
	return id == FiberId{}
}
