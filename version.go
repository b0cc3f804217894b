package incr

import "fmt"

// Version is a monotonic counter stamping the global event at which
// something last changed or was last confirmed valid.
type Version uint64

func (v *Version) bump() {
	*v++
}

func (v Version) String() string {
	return fmt.Sprintf("v%d", uint64(v))
}

// ValueVersion is the pair of stamps carried by every node.
type ValueVersion struct {
	// Changed is the version at which the node's contents last differed.
	Changed Version
	// Validated is the version up to which the node is known to be consistent.
	Validated Version
}

// runtimeVersion is the runtime-wide version pair. changed advances on
// mutation, validated catches up on the first read after a mutation.
type runtimeVersion struct {
	changed   Version
	validated Version
}

// change opens a new invalidation episode unless one is already open, so
// several mutations before the next read collapse into a single epoch.
func (v *runtimeVersion) change() Version {
	if v.validated == v.changed {
		v.changed.bump()
	}
	return v.changed
}

// validate makes a pending epoch visible. It reports whether an epoch was
// opened by this call.
func (v *runtimeVersion) validate() (Version, bool) {
	if v.validated < v.changed {
		v.validated = v.changed
		return v.validated, true
	}
	return v.validated, false
}
