package incr

import (
	"fmt"
	"unsafe"
)

// NodeID identifies a node by the address of its storage. Two IDs are
// equal iff they were taken from the same node, however the node was
// reached. An ID does not keep its node alive; lifetime is carried by the
// *Value handles and by the traces that reference the node.
type NodeID uintptr

func nodeIDOf[T any](v *Value[T]) NodeID {
	return NodeID(uintptr(unsafe.Pointer(v)))
}

func (id NodeID) String() string {
	return fmt.Sprintf("node@%#x", uintptr(id))
}

// Kind is the shape of a node.
type Kind uint8

const (
	// KindVar is a leaf holding an externally set value.
	KindVar Kind = iota + 1
	// KindComputed is a derived node caching the result of a closure.
	KindComputed
)

func (k Kind) String() string {
	switch k {
	case KindVar:
		return "var"
	case KindComputed:
		return "computed"
	default:
		return "unknown"
	}
}

// Node is the type-erased view of a graph entry. Every *Value[T]
// implements it; the unexported methods keep the set of implementations
// closed to this package.
type Node interface {
	ID() NodeID
	Kind() Kind
	Name() string
	LastChanged() Version
	Tagged

	// revalidate brings the node up to date without recording a read.
	revalidate()
	// recordRead appends dep, observed at version at, to this node's trace.
	recordRead(dep Node, at Version)
	addCleanup(fn func() error)
	committed() bool
	version() ValueVersion
	dependencies() []Node
}

// traceEntry is one dependency read during the last evaluation, with the
// dependency's changed version as observed at read time.
type traceEntry struct {
	at  Version
	dep Node
}
