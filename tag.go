package incr

import "fmt"

// Tagged is anything metadata can be attached to: every value, and the
// runtime.
type Tagged interface {
	GetTag(tag any) (any, bool)
	SetTag(tag any, val any)
}

// Tag is a typed key for metadata. Tags created with the same key and type
// address the same entry. Tags never take part in dependency tracking:
// setting one does not change a value's version.
type Tag[T any] struct {
	key string
}

// NewTag creates a tag with the given key.
func NewTag[T any](key string) Tag[T] {
	return Tag[T]{key: key}
}

// Key returns the tag's key.
func (t Tag[T]) Key() string {
	return t.key
}

// Get returns the tag's value on target.
func (t Tag[T]) Get(target Tagged) (T, bool) {
	val, ok := target.GetTag(t)
	if !ok {
		var zero T
		return zero, false
	}
	return val.(T), true
}

// MustGet is Get for tags the caller attached itself. A missing tag panics
// with a *ContractError.
func (t Tag[T]) MustGet(target Tagged) T {
	val, ok := t.Get(target)
	if !ok {
		err := &ContractError{Reason: fmt.Sprintf("tag %q is not set", t.key)}
		if n, isNode := target.(Node); isNode {
			err.Node, err.Name = n.ID(), n.Name()
		}
		panic(err)
	}
	return val
}

// GetOrDefault returns the tag's value on target, or defaultVal.
func (t Tag[T]) GetOrDefault(target Tagged, defaultVal T) T {
	if val, ok := t.Get(target); ok {
		return val
	}
	return defaultVal
}

// Set attaches val to target.
func (t Tag[T]) Set(target Tagged, val T) {
	target.SetTag(t, val)
}

var nameTag = NewTag[string]("incr.name")

// Name returns the tag holding a value's display name, as set by WithName.
func Name() Tag[string] {
	return nameTag
}
