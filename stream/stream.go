// Package stream implements an append-only log with one producer and any
// number of independent consumers.
//
// The log is a singly linked chain of cells. A cell is unwritten until the
// producer fills it with a value and links the next, unwritten, cell. The
// producer only holds the unwritten tail; each consumer holds the cell it
// will read next. Cells behind every consumer are unreachable and
// collected.
//
// Each cell counts its references: the consumers on it, the producer when
// it is the tail, and the link from its predecessor while that predecessor
// is still referenced. A consumer moves a value out only when it holds the
// sole reference, so no other consumer can reach the cell afterwards.
//
// Consumers are not safe for concurrent use with the producer; the stream
// is driven from one goroutine, like the graph it usually feeds.
package stream

import (
	"errors"
	"iter"
)

// ErrMultipleProducers is the panic value raised when a producer finds its
// tail already written, which happens only when two producers share it.
var ErrMultipleProducers = errors.New("stream: multiple producers are not supported")

type element[T any] struct {
	value T
	// next is nil while the element is unwritten.
	next *element[T]
	// refs counts the consumers on this element, the producer if this is
	// the tail, and the link from a live predecessor.
	refs int
}

// release drops one reference to e. An element left with none also drops
// its link to the next one.
func release[T any](e *element[T]) {
	for e != nil {
		e.refs--
		if e.refs > 0 {
			return
		}
		e = e.next
	}
}

func (e *element[T]) written() bool {
	return e.next != nil
}

type config[T any] struct {
	clone func(T) T
}

// Option configures a stream.
type Option[T any] func(*config[T])

// WithCloner sets the function used to copy a value out of a cell that
// another consumer will still read. The default copies with assignment.
func WithCloner[T any](clone func(T) T) Option[T] {
	return func(c *config[T]) {
		c.clone = clone
	}
}

// New creates an empty stream and returns its producer and a first
// consumer.
func New[T any](opts ...Option[T]) (*Producer[T], *Consumer[T]) {
	cfg := &config[T]{
		clone: func(v T) T { return v },
	}
	for _, opt := range opts {
		opt(cfg)
	}
	p := &Producer[T]{top: &element[T]{refs: 1}, cfg: cfg}
	return p, p.Subscribe()
}

// Producer appends to the stream.
type Producer[T any] struct {
	top *element[T]
	cfg *config[T]
}

// Produce appends value. It must only be called by the single owner of the
// producer.
func (p *Producer[T]) Produce(value T) {
	if p.top.written() {
		panic(ErrMultipleProducers)
	}
	// One reference from the link, one from the producer.
	end := &element[T]{refs: 2}
	prev := p.top
	prev.value = value
	prev.next = end
	p.top = end
	release(prev)
}

// Subscribe returns a consumer that sees every value produced from now on.
func (p *Producer[T]) Subscribe() *Consumer[T] {
	p.top.refs++
	return &Consumer[T]{next: p.top, cfg: p.cfg}
}

// Consumer reads the stream from its own position.
type Consumer[T any] struct {
	next *element[T]
	cfg  *config[T]
}

// Clone returns an independent consumer at the same position.
func (c *Consumer[T]) Clone() *Consumer[T] {
	if c.next == nil {
		return &Consumer[T]{cfg: c.cfg}
	}
	c.next.refs++
	return &Consumer[T]{next: c.next, cfg: c.cfg}
}

// Close releases the consumer's position. A closed consumer reads nothing.
func (c *Consumer[T]) Close() {
	if c.next == nil {
		return
	}
	release(c.next)
	c.next = nil
}

// DrainOne reads the next value if one was produced past the consumer's
// position. A consumer holding the only reference to its cell moves the
// value out; otherwise the value is cloned and the cell stays intact for
// consumers on it or behind it.
func (c *Consumer[T]) DrainOne() (T, bool) {
	var zero T
	e := c.next
	if e == nil || !e.written() {
		return zero, false
	}

	var value T
	if e.refs == 1 {
		value = e.value
		e.value = zero
	} else {
		value = c.cfg.clone(e.value)
	}
	c.next = e.next
	c.next.refs++
	release(e)
	return value, true
}

// Drain returns a sequence of every value currently available. It stops
// when the consumer reaches the tail and does not wait for new values.
func (c *Consumer[T]) Drain() iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			value, ok := c.DrainOne()
			if !ok || !yield(value) {
				return
			}
		}
	}
}

// Pending counts the values available to the consumer without reading
// them.
func (c *Consumer[T]) Pending() int {
	n := 0
	for e := c.next; e != nil && e.written(); e = e.next {
		n++
	}
	return n
}
