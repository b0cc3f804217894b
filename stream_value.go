package incr

import (
	"iter"

	"github.com/pumped-fn/incr/stream"
)

// Producer is a var holding the producing end of a stream. Every Produce
// changes the var, so subscriptions read inside a computed value make it
// recompute in the next epoch.
type Producer[T any] struct {
	v *Value[*stream.Producer[T]]
}

// NewProducer creates a producer over a new stream.
func NewProducer[T any](rt *Runtime, opts ...ValueOption) *Producer[T] {
	p, c := stream.New[T]()
	c.Close()
	return ProducerOf(rt, p, opts...)
}

// ProducerOf exposes an existing stream producer to the graph.
func ProducerOf[T any](rt *Runtime, p *stream.Producer[T], opts ...ValueOption) *Producer[T] {
	return &Producer[T]{v: Var(rt, p, opts...)}
}

// Value returns the var holding the stream producer.
func (p *Producer[T]) Value() *Value[*stream.Producer[T]] {
	return p.v
}

// Produce appends value to the stream.
func (p *Producer[T]) Produce(value T) {
	p.v.Update(func(sp *stream.Producer[T]) *stream.Producer[T] {
		sp.Produce(value)
		return sp
	})
}

// Subscribe returns a computed value that tracks the producer and yields a
// consumer positioned at the current end of the stream. The consumer is
// shared by every reader of the subscription.
func (p *Producer[T]) Subscribe(opts ...ValueOption) *Value[*ConsumerValue[T]] {
	sp, _ := p.v.Peek()
	consumer := &ConsumerValue[T]{c: sp.Subscribe()}
	return Computed(p.v.rt, func() *ConsumerValue[T] {
		p.v.Track()
		return consumer
	}, opts...)
}

// ConsumerValue is the shared consumer behind a subscription.
type ConsumerValue[T any] struct {
	c *stream.Consumer[T]
}

// Drain returns every value produced since the last drain.
func (cv *ConsumerValue[T]) Drain() iter.Seq[T] {
	return cv.c.Drain()
}

// DrainOne reads a single value, if one is available.
func (cv *ConsumerValue[T]) DrainOne() (T, bool) {
	return cv.c.DrainOne()
}

// Close releases the consumer's position in the stream.
func (cv *ConsumerValue[T]) Close() {
	cv.c.Close()
}
