// Package incr provides an incremental computation engine: a graph of
// mutable inputs and derived values in which reading a derived value
// recomputes it only if something it depended on changed since it was
// last confirmed valid.
//
// # Overview
//
// Incr organizes code around four concepts:
//
//  1. Runtime: owns one graph, its version counters and the evaluation stack
//  2. Var: a leaf value set from outside
//  3. Computed: a value derived by a closure over other values
//  4. Memo: a computed value that skips its work while a cheap key is unchanged
//
// # Basic Usage
//
//	rt := incr.NewRuntime()
//
//	a := incr.Var(rt, 1)
//	b := incr.Computed(rt, func() int { return a.Get() * 2 })
//	c := incr.Computed(rt, func() int { return a.Get() * 3 })
//	d := incr.Computed(rt, func() int { return b.Get() + c.Get() })
//
//	d.Get() // 5
//	a.Set(2)
//	d.Get() // 10
//
// Every Get performed inside a compute closure is recorded in that
// closure's trace, together with the version at which the value read last
// changed. Nothing is recomputed by Set: the next read of d walks its trace,
// brings b and c up to date, and runs d's closure again only if one of them
// moved.
//
// # Versions and Epochs
//
// The runtime keeps a changed and a validated version. A mutation opens an
// invalidation episode by advancing changed, unless one is already open, so
// several Sets before a read collapse into one epoch. The first read after
// that makes the epoch visible. A node validated in the current epoch
// answers reads in O(1).
//
// # Memo
//
//	total := incr.Memo(rt,
//	    func() []string { return files.Get() },   // tracked
//	    func(names []string) int { return expensiveCount(names) }, // untracked
//	)
//
// Only the key function participates in dependency tracking. Values read by
// the compute function are not dependencies. Use MemoFunc for keys that are
// not comparable with ==.
//
// # Streams
//
// A Producer exposes an append-only stream to the graph:
//
//	events := incr.NewProducer[string](rt)
//	sub := events.Subscribe()
//	seen := incr.Computed(rt, func() []string {
//	    return slices.Collect(sub.Get().Drain())
//	})
//
//	events.Produce("started")
//	seen.Get() // ["started"]
//
// Productions wake nobody; they are observed the next time a subscriber is
// read.
//
// # Cycles
//
// A value read while it is being evaluated further up the stack answers
// with its previously committed result instead of recursing. Reading a
// value inside its own first evaluation is an invariant violation.
//
// # Errors
//
// Misuse, such as setting a computed value or taking a var, panics with a
// *ContractError. Engine defects panic with an *InvariantError. A panic
// escaping a compute closure is wrapped once in an *EvalPanic and the value
// is reset so that a later read retries.
//
// # Extensions
//
// Extensions observe evaluations and mutations:
//
//	type countingExtension struct {
//	    incr.BaseExtension
//	    n int
//	}
//
//	func (e *countingExtension) Wrap(next func(), op *incr.Operation) {
//	    if op.Kind == incr.OpEvaluate {
//	        e.n++
//	    }
//	    next()
//	}
//
//	rt := incr.NewRuntime(incr.WithExtension(&countingExtension{
//	    BaseExtension: incr.NewBaseExtension("counting"),
//	}))
//
// The extensions package provides logging, Prometheus, OpenTelemetry and
// graph debugging extensions.
//
// # Thread Safety
//
// None. A Runtime and its values must be driven from one goroutine at a
// time. Feed values produced elsewhere into the graph from that goroutine.
package incr
