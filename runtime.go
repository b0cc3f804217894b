package incr

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
)

// Runtime owns one dependency graph: the global version pair and the slot
// naming the node currently being evaluated. A Runtime and every value
// created from it must be driven from a single goroutine at a time.
type Runtime struct {
	id         uuid.UUID
	version    runtimeVersion
	current    Node
	logger     *slog.Logger
	extensions []Extension
	tags       map[any]any
	checks     bool
	stats      Stats
}

// Stats counts runtime activity since creation.
type Stats struct {
	// Epochs is the number of times a pending change became visible.
	Epochs uint64
	// Evaluations is the number of compute closure runs.
	Evaluations uint64
	// MemoHits is the number of memo evaluations answered from the cache.
	MemoHits uint64
	// Sets is the number of var assignments.
	Sets uint64
	// Invalidations is the number of explicit invalidations.
	Invalidations uint64
}

// RuntimeOption is a modifier for runtimes
type RuntimeOption func(*Runtime)

// WithLogger sets the logger used for debug output and unhandled cleanup
// errors.
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(rt *Runtime) {
		rt.logger = logger
	}
}

// WithExtension returns an option that registers an extension to a runtime
func WithExtension(ext Extension) RuntimeOption {
	return func(rt *Runtime) {
		if err := rt.UseExtension(ext); err != nil {
			panic(err)
		}
	}
}

// WithInvariantChecks enables or disables the internal consistency checks
// made while walking traces. They are enabled by default.
func WithInvariantChecks(enabled bool) RuntimeOption {
	return func(rt *Runtime) {
		rt.checks = enabled
	}
}

// WithRuntimeTag returns an option that sets a tag on a runtime
func WithRuntimeTag[T any](tag Tag[T], val T) RuntimeOption {
	return func(rt *Runtime) {
		tag.Set(rt, val)
	}
}

// NewRuntime creates an empty graph.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		id:     uuid.New(),
		logger: slog.New(slog.DiscardHandler),
		tags:   make(map[any]any),
		checks: true,
	}

	for _, opt := range opts {
		opt(rt)
	}

	rt.logger = rt.logger.With("runtime", rt.id.String())
	return rt
}

// ID returns the runtime's unique identifier, attached to its log records.
func (rt *Runtime) ID() uuid.UUID {
	return rt.id
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *slog.Logger {
	return rt.logger
}

// Stats returns a snapshot of the runtime counters.
func (rt *Runtime) Stats() Stats {
	return rt.stats
}

// Current returns the node being evaluated, if any.
func (rt *Runtime) Current() (NodeID, bool) {
	if rt.current == nil {
		return 0, false
	}
	return rt.current.ID(), true
}

// Untracked runs fn with no current evaluator. Values read inside fn are
// brought up to date but no dependency edge is recorded.
func (rt *Runtime) Untracked(fn func()) {
	prev := rt.current
	rt.current = nil
	defer func() {
		rt.current = prev
	}()
	fn()
}

// OnCleanup registers fn on the node currently being evaluated. Cleanups
// run in reverse registration order before the node is evaluated again,
// invalidated or taken.
func (rt *Runtime) OnCleanup(fn func() error) {
	if rt.current == nil {
		panic(&ContractError{Op: OpEvaluate, Reason: "OnCleanup called outside of an evaluation"})
	}
	rt.current.addCleanup(fn)
}

// eval makes n the current evaluator while f runs. The previous evaluator
// is restored on every exit path, so nesting is always stack-shaped.
func (rt *Runtime) eval(n Node, f func()) {
	prev := rt.current
	rt.current = n
	defer func() {
		rt.current = prev
	}()
	f()
}

// changeVersion opens an invalidation episode, or joins the open one.
func (rt *Runtime) changeVersion() Version {
	return rt.version.change()
}

// validatedVersion makes a pending episode visible as the new epoch.
func (rt *Runtime) validatedVersion() Version {
	v, advanced := rt.version.validate()
	if advanced {
		rt.stats.Epochs++
		rt.logger.Debug("epoch advanced", "epoch", v)
	}
	return v
}

// UseExtension registers an extension to the runtime
func (rt *Runtime) UseExtension(ext Extension) error {
	rt.extensions = append(rt.extensions, ext)
	sort.SliceStable(rt.extensions, func(i, j int) bool {
		return rt.extensions[i].Order() < rt.extensions[j].Order()
	})

	return ext.Init(rt)
}

// wrap runs next inside every extension's Wrap; the lowest Order is the
// outermost.
func (rt *Runtime) wrap(op *Operation, next func()) {
	exts := rt.extensions
	for i := len(exts) - 1; i >= 0; i-- {
		ext := exts[i]
		inner := next
		next = func() {
			ext.Wrap(inner, op)
		}
	}
	next()
}

func (rt *Runtime) operation(kind OpKind, n Node, v Version) *Operation {
	return &Operation{
		Kind:    kind,
		Node:    n.ID(),
		Name:    n.Name(),
		Subject: n,
		Runtime: rt,
		Version: v,
	}
}

// recovered turns a panic observed while evaluating n into an *EvalPanic,
// notifying extensions the first time it is seen.
func (rt *Runtime) recovered(n Node, op *Operation, r any) *EvalPanic {
	if ep, ok := r.(*EvalPanic); ok {
		return ep
	}
	ep := newEvalPanic(n, r)
	for _, ext := range rt.extensions {
		ext.OnPanic(op, r, ep.Stack)
	}
	return ep
}

func (rt *Runtime) runCleanups(n Node, cleanups []func() error, during OpKind) {
	for i := len(cleanups) - 1; i >= 0; i-- {
		err := cleanups[i]()
		if err == nil {
			continue
		}
		cleanupErr := &CleanupError{
			Node:    n.ID(),
			Name:    n.Name(),
			Err:     err,
			Context: during,
		}

		handled := false
		for _, ext := range rt.extensions {
			if ext.OnCleanupError(cleanupErr) {
				handled = true
				break
			}
		}
		if !handled {
			rt.logger.Warn("cleanup failed", "node", describe(cleanupErr.Node, cleanupErr.Name), "error", err)
		}
	}
}

// Dispose disposes every registered extension.
func (rt *Runtime) Dispose() error {
	for _, ext := range rt.extensions {
		if err := ext.Dispose(rt); err != nil {
			return fmt.Errorf("disposing extension %s: %w", ext.Name(), err)
		}
	}
	return nil
}

// GetTag retrieves a tag value from the runtime
func (rt *Runtime) GetTag(tag any) (any, bool) {
	val, ok := rt.tags[tag]
	return val, ok
}

// SetTag stores a tag value on the runtime
func (rt *Runtime) SetTag(tag any, val any) {
	rt.tags[tag] = val
}
