package incr

// Value is a handle to one node of the graph: either a var, holding a value
// set from outside, or a computed value, caching the result of a closure
// over other values. Copying the *Value pointer is the only sharing
// mechanism; all copies refer to the same node.
//
// Reads revalidate lazily. A computed value re-runs its closure only when a
// dependency recorded during its last evaluation has changed since.
type Value[T any] struct {
	rt   *Runtime
	id   NodeID
	kind Kind

	// cached is nil while the node is unevaluated. Every evaluation or set
	// allocates a fresh box, so pointers returned by GetRef stay stable.
	cached  *T
	compute func() T
	trace   []traceEntry
	ver     ValueVersion

	// busy is held while the node is being brought up to date.
	busy     bool
	cleanups []func() error
	tags     map[any]any
}

// ValueOption is a modifier for values
type ValueOption func(Node)

// WithTag returns an option that sets a tag on a value
func WithTag[T any](tag Tag[T], val T) ValueOption {
	return func(n Node) {
		tag.Set(n, val)
	}
}

// WithName names a value for logs, errors and graph exports.
func WithName(name string) ValueOption {
	return WithTag(nameTag, name)
}

// Var creates a var holding value. Vars are always valid.
func Var[T any](rt *Runtime, value T, opts ...ValueOption) *Value[T] {
	v := &Value[T]{
		rt:     rt,
		kind:   KindVar,
		cached: &value,
		ver: ValueVersion{
			Changed:   rt.version.changed,
			Validated: rt.version.changed,
		},
	}
	v.init(opts)
	return v
}

// Computed creates an unevaluated computed value. compute runs on the first
// read and again whenever a value it read has changed. Every value read
// through Get, GetRef or Track inside compute becomes a dependency.
func Computed[T any](rt *Runtime, compute func() T, opts ...ValueOption) *Value[T] {
	v := &Value[T]{
		rt:      rt,
		kind:    KindComputed,
		compute: compute,
	}
	v.ver.Changed = rt.changeVersion()
	v.init(opts)
	return v
}

func (v *Value[T]) init(opts []ValueOption) {
	v.id = nodeIDOf(v)
	v.tags = make(map[any]any)
	for _, opt := range opts {
		opt(v)
	}
}

// Get returns a copy of the current value, recomputing it if needed, and
// records the read against the value being evaluated, if any.
func (v *Value[T]) Get() T {
	return *v.GetRef()
}

// GetRef is Get without the copy. The returned pointer refers to the value
// committed at the time of the call; later evaluations commit a new one.
func (v *Value[T]) GetRef() *T {
	if v.acquire() {
		func() {
			defer v.release()
			v.ensureValid()
		}()
	} else if v.cached == nil {
		// Read of a node from inside its own first evaluation.
		panic(invariantViolation(v, "cyclic read before the first evaluation completed"))
	}
	value := v.cached
	v.trackRead()
	return value
}

// Track brings the value up to date and records the read without returning
// the value.
func (v *Value[T]) Track() {
	v.GetRef()
}

// Peek returns the committed value without revalidating it or recording a
// read.
func (v *Value[T]) Peek() (T, bool) {
	if v.cached == nil {
		var zero T
		return zero, false
	}
	return *v.cached, true
}

// Set replaces the value of a var. Readers are not visited; they notice the
// change the next time they are read.
func (v *Value[T]) Set(value T) {
	if v.kind != KindVar {
		panic(contractViolation(OpSet, v, "cannot set a computed value"))
	}
	op := v.rt.operation(OpSet, v, v.rt.version.changed)
	v.rt.wrap(op, func() {
		v.ver.Changed = v.rt.changeVersion()
		v.cached = &value
	})
	v.rt.stats.Sets++
}

// Update sets a var to fn applied to its current value.
func (v *Value[T]) Update(fn func(T) T) {
	if v.kind != KindVar {
		panic(contractViolation(OpSet, v, "cannot update a computed value"))
	}
	v.Set(fn(*v.cached))
}

// Invalidate drops the cached result and trace of a computed value. The
// closure runs again on the next read.
func (v *Value[T]) Invalidate() {
	if v.kind != KindComputed {
		panic(contractViolation(OpInvalidate, v, "a var can only change through Set"))
	}
	if v.busy {
		panic(contractViolation(OpInvalidate, v, "cannot invalidate a value during its own evaluation"))
	}
	op := v.rt.operation(OpInvalidate, v, v.rt.version.changed)
	v.rt.wrap(op, func() {
		v.runCleanups(OpInvalidate)
		v.cached = nil
		v.clearTrace()
		v.ver.Changed = v.rt.changeVersion()
	})
	v.rt.stats.Invalidations++
}

// Take brings a computed value up to date, then removes and returns its
// result, leaving the node invalidated. The read is not recorded.
func (v *Value[T]) Take() T {
	if v.kind != KindComputed {
		panic(contractViolation(OpTake, v, "cannot take a var"))
	}
	if v.busy {
		panic(contractViolation(OpTake, v, "cannot take a value during its own evaluation"))
	}

	var value T
	op := v.rt.operation(OpTake, v, v.rt.version.changed)
	v.rt.wrap(op, func() {
		v.revalidate()
		value = *v.cached
		v.Invalidate()
	})
	return value
}

// IsValid reports whether a result is committed. It does not check whether
// the result is still current.
func (v *Value[T]) IsValid() bool {
	return v.cached != nil
}

// Runtime returns the runtime the value belongs to.
func (v *Value[T]) Runtime() *Runtime {
	return v.rt
}

// ID returns the value's identity.
func (v *Value[T]) ID() NodeID {
	return v.id
}

// Kind reports whether the value is a var or a computed value.
func (v *Value[T]) Kind() Kind {
	return v.kind
}

// Name returns the value's display name, or "" if it has none.
func (v *Value[T]) Name() string {
	return nameTag.GetOrDefault(v, "")
}

// LastChanged returns the version at which the value last changed.
func (v *Value[T]) LastChanged() Version {
	return v.ver.Changed
}

// Version returns the value's version stamps.
func (v *Value[T]) Version() ValueVersion {
	return v.ver
}

// Dependencies lists the values read during the last evaluation, in first
// read order and without duplicates.
func (v *Value[T]) Dependencies() []NodeID {
	deps := v.dependencies()
	ids := make([]NodeID, len(deps))
	for i, dep := range deps {
		ids[i] = dep.ID()
	}
	return ids
}

func (v *Value[T]) GetTag(tag any) (any, bool) {
	val, ok := v.tags[tag]
	return val, ok
}

func (v *Value[T]) SetTag(tag any, val any) {
	v.tags[tag] = val
}

func (v *Value[T]) acquire() bool {
	if v.busy {
		return false
	}
	v.busy = true
	return true
}

func (v *Value[T]) release() {
	v.busy = false
}

// ensureValid is the revalidation algorithm. The caller holds the node.
func (v *Value[T]) ensureValid() {
	epoch := v.rt.validatedVersion()
	if v.ver.Validated == epoch {
		return
	}
	if v.kind == KindVar {
		v.ver.Validated = epoch
		return
	}
	if v.cached == nil || v.dependencyChanged() {
		v.evaluate(epoch)
	}
	v.ver.Validated = epoch
}

// dependencyChanged walks the trace once and reports whether any
// dependency changed after it was read.
func (v *Value[T]) dependencyChanged() bool {
	for _, entry := range v.trace {
		entry.dep.revalidate()
		changed := entry.dep.LastChanged()
		if changed > entry.at {
			return true
		}
		if v.rt.checks && changed < entry.at {
			panic(invariantViolation(entry.dep, "changed version regressed from %s to %s", entry.at, changed))
		}
	}
	return false
}

func (v *Value[T]) evaluate(epoch Version) {
	v.runCleanups(OpEvaluate)
	v.clearTrace()

	op := v.rt.operation(OpEvaluate, v, epoch)
	done := false
	defer func() {
		if done {
			return
		}
		// Extensions see the partial trace before the reset.
		var ep *EvalPanic
		if r := recover(); r != nil {
			ep = v.rt.recovered(v, op, r)
		}
		// Back to unevaluated so the next read retries.
		v.cached = nil
		v.clearTrace()
		v.ver.Changed = epoch
		if ep != nil {
			panic(ep)
		}
	}()

	var result *T
	v.rt.eval(v, func() {
		v.rt.wrap(op, func() {
			value := v.compute()
			result = &value
		})
	})
	if result == nil {
		panic(invariantViolation(v, "evaluation finished without a result"))
	}

	v.cached = result
	v.ver.Changed = epoch
	done = true

	v.rt.stats.Evaluations++
	v.rt.logger.Debug("evaluated", "node", describe(v.id, v.Name()), "epoch", epoch, "dependencies", len(v.trace))
}

func (v *Value[T]) trackRead() {
	reader := v.rt.current
	if reader == nil || reader.ID() == v.id {
		return
	}
	reader.recordRead(v, v.ver.Changed)
}

func (v *Value[T]) clearTrace() {
	clear(v.trace)
	v.trace = v.trace[:0]
}

func (v *Value[T]) runCleanups(during OpKind) {
	if len(v.cleanups) == 0 {
		return
	}
	cleanups := v.cleanups
	v.cleanups = nil
	v.rt.runCleanups(v, cleanups, during)
}

func (v *Value[T]) revalidate() {
	if !v.acquire() {
		// Being evaluated further up the stack.
		return
	}
	defer v.release()
	v.ensureValid()
}

func (v *Value[T]) recordRead(dep Node, at Version) {
	if v.kind != KindComputed {
		panic(contractViolation(OpEvaluate, v, "a var does not read other values"))
	}
	v.trace = append(v.trace, traceEntry{at: at, dep: dep})
}

func (v *Value[T]) addCleanup(fn func() error) {
	if v.kind != KindComputed {
		panic(contractViolation(OpEvaluate, v, "a var has no evaluation to clean up after"))
	}
	v.cleanups = append(v.cleanups, fn)
}

func (v *Value[T]) committed() bool {
	return v.cached != nil
}

func (v *Value[T]) version() ValueVersion {
	return v.ver
}

func (v *Value[T]) dependencies() []Node {
	if len(v.trace) == 0 {
		return nil
	}
	seen := make(map[NodeID]bool, len(v.trace))
	deps := make([]Node, 0, len(v.trace))
	for _, entry := range v.trace {
		id := entry.dep.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		deps = append(deps, entry.dep)
	}
	return deps
}
