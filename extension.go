package incr

// OpKind names an operation that extensions can observe.
type OpKind string

const (
	// OpEvaluate is a run of a computed value's closure.
	OpEvaluate OpKind = "evaluate"
	// OpSet is an assignment to a var.
	OpSet OpKind = "set"
	// OpInvalidate is an explicit invalidation of a computed value.
	OpInvalidate OpKind = "invalidate"
	// OpTake is the removal of a computed value's cached result.
	OpTake OpKind = "take"
)

// Operation describes the operation being wrapped.
type Operation struct {
	Kind    OpKind
	Node    NodeID
	Name    string
	Subject Node
	Runtime *Runtime
	// Version is the epoch an evaluation runs in, or the runtime's changed
	// version before a mutation.
	Version Version
}

// Extension provides hooks into the runtime. All hooks run synchronously on
// the goroutine that drives the runtime.
type Extension interface {
	// Name returns the extension's name
	Name() string

	// Order determines extension execution order (lower = outer)
	Order() int

	// Init is called when the extension is registered to a runtime
	Init(rt *Runtime) error

	// Wrap intercepts evaluations and mutations. It must call next exactly
	// once.
	Wrap(next func(), op *Operation)

	// OnPanic is called once when a compute closure panics. The panic
	// continues to propagate after all extensions ran.
	OnPanic(op *Operation, recovered any, stack []byte)

	// OnCleanupError handles cleanup failures.
	// Returns true if the error was handled, false to use default behavior
	OnCleanupError(err *CleanupError) bool

	// Dispose is called when the runtime is disposed
	Dispose(rt *Runtime) error
}

// BaseExtension provides default implementations for Extension methods
type BaseExtension struct {
	name string
}

// NewBaseExtension creates a new base extension with the given name
func NewBaseExtension(name string) BaseExtension {
	return BaseExtension{name: name}
}

func (e *BaseExtension) Name() string {
	return e.name
}

func (e *BaseExtension) Order() int {
	return 100
}

func (e *BaseExtension) Init(rt *Runtime) error {
	return nil
}

func (e *BaseExtension) Wrap(next func(), op *Operation) {
	next()
}

func (e *BaseExtension) OnPanic(op *Operation, recovered any, stack []byte) {
}

func (e *BaseExtension) OnCleanupError(err *CleanupError) bool {
	return false
}

func (e *BaseExtension) Dispose(rt *Runtime) error {
	return nil
}
