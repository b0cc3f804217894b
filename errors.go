package incr

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrContract matches every *ContractError.
	ErrContract = errors.New("incr: contract violation")
	// ErrInvariant matches every *InvariantError.
	ErrInvariant = errors.New("incr: internal invariant violated")
)

// ContractError reports a misuse of a value, such as setting a computed
// value or taking a var. It is raised with panic at the offending call.
type ContractError struct {
	Op     OpKind
	Node   NodeID
	Name   string
	Reason string
}

func (e *ContractError) Error() string {
	subject := "runtime"
	if e.Node != 0 || e.Name != "" {
		subject = describe(e.Node, e.Name)
	}
	if e.Op == "" {
		return fmt.Sprintf("incr: %s: %s", subject, e.Reason)
	}
	return fmt.Sprintf("incr: %s on %s: %s", e.Op, subject, e.Reason)
}

func (e *ContractError) Is(target error) bool {
	return target == ErrContract
}

// InvariantError reports an engine defect: a state the revalidation
// algorithm never produces when used within its contract.
type InvariantError struct {
	Node   NodeID
	Name   string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("incr: invariant violated at %s: %s", describe(e.Node, e.Name), e.Reason)
}

func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariant
}

// EvalPanic wraps a panic that escaped a compute closure. It is created
// once, by the innermost evaluation that observed the panic, and passes
// unchanged through the enclosing evaluations.
type EvalPanic struct {
	Node      NodeID
	Name      string
	Recovered any
	Stack     []byte
}

func (e *EvalPanic) Error() string {
	return fmt.Sprintf("incr: evaluation of %s panicked: %v", describe(e.Node, e.Name), e.Recovered)
}

func (e *EvalPanic) Unwrap() error {
	if err, ok := e.Recovered.(error); ok {
		return err
	}
	return nil
}

// CleanupError contains information about a failed cleanup function.
type CleanupError struct {
	Node NodeID
	Name string
	Err  error
	// Context is the operation that triggered the cleanup.
	Context OpKind
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("incr: cleanup of %s during %s: %v", describe(e.Node, e.Name), e.Context, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

func contractViolation(op OpKind, n Node, format string, args ...any) *ContractError {
	return &ContractError{
		Op:     op,
		Node:   n.ID(),
		Name:   n.Name(),
		Reason: fmt.Sprintf(format, args...),
	}
}

func invariantViolation(n Node, format string, args ...any) *InvariantError {
	return &InvariantError{
		Node:   n.ID(),
		Name:   n.Name(),
		Reason: fmt.Sprintf(format, args...),
	}
}

func newEvalPanic(n Node, recovered any) *EvalPanic {
	return &EvalPanic{
		Node:      n.ID(),
		Name:      n.Name(),
		Recovered: recovered,
		Stack:     debug.Stack(),
	}
}

func describe(id NodeID, name string) string {
	if name != "" {
		return fmt.Sprintf("%q (%s)", name, id)
	}
	return id.String()
}
