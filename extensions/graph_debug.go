package extensions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pumped-fn/incr"
)

// GraphDebugExtension logs the dependency graph around a failed evaluation.
//
// Usage:
//
//	// Human-readable formatted output (with line breaks)
//	handler := extensions.NewHumanHandler(os.Stdout, slog.LevelError)
//	ext := extensions.NewGraphDebugExtension(handler)
//
//	// Structured JSON logging (compact, machine-readable)
//	handler := slog.NewJSONHandler(os.Stdout, nil)
//	ext := extensions.NewGraphDebugExtension(handler)
//
// The graph is exported from the failing value and shows the reads it made
// before panicking. The evaluations that led to it are logged as a path.
type GraphDebugExtension struct {
	incr.BaseExtension

	// evaluating is the stack of evaluations currently running.
	evaluating []incr.Node
	failed     map[incr.NodeID]any
	logger     *slog.Logger
}

// NewGraphDebugExtension creates a new graph debug extension.
func NewGraphDebugExtension(logHandler slog.Handler) *GraphDebugExtension {
	return &GraphDebugExtension{
		BaseExtension: incr.NewBaseExtension("graph-debug"),
		failed:        make(map[incr.NodeID]any),
		logger:        slog.New(logHandler),
	}
}

// Order places the extension outside most others so that its stack
// reflects every evaluation.
func (e *GraphDebugExtension) Order() int {
	return 10
}

func (e *GraphDebugExtension) Wrap(next func(), op *incr.Operation) {
	if op.Kind != incr.OpEvaluate {
		next()
		return
	}

	e.evaluating = append(e.evaluating, op.Subject)
	defer func() {
		e.evaluating = e.evaluating[:len(e.evaluating)-1]
	}()
	next()
	delete(e.failed, op.Node)
}

// OnPanic logs the evaluation path and graph of the failed evaluation.
func (e *GraphDebugExtension) OnPanic(op *incr.Operation, recovered any, stack []byte) {
	e.failed[op.Node] = recovered

	path := make([]string, 0, len(e.evaluating)+1)
	for _, n := range e.evaluating {
		path = append(path, nodeName(n))
	}
	path = append(path, label(op))

	e.logger.Error("Evaluation Panic",
		"node", label(op),
		"panic", fmt.Sprintf("%v", recovered),
		"epoch", op.Version.String(),
		"path", strings.Join(path, " -> "),
		"dependency_graph", incr.ExportGraph(op.Subject).String(),
		"stack_trace", string(stack),
	)
}

// OnCleanupError logs the failure and leaves it to the runtime's default
// handling.
func (e *GraphDebugExtension) OnCleanupError(err *incr.CleanupError) bool {
	e.logger.Error("Cleanup Error",
		"node", err.Name,
		"error", err.Err.Error(),
		"operation", string(err.Context),
	)
	return false
}

// Failed returns the panic values of nodes whose latest evaluation failed.
func (e *GraphDebugExtension) Failed() map[incr.NodeID]any {
	failed := make(map[incr.NodeID]any, len(e.failed))
	for id, r := range e.failed {
		failed[id] = r
	}
	return failed
}

func nodeName(n incr.Node) string {
	if name := n.Name(); name != "" {
		return name
	}
	return n.ID().String()
}

// HumanHandler is a slog.Handler that formats logs for human readability
// with proper line breaks and visual formatting (especially for dependency graphs)
type HumanHandler struct {
	writer io.Writer
	level  slog.Level
}

// NewHumanHandler creates a new human-readable log handler
func NewHumanHandler(writer io.Writer, level slog.Level) *HumanHandler {
	return &HumanHandler{
		writer: writer,
		level:  level,
	}
}

func (h *HumanHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *HumanHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Message == "Evaluation Panic" {
		return h.handleEvaluationPanic(record)
	}

	if _, err := fmt.Fprintf(h.writer, "[%s] %s\n", record.Level, record.Message); err != nil {
		return err
	}
	var writeErr error
	record.Attrs(func(a slog.Attr) bool {
		if _, err := fmt.Fprintf(h.writer, "  %s: %v\n", a.Key, a.Value); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	return writeErr
}

func (h *HumanHandler) handleEvaluationPanic(record slog.Record) error {
	fields := make(map[string]string, 6)
	record.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.String()
		return true
	})

	rule := strings.Repeat("=", 70)
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n%s\n[GraphDebug] Evaluation Panic\n%s\n", rule, rule)
	fmt.Fprintf(&sb, "\nFailed Node: %s\n", fields["node"])
	fmt.Fprintf(&sb, "Panic: %s\n", fields["panic"])
	fmt.Fprintf(&sb, "Epoch: %s\n", fields["epoch"])
	fmt.Fprintf(&sb, "Path: %s\n", fields["path"])
	fmt.Fprintf(&sb, "\nDependency Graph:\n%s\n", fields["dependency_graph"])
	fmt.Fprintf(&sb, "\nStack Trace:\n%s\n%s\n\n", fields["stack_trace"], rule)

	_, err := io.WriteString(h.writer, sb.String())
	return err
}

func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *HumanHandler) WithGroup(name string) slog.Handler {
	return h
}
