package extensions

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pumped-fn/incr"
)

const instrumentationName = "github.com/pumped-fn/incr"

// TracingExtension records an OpenTelemetry span for every evaluation and
// mutation. Nested evaluations become child spans of the evaluation that
// read them.
type TracingExtension struct {
	incr.BaseExtension

	tracer trace.Tracer
	// spans is the context stack of the operations in progress.
	spans []context.Context
	base  context.Context

	operations metric.Int64Counter
	duration   metric.Float64Histogram
	panics     metric.Int64Counter
}

// NewTracingExtension creates a tracing extension. Root spans are children
// of the span in ctx, if any.
func NewTracingExtension(ctx context.Context, tp trace.TracerProvider, mp metric.MeterProvider) (*TracingExtension, error) {
	meter := mp.Meter(instrumentationName)

	operations, err := meter.Int64Counter("incr.operations",
		metric.WithDescription("Operations performed on the graph"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating operations counter: %w", err)
	}
	duration, err := meter.Float64Histogram("incr.evaluation.duration",
		metric.WithDescription("Time spent in compute closures"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	panics, err := meter.Int64Counter("incr.evaluation.panics",
		metric.WithDescription("Compute closures that panicked"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating panics counter: %w", err)
	}

	return &TracingExtension{
		BaseExtension: incr.NewBaseExtension("tracing"),
		tracer:        tp.Tracer(instrumentationName),
		base:          ctx,
		operations:    operations,
		duration:      duration,
		panics:        panics,
	}, nil
}

func (e *TracingExtension) Wrap(next func(), op *incr.Operation) {
	parent := e.base
	if n := len(e.spans); n > 0 {
		parent = e.spans[n-1]
	}

	attrs := []attribute.KeyValue{
		attribute.String("incr.op", string(op.Kind)),
		attribute.String("incr.node", op.Node.String()),
		attribute.Int64("incr.version", int64(op.Version)),
	}
	if op.Name != "" {
		attrs = append(attrs, attribute.String("incr.name", op.Name))
	}

	ctx, span := e.tracer.Start(parent, "incr."+string(op.Kind), trace.WithAttributes(attrs...))
	e.spans = append(e.spans, ctx)
	start := time.Now()

	completed := false
	defer func() {
		e.spans = e.spans[:len(e.spans)-1]
		kind := metric.WithAttributes(attribute.String("incr.op", string(op.Kind)))
		e.operations.Add(ctx, 1, kind)
		if op.Kind == incr.OpEvaluate {
			e.duration.Record(ctx, time.Since(start).Seconds())
		}
		if !completed {
			span.SetStatus(codes.Error, "operation panicked")
		}
		span.End()
	}()

	next()
	completed = true
}

func (e *TracingExtension) OnPanic(op *incr.Operation, recovered any, stack []byte) {
	ctx := e.base
	if n := len(e.spans); n > 0 {
		ctx = e.spans[n-1]
	}
	e.panics.Add(ctx, 1)

	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("%v", recovered)
	}
	trace.SpanFromContext(ctx).RecordError(err, trace.WithAttributes(
		attribute.String("incr.failed_node", label(op)),
	))
}
