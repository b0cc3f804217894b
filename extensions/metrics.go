package extensions

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pumped-fn/incr"
)

// MetricsExtension exports operation counts and evaluation latency as
// Prometheus metrics.
type MetricsExtension struct {
	incr.BaseExtension

	operations    *prometheus.CounterVec
	evaluation    prometheus.Histogram
	panics        prometheus.Counter
	cleanupErrors prometheus.Counter
	collectors    []prometheus.Collector
	registerer    prometheus.Registerer
}

// NewMetricsExtension creates the metrics and registers them with reg when
// the extension is added to a runtime.
func NewMetricsExtension(reg prometheus.Registerer) *MetricsExtension {
	e := &MetricsExtension{
		BaseExtension: incr.NewBaseExtension("metrics"),
		registerer:    reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incr",
			Name:      "operations_total",
			Help:      "Operations performed on the graph, by kind",
		}, []string{"op"}),
		evaluation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "incr",
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent in compute closures, including nested evaluations",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "incr",
			Name:      "evaluation_panics_total",
			Help:      "Compute closures that panicked",
		}),
		cleanupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "incr",
			Name:      "cleanup_errors_total",
			Help:      "Cleanup functions that returned an error",
		}),
	}
	e.collectors = []prometheus.Collector{e.operations, e.evaluation, e.panics, e.cleanupErrors}
	return e
}

func (e *MetricsExtension) Init(rt *incr.Runtime) error {
	for _, c := range e.collectors {
		if err := e.registerer.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (e *MetricsExtension) Wrap(next func(), op *incr.Operation) {
	e.operations.WithLabelValues(string(op.Kind)).Inc()
	if op.Kind != incr.OpEvaluate {
		next()
		return
	}

	start := time.Now()
	next()
	e.evaluation.Observe(time.Since(start).Seconds())
}

func (e *MetricsExtension) OnPanic(op *incr.Operation, recovered any, stack []byte) {
	e.panics.Inc()
}

func (e *MetricsExtension) OnCleanupError(err *incr.CleanupError) bool {
	e.cleanupErrors.Inc()
	return false
}

func (e *MetricsExtension) Dispose(rt *incr.Runtime) error {
	for _, c := range e.collectors {
		e.registerer.Unregister(c)
	}
	return nil
}
