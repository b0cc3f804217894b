package extensions

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumped-fn/incr"
)

func TestMetricsExtension(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	ext := NewMetricsExtension(reg)
	rt := incr.NewRuntime(incr.WithExtension(ext))

	a := incr.Var(rt, 1)
	b := incr.Computed(rt, func() int { return a.Get() + 1 })
	c := incr.Computed(rt, func() int { return b.Get() * 2 })

	require.Equal(t, 4, c.Get())
	a.Set(2)
	require.Equal(t, 6, c.Get())
	c.Invalidate()

	assert.Equal(t, 4.0, testutil.ToFloat64(ext.operations.WithLabelValues("evaluate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ext.operations.WithLabelValues("set")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ext.operations.WithLabelValues("invalidate")))
	assert.Equal(t, 1, testutil.CollectAndCount(ext.evaluation))

	count, err := testutil.GatherAndCount(reg, "incr_evaluation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetricsExtensionCountsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	ext := NewMetricsExtension(reg)
	rt := incr.NewRuntime(incr.WithExtension(ext))

	broken := incr.Computed(rt, func() int {
		rt.OnCleanup(func() error { return errClose })
		panic("boom")
	})

	assert.Panics(t, func() { broken.Get() })
	assert.Panics(t, func() { broken.Get() })

	assert.Equal(t, 2.0, testutil.ToFloat64(ext.panics))
	assert.Equal(t, 1.0, testutil.ToFloat64(ext.cleanupErrors))
}

func TestMetricsExtensionDisposeUnregisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	rt := incr.NewRuntime(incr.WithExtension(NewMetricsExtension(reg)))
	require.NoError(t, rt.Dispose())

	// Registering again succeeds once the collectors are gone.
	require.NoError(t, incr.NewRuntime().UseExtension(NewMetricsExtension(reg)))
}

func TestMetricsExtensionDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	incr.NewRuntime(incr.WithExtension(NewMetricsExtension(reg)))

	err := incr.NewRuntime().UseExtension(NewMetricsExtension(reg))
	assert.Error(t, err)
}
