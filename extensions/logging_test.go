package extensions

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumped-fn/incr"
)

var errClose = errors.New("close failed")

func TestLoggingExtension(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rt := incr.NewRuntime(incr.WithExtension(NewLoggingExtension(logger, slog.LevelDebug)))

	a := incr.Var(rt, 1, incr.WithName("a"))
	double := incr.Computed(rt, func() int { return a.Get() * 2 }, incr.WithName("double"))

	require.Equal(t, 2, double.Get())
	a.Set(3)

	out := buf.String()
	assert.Contains(t, out, "operation completed")
	assert.Contains(t, out, "op=evaluate")
	assert.Contains(t, out, "node=double")
	assert.Contains(t, out, "op=set")
	assert.Contains(t, out, "node=a")
}

func TestLoggingExtensionSkipsDisabledLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	rt := incr.NewRuntime(incr.WithExtension(NewLoggingExtension(logger, slog.LevelDebug)))

	c := incr.Computed(rt, func() int { return 1 })
	c.Get()

	assert.Empty(t, buf.String())
}

func TestLoggingExtensionPanicAndCleanup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	rt := incr.NewRuntime(incr.WithExtension(NewLoggingExtension(logger, slog.LevelDebug)))

	fail := incr.Var(rt, true)
	c := incr.Computed(rt, func() int {
		rt.OnCleanup(func() error { return errClose })
		if fail.Get() {
			panic("bad input")
		}
		return 1
	}, incr.WithName("parser"))

	assert.Panics(t, func() { c.Get() })
	assert.Contains(t, buf.String(), "evaluation panicked")
	assert.Contains(t, buf.String(), "panic=\"bad input\"")

	fail.Set(false)
	require.Equal(t, 1, c.Get())
	c.Invalidate()
	assert.Contains(t, buf.String(), "cleanup failed")
	assert.Contains(t, buf.String(), "during=invalidate")
}
