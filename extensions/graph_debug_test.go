package extensions

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/pumped-fn/incr"
)

func TestGraphDebugExtension_OnPanic(t *testing.T) {
	var buf bytes.Buffer
	ext := NewGraphDebugExtension(NewHumanHandler(&buf, slog.LevelError))
	rt := incr.NewRuntime(incr.WithExtension(ext))

	storage := incr.Var(rt, "storage", incr.WithName("Storage"))
	userService := incr.Computed(rt, func() string {
		s := storage.Get()
		if s == "storage" {
			panic("type assertion failed: expected *User, got *string")
		}
		return s
	}, incr.WithName("UserService"))
	handler := incr.Computed(rt, func() string {
		return "handler:" + userService.Get()
	}, incr.WithName("Handler"))

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic")
			}
		}()
		handler.Get()
	}()

	output := buf.String()

	if !strings.Contains(output, strings.Repeat("=", 70)) {
		t.Error("expected separator line with equals signs")
	}
	if !strings.Contains(output, "[GraphDebug] Evaluation Panic") {
		t.Error("expected '[GraphDebug] Evaluation Panic' header")
	}
	if !strings.Contains(output, "Failed Node: UserService") {
		t.Errorf("expected 'Failed Node: UserService' in\n%s", output)
	}
	if !strings.Contains(output, "Panic: type assertion failed") {
		t.Error("expected panic message in human-readable format")
	}
	if !strings.Contains(output, "Path: Handler -> UserService") {
		t.Errorf("expected evaluation path in\n%s", output)
	}
	if !strings.Contains(output, "UserService [computed] *") || !strings.Contains(output, "Storage [var]") {
		t.Errorf("expected dependency graph with the failed node marked in\n%s", output)
	}

	if _, failed := ext.Failed()[userService.ID()]; !failed {
		t.Error("expected UserService to be recorded as failed")
	}

	storage.Set("users")
	if got := handler.Get(); got != "handler:users" {
		t.Errorf("expected handler:users, got %s", got)
	}
	if len(ext.Failed()) != 0 {
		t.Errorf("expected failures to clear after a successful evaluation, got %v", ext.Failed())
	}
}

func TestGraphDebugExtension_JSONHandler(t *testing.T) {
	var buf bytes.Buffer
	ext := NewGraphDebugExtension(slog.NewJSONHandler(&buf, nil))
	rt := incr.NewRuntime(incr.WithExtension(ext))

	broken := incr.Computed(rt, func() int { panic("boom") }, incr.WithName("Broken"))

	func() {
		defer func() { _ = recover() }()
		broken.Get()
	}()

	output := buf.String()
	if !strings.Contains(output, `"msg":"Evaluation Panic"`) {
		t.Errorf("expected JSON record, got %s", output)
	}
	if !strings.Contains(output, `"node":"Broken"`) {
		t.Errorf("expected node attribute, got %s", output)
	}
}

func TestGraphDebugExtension_CleanupError(t *testing.T) {
	var buf bytes.Buffer
	ext := NewGraphDebugExtension(NewHumanHandler(&buf, slog.LevelError))
	rt := incr.NewRuntime(incr.WithExtension(ext))

	conn := incr.Computed(rt, func() int {
		rt.OnCleanup(func() error { return errClose })
		return 1
	}, incr.WithName("Conn"))
	conn.Get()
	conn.Invalidate()

	output := buf.String()
	if !strings.Contains(output, "[ERROR] Cleanup Error") || !strings.Contains(output, "node: Conn") {
		t.Errorf("expected cleanup error record, got\n%s", output)
	}
}
