package incr

import (
	"errors"
	"testing"
)

func TestCleanup_Basic(t *testing.T) {
	rt := NewRuntime()
	a := Var(rt, 1)

	cleaned := []int{}
	c := Computed(rt, func() int {
		v := a.Get()
		rt.OnCleanup(func() error {
			cleaned = append(cleaned, v)
			return nil
		})
		return v
	})

	c.Get()
	if len(cleaned) != 0 {
		t.Fatalf("expected no cleanup before reevaluation, got %v", cleaned)
	}

	a.Set(2)
	c.Get()

	if len(cleaned) != 1 || cleaned[0] != 1 {
		t.Errorf("expected cleanup of the first evaluation, got %v", cleaned)
	}
}

func TestCleanup_LIFOOrder(t *testing.T) {
	rt := NewRuntime()

	cleaned := []string{}
	c := Computed(rt, func() string {
		rt.OnCleanup(func() error {
			cleaned = append(cleaned, "first")
			return nil
		})
		rt.OnCleanup(func() error {
			cleaned = append(cleaned, "second")
			return nil
		})
		rt.OnCleanup(func() error {
			cleaned = append(cleaned, "third")
			return nil
		})
		return "value"
	})

	c.Get()
	c.Invalidate()

	expected := []string{"third", "second", "first"}
	if len(cleaned) != len(expected) {
		t.Fatalf("expected %d cleanups, got %d", len(expected), len(cleaned))
	}

	for i, v := range expected {
		if cleaned[i] != v {
			t.Errorf("at index %d: expected %s, got %s", i, v, cleaned[i])
		}
	}
}

func TestCleanup_RunsOnceOnTake(t *testing.T) {
	rt := NewRuntime()

	calls := 0
	c := Computed(rt, func() int {
		rt.OnCleanup(func() error {
			calls++
			return nil
		})
		return 1
	})

	c.Take()
	if calls != 1 {
		t.Errorf("expected cleanup to run on take, got %d", calls)
	}

	c.Invalidate()
	if calls != 1 {
		t.Errorf("expected cleanup not to run twice, got %d", calls)
	}
}

func TestCleanup_RegisteredOnInnermostEvaluation(t *testing.T) {
	rt := NewRuntime()
	a := Var(rt, 1)

	var innerCleaned, outerCleaned int
	inner := Computed(rt, func() int {
		rt.OnCleanup(func() error {
			innerCleaned++
			return nil
		})
		return a.Get()
	})
	outer := Computed(rt, func() int {
		v := inner.Get()
		rt.OnCleanup(func() error {
			outerCleaned++
			return nil
		})
		return v
	})

	outer.Get()
	inner.Invalidate()

	if innerCleaned != 1 || outerCleaned != 0 {
		t.Errorf("expected only inner cleanup, got inner=%d outer=%d", innerCleaned, outerCleaned)
	}
}

type cleanupErrorCollector struct {
	BaseExtension
	errs []*CleanupError
}

func (e *cleanupErrorCollector) OnCleanupError(err *CleanupError) bool {
	e.errs = append(e.errs, err)
	return true
}

func TestCleanup_ErrorsReachExtensions(t *testing.T) {
	collector := &cleanupErrorCollector{BaseExtension: NewBaseExtension("collector")}
	rt := NewRuntime(WithExtension(collector))

	boom := errors.New("close failed")
	ran := false
	c := Computed(rt, func() int {
		rt.OnCleanup(func() error {
			ran = true
			return nil
		})
		rt.OnCleanup(func() error {
			return boom
		})
		return 1
	}, WithName("conn"))

	c.Get()
	c.Invalidate()

	if !ran {
		t.Error("expected remaining cleanups to run after a failure")
	}
	if len(collector.errs) != 1 {
		t.Fatalf("expected 1 cleanup error, got %d", len(collector.errs))
	}

	err := collector.errs[0]
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
	if err.Name != "conn" || err.Context != OpInvalidate {
		t.Errorf("unexpected cleanup error %+v", err)
	}
}
