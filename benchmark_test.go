package incr

import (
	"fmt"
	"runtime"
	"testing"
)

// MemoryAllocationMetrics captures memory statistics for benchmarking
type MemoryAllocationMetrics struct {
	Allocs     uint64
	TotalAlloc uint64
	NumGC      uint32
}

func getMemoryMetrics() MemoryAllocationMetrics {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	return MemoryAllocationMetrics{
		Allocs:     m.Mallocs,
		TotalAlloc: m.TotalAlloc,
		NumGC:      m.NumGC,
	}
}

// createTestDependencyChain creates a var followed by depth-1 computed
// values, each reading the previous one.
func createTestDependencyChain(rt *Runtime, depth int) (*Value[int], []*Value[int]) {
	root := Var(rt, 1)
	values := make([]*Value[int], depth)
	values[0] = root

	for i := 1; i < depth; i++ {
		prev := values[i-1]
		values[i] = Computed(rt, func() int {
			return prev.Get() + 1
		})
	}

	return root, values
}

// createTestFanIn creates width vars summed by one computed value.
func createTestFanIn(rt *Runtime, width int) ([]*Value[int], *Value[int]) {
	inputs := make([]*Value[int], width)
	for i := range inputs {
		inputs[i] = Var(rt, i)
	}
	sum := Computed(rt, func() int {
		total := 0
		for _, in := range inputs {
			total += in.Get()
		}
		return total
	})
	return inputs, sum
}

func TestChainRecomputesOnlyOnChange(t *testing.T) {
	rt := NewRuntime()
	root, chain := createTestDependencyChain(rt, 50)
	last := chain[len(chain)-1]

	if got := last.Get(); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
	evaluations := rt.Stats().Evaluations

	last.Get()
	if got := rt.Stats().Evaluations; got != evaluations {
		t.Errorf("expected no evaluation on a clean read, got %d more", got-evaluations)
	}

	root.Set(2)
	if got := last.Get(); got != 51 {
		t.Fatalf("expected 51, got %d", got)
	}
	if got := rt.Stats().Evaluations - evaluations; got != 49 {
		t.Errorf("expected every computed value in the chain to rerun, got %d", got)
	}
}

// BenchmarkCleanRead measures a read of a value already validated in the
// current epoch.
func BenchmarkCleanRead(b *testing.B) {
	rt := NewRuntime()
	_, chain := createTestDependencyChain(rt, 100)
	last := chain[len(chain)-1]
	last.Get()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		last.Get()
	}
}

// BenchmarkRevalidateUnchanged measures the trace walk after a change that
// does not reach the value being read.
func BenchmarkRevalidateUnchanged(b *testing.B) {
	rt := NewRuntime()
	_, chain := createTestDependencyChain(rt, 100)
	last := chain[len(chain)-1]
	unrelated := Var(rt, 0)
	last.Get()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		unrelated.Set(i)
		last.Get()
	}
}

// BenchmarkChainPropagation measures a change that reruns every computed
// value in a chain.
func BenchmarkChainPropagation(b *testing.B) {
	for _, depth := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("depth=%d", depth), func(b *testing.B) {
			rt := NewRuntime()
			root, chain := createTestDependencyChain(rt, depth)
			last := chain[len(chain)-1]
			last.Get()

			before := getMemoryMetrics()
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				root.Set(i)
				last.Get()
			}

			b.StopTimer()
			after := getMemoryMetrics()
			b.ReportMetric(float64(after.Allocs-before.Allocs)/float64(b.N), "mallocs/op")
		})
	}
}

// BenchmarkFanIn measures one input change under a wide computed value.
func BenchmarkFanIn(b *testing.B) {
	for _, width := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("width=%d", width), func(b *testing.B) {
			rt := NewRuntime()
			inputs, sum := createTestFanIn(rt, width)
			sum.Get()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				inputs[i%width].Set(i)
				sum.Get()
			}
		})
	}
}

// BenchmarkMemoHit measures a memo whose key does not change.
func BenchmarkMemoHit(b *testing.B) {
	rt := NewRuntime()
	n := Var(rt, 0)
	m := Memo(rt, func() bool { return n.Get() >= 0 }, func(ok bool) int {
		if ok {
			return 1
		}
		return 0
	})
	m.Get()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		n.Set(i)
		m.Get()
	}
}
