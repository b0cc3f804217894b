package incr

// Memo creates a computed value that skips compute while key returns the
// same key as on the previous evaluation.
//
// key is evaluated like any compute closure and is the only place where
// the memo reads other values. compute runs untracked: values it reads are
// brought up to date but never become dependencies, so a change to a value
// read only by compute does not cause a recomputation.
func Memo[K comparable, T any](rt *Runtime, key func() K, compute func(K) T, opts ...ValueOption) *Value[T] {
	return MemoFunc(rt, key, func(a, b K) bool { return a == b }, compute, opts...)
}

// MemoFunc is Memo for keys that are not comparable with ==.
func MemoFunc[K, T any](rt *Runtime, key func() K, equal func(a, b K) bool, compute func(K) T, opts ...ValueOption) *Value[T] {
	var (
		prevKey   K
		prevValue T
		primed    bool
	)
	return Computed(rt, func() T {
		k := key()
		if primed && equal(k, prevKey) {
			rt.stats.MemoHits++
			return prevValue
		}
		var value T
		rt.Untracked(func() {
			value = compute(k)
		})
		prevKey, prevValue, primed = k, value, true
		return value
	}, opts...)
}
