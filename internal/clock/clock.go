package clock

import "time"

// NowFunc returns current time. Override in tests for determinism.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }

// Func is an injectable time source; a nil Func falls back to Now.
type Func func() time.Time

// Now returns the current time of f.
func (f Func) Now() time.Time {
	if f == nil {
		return Now()
	}
	return f()
}

// Fixed returns a Func that always reports t.
func Fixed(t time.Time) Func {
	return func() time.Time { return t }
}
