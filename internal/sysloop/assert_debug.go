//go:build debug_asserts

package sysloop

// assertWakeLockInvariant panics if the loop is about to enter deep
// sleep while some module still holds a wake lock. Built only with
// -tags debug_asserts; production builds skip the check entirely
// (spec.md §8 "Wake-lock invariant" is a debug-time property, not a
// runtime guard).
func assertWakeLockInvariant(mode SleepMode, mask uint32) {
	if mode == SleepDeep && mask != 0 {
		panic("sysloop: entering deep sleep with a nonzero wake-lock mask")
	}
}
