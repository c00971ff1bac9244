//go:build !debug_asserts

package sysloop

func assertWakeLockInvariant(mode SleepMode, mask uint32) {}
