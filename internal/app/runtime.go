package app

import (
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
)

// TestModeEnv is set by the testing package so binaries linked into tests
// never open database or Redis connections.
const TestModeEnv = "PORTAL_TEST_MODE"

var testMode atomic.Pointer[bool]

func readTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}

// InTestMode reports whether startup should be skipped. The flag is read once.
func InTestMode() bool {
	if cached := testMode.Load(); cached != nil {
		return *cached
	}
	on := readTestMode()
	testMode.CompareAndSwap(nil, &on)
	return *testMode.Load()
}

// RefreshTestMode re-reads the flag after environment changes.
func RefreshTestMode() {
	on := readTestMode()
	testMode.Store(&on)
}

// SkipStartup reports test mode and logs which component stood down.
func SkipStartup(logger *slog.Logger, component string) bool {
	if !InTestMode() {
		return false
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("test mode detected, skipping startup", slog.String("component", component))
	return true
}
