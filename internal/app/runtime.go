package app

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

const (
	testModeUnknown int32 = iota
	testModeOff
	testModeOn
)

var testMode atomic.Int32

// InTestMode reports whether the binaries should return before touching
// postgres, redis or a listener. The flag is read from the environment once.
func InTestMode() bool {
	switch testMode.Load() {
	case testModeOn:
		return true
	case testModeOff:
		return false
	default:
		return RefreshTestMode()
	}
}

// RefreshTestMode re-reads ODYSSEY_TEST_MODE, e.g. after t.Setenv.
func RefreshTestMode() bool {
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(testModeEnv)))
	if err != nil || !on {
		testMode.Store(testModeOff)
		return false
	}
	testMode.Store(testModeOn)
	return true
}
