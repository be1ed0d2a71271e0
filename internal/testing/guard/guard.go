// Package guard flips the binaries into test mode when imported for side effects.
//
// Test files of main packages import it blank so that calling main() returns
// before any database, Redis or listener is touched.
package guard

import (
	"os"
	"sync"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}
