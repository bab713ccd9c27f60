// Package testing flags the process as a test run. Test packages that build
// the binaries' wiring import it for its side effect:
//
//	import _ "github.com/odyssey-erp/odyssey-ledger/testing"
package testing

import (
	"os"
	"sync"
)

// EnvTestMode is read by app.InTestMode.
const EnvTestMode = "ODYSSEY_TEST_MODE"

var once sync.Once

// Enable sets EnvTestMode unless the caller already chose a value.
func Enable() {
	once.Do(func() {
		if os.Getenv(EnvTestMode) == "" {
			_ = os.Setenv(EnvTestMode, "1")
		}
	})
}

func init() {
	Enable()
}
