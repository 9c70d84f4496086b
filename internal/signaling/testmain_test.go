package signaling

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks that no connection goroutine (writePump, readLoop) leaks
// past the end of the package's tests.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
