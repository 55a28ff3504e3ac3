// services/hal/internal/platform/delay.go
package platform

import (
	"dhtcode-go/services/hal/internal/halcore"
	"dhtcode-go/x/timex"
)

// BusyDelay spins on the wall clock. Sleeping would let the scheduler
// stretch µs waits far past the protocol's bit windows.
type BusyDelay struct{}

var _ halcore.Delayer = BusyDelay{}

func (BusyDelay) DelayMS(ms uint32) { timex.BusyWait(timex.MS(ms)) }
func (BusyDelay) DelayUS(us uint32) { timex.BusyWait(timex.US(us)) }
