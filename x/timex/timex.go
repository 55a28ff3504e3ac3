package timex

import "time"

// BusyWait spins until d has elapsed. It never yields to the scheduler, so
// sub-millisecond delays stay close to the requested length.
func BusyWait(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

// MS converts a millisecond count to a Duration.
func MS(ms uint32) time.Duration { return time.Duration(ms) * time.Millisecond }

// US converts a microsecond count to a Duration.
func US(us uint32) time.Duration { return time.Duration(us) * time.Microsecond }
