package core

import "time"

// Clock supplies the current time. The sequencer, snapshotter, and
// media collector take one so tests can control time deterministically.
type Clock func() time.Time

// SystemClock returns the wall-clock time.
func SystemClock() time.Time {
	return time.Now().UTC()
}
