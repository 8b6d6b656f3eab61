package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock stamps manifests; tests freeze it with SetClock.
var clock = clockwork.NewRealClock()

// SetClock replaces the manifest time source. Pass nil to restore real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the current time in UTC from the package clock.
func Now() time.Time {
	return clock.Now().UTC()
}
