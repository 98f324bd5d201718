// Package clock abstracts the scheduling time source so due-date logic can
// be driven deterministically in tests.
package clock

import "time"

// Clock supplies the current scheduling time.
type Clock interface {
	Now() time.Time
}

// System returns a Clock backed by the wall clock.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
