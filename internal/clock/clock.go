// Package clock isolates time access so schedule and scoring logic can be
// tested against fixed instants.
package clock

import "time"

// Clock supplies the current time in the group's location.
type Clock interface {
	Now() time.Time
}

// System is the production clock.
type System struct {
	Loc *time.Location
}

func NewSystem(loc *time.Location) System {
	if loc == nil {
		loc = time.Local
	}
	return System{Loc: loc}
}

func (c System) Now() time.Time {
	return time.Now().In(c.Loc)
}

// Fake is a settable clock for tests.
type Fake struct {
	Current time.Time
}

func (c *Fake) Now() time.Time {
	return c.Current
}

// Advance moves the fake clock forward by d.
func (c *Fake) Advance(d time.Duration) {
	c.Current = c.Current.Add(d)
}
