package service

import "time"

// Clock supplies the current time. Services take one so tests can drive
// deadline crossings deterministically.
type Clock func() time.Time

func defaultClock(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}
