package notification

import "time"

// Clock supplies the current time. Engine components never call time.Now
// directly so tests can move time forward.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by the wall clock, in UTC.
func SystemClock() Clock {
	return systemClock{}
}
