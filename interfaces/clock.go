package interfaces

import "time"

// Clock abstracts wall-clock reads so liveness and claim deadlines are
// testable. All timeouts are recomputed from persisted timestamps on read;
// no component keeps long-lived in-memory timers.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
