package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Capabilities answers access-control questions resolved by the host.
// cmID scopes the check to a course module; 0 means the site context.
type Capabilities interface {
	Has(ctx context.Context, userID int64, capability Capability, cmID int64) (bool, error)
}

// EventPublisher fires observational events after a state change commits.
// Failures are logged by callers and never gate the change itself.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Watchdog extends an external execution time limit during long batch steps.
type Watchdog interface {
	Reset()
}

// NopWatchdog is a Watchdog that does nothing.
type NopWatchdog struct{}

// Reset implements Watchdog.
func (NopWatchdog) Reset() {}
