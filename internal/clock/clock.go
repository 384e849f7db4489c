package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock supplies the current time. Services take it as a dependency so
// time-derived state (due dates, overdue checks) can be tested.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// System returns a Clock backed by the wall clock, in UTC.
func System() Clock {
	return systemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(System),
)
