package travel

import "time"

type expertSettings struct {
	placeDelay       time.Duration
	scheduleFailures int
}

func defaultExpertSettings() expertSettings {
	return expertSettings{
		placeDelay:       10 * time.Millisecond,
		scheduleFailures: 0,
	}
}

// ExpertOption tunes the demo experts.
type ExpertOption func(*expertSettings)

// WithPlaceDelay sets how long the simulated place-database query takes.
func WithPlaceDelay(d time.Duration) ExpertOption {
	return func(s *expertSettings) { s.placeDelay = d }
}

// WithScheduleFailures makes the schedule expert fail its first n
// invocations, for exercising the error policies and the retry hook.
func WithScheduleFailures(n int) ExpertOption {
	return func(s *expertSettings) { s.scheduleFailures = n }
}
