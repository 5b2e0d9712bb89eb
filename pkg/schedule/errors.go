package schedule

import (
	"errors"
	"strings"
)

var (
	// ErrEmptySchedule is returned when a schedule has no windows.
	ErrEmptySchedule = errors.New("schedule has no windows")

	// ErrInvalidWindow is returned for windows that are empty, reversed, overlapping or not contiguous.
	ErrInvalidWindow = errors.New("invalid schedule window")

	// ErrScheduleExpired is returned when no window covers the requested instant.
	ErrScheduleExpired = errors.New("instant is outside the schedule validity")

	// ErrInvalidRate is returned when a rate string cannot be parsed.
	ErrInvalidRate = errors.New("invalid rate")

	// ErrNoConfiguration is returned by sources that have not loaded any configuration yet.
	ErrNoConfiguration = errors.New("schedule configuration not loaded")
)

// ConfigError lists every problem found in a rollout configuration.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid schedule configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) add(problem string) {
	e.Problems = append(e.Problems, problem)
}

func (e *ConfigError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
