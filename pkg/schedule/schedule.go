package schedule

import (
	"fmt"
	"slices"
	"time"
)

// Window is a half-open period [Start, End) governed by a single rate.
type Window struct {
	Start time.Time
	End   time.Time
	Rate  Rate
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Interval is the spacing between promotions inside the window.
func (w Window) Interval() time.Duration {
	return w.Rate.Interval()
}

// Schedule is an ordered, contiguous and non-overlapping sequence of windows.
// A Schedule is immutable once built; readers can share it freely.
type Schedule struct {
	windows []Window
}

// New validates the windows and builds a schedule.
func New(windows ...Window) (*Schedule, error) {
	if len(windows) == 0 {
		return nil, ErrEmptySchedule
	}

	for i, w := range windows {
		if !w.End.After(w.Start) {
			return nil, fmt.Errorf("%w: window %d ends before it starts", ErrInvalidWindow, i)
		}
		if i > 0 && !w.Start.Equal(windows[i-1].End) {
			return nil, fmt.Errorf("%w: window %d does not start where window %d ends", ErrInvalidWindow, i, i-1)
		}
	}

	return &Schedule{windows: slices.Clone(windows)}, nil
}

// Fixed returns a single-window schedule starting at from and lasting d.
func Fixed(from time.Time, d time.Duration, rate Rate) (*Schedule, error) {
	return New(Window{Start: from, End: from.Add(d), Rate: rate})
}

// Active returns the window covering now.
func (s *Schedule) Active(now time.Time) (Window, error) {
	if s == nil || len(s.windows) == 0 {
		return Window{}, ErrEmptySchedule
	}

	i, found := slices.BinarySearchFunc(s.windows, now, func(w Window, t time.Time) int {
		switch {
		case !w.End.After(t):
			return -1
		case w.Start.After(t):
			return 1
		default:
			return 0
		}
	})
	if !found {
		return Window{}, ErrScheduleExpired
	}
	return s.windows[i], nil
}

// ValidUntil is the end of the last window.
func (s *Schedule) ValidUntil() time.Time {
	if s == nil || len(s.windows) == 0 {
		return time.Time{}
	}
	return s.windows[len(s.windows)-1].End
}

// Windows returns a copy of the schedule windows.
func (s *Schedule) Windows() []Window {
	if s == nil {
		return nil
	}
	return slices.Clone(s.windows)
}
