package schedule

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// RolloutWindow is a user-facing rule: during the given days and UTC time range,
// promotions are limited to Rate. Empty Days means every day; empty Start means
// midnight; empty End means the end of the day.
type RolloutWindow struct {
	Rate  string   `yaml:"rate" json:"rate"`
	Days  []string `yaml:"days,omitempty" json:"days,omitempty"`
	Start string   `yaml:"start,omitempty" json:"start,omitempty"`
	End   string   `yaml:"end,omitempty" json:"end,omitempty"`
}

// Configuration is an ordered list of rollout windows; the first matching window wins.
// With no windows at all promotions are unlimited; with windows configured, instants
// matched by none of them are paused.
type Configuration struct {
	Windows []RolloutWindow `yaml:"windows" json:"windows"`
}

type rule struct {
	rate  Rate
	days  map[time.Weekday]bool
	start time.Duration
	end   time.Duration
}

func (r rule) appliesOn(day time.Weekday) bool {
	return len(r.days) == 0 || r.days[day]
}

func (r rule) matches(t time.Time) bool {
	if !r.appliesOn(t.Weekday()) {
		return false
	}
	off := t.Sub(startOfDay(t))
	return off >= r.start && off < r.end
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// Validate checks every window and returns a *ConfigError listing all problems.
func (c Configuration) Validate() error {
	_, err := c.compile()
	return err
}

func (c Configuration) compile() ([]rule, error) {
	cerr := &ConfigError{}
	rules := make([]rule, 0, len(c.Windows))

	for i, w := range c.Windows {
		r := rule{end: 24 * time.Hour}

		rate, err := ParseRate(w.Rate)
		if err != nil {
			cerr.add(fmt.Sprintf("window %d: %v", i, err))
		}
		r.rate = rate

		for _, d := range w.Days {
			day, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]
			if !ok {
				cerr.add(fmt.Sprintf("window %d: unknown day %q", i, d))
				continue
			}
			if r.days == nil {
				r.days = make(map[time.Weekday]bool, 7)
			}
			r.days[day] = true
		}

		if w.Start != "" {
			if r.start, err = parseClock(w.Start); err != nil {
				cerr.add(fmt.Sprintf("window %d: start: %v", i, err))
			}
		}
		if w.End != "" {
			if r.end, err = parseClock(w.End); err != nil {
				cerr.add(fmt.Sprintf("window %d: end: %v", i, err))
			}
		}
		if r.end <= r.start {
			cerr.add(fmt.Sprintf("window %d: end %q must be after start %q", i, w.End, w.Start))
		}

		rules = append(rules, r)
	}

	if err := cerr.orNil(); err != nil {
		return nil, err
	}
	return rules, nil
}

// Schedule compiles the configuration into a schedule valid from now until the next
// UTC midnight.
func (c Configuration) Schedule(now time.Time) (*Schedule, error) {
	rules, err := c.compile()
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	end := startOfDay(now).Add(24 * time.Hour)

	if len(rules) == 0 {
		return Fixed(now, end.Sub(now), UnlimitedRate)
	}

	bounds := []time.Time{now, end}
	day := startOfDay(now)
	for _, r := range rules {
		if !r.appliesOn(now.Weekday()) {
			continue
		}
		for _, off := range []time.Duration{r.start, r.end} {
			if t := day.Add(off); t.After(now) && t.Before(end) {
				bounds = append(bounds, t)
			}
		}
	}
	slices.SortFunc(bounds, func(a, b time.Time) int { return a.Compare(b) })
	bounds = slices.CompactFunc(bounds, func(a, b time.Time) bool { return a.Equal(b) })

	windows := make([]Window, 0, len(bounds)-1)
	for i := 0; i < len(bounds)-1; i++ {
		rate := rateAt(rules, bounds[i])
		if n := len(windows); n > 0 && windows[n-1].Rate == rate {
			windows[n-1].End = bounds[i+1]
			continue
		}
		windows = append(windows, Window{Start: bounds[i], End: bounds[i+1], Rate: rate})
	}

	return New(windows...)
}

func rateAt(rules []rule, t time.Time) Rate {
	for _, r := range rules {
		if r.matches(t) {
			return r.rate
		}
	}
	return Rate{}
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
