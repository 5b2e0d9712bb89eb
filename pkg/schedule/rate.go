package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rate is the maximum number of promotions allowed per period.
type Rate struct {
	N         int
	Per       time.Duration
	Unlimited bool
}

// UnlimitedRate promotes as fast as the queue allows.
var UnlimitedRate = Rate{Unlimited: true}

// PerPeriod builds a rate of n promotions per period.
func PerPeriod(n int, per time.Duration) Rate {
	return Rate{N: n, Per: per}
}

// Paused reports whether the rate forbids any promotion.
func (r Rate) Paused() bool {
	return !r.Unlimited && r.N <= 0
}

// Interval returns the minimum spacing between two promotions.
// Zero for unlimited and paused rates.
func (r Rate) Interval() time.Duration {
	if r.Unlimited || r.N <= 0 || r.Per <= 0 {
		return 0
	}
	return r.Per / time.Duration(r.N)
}

func (r Rate) String() string {
	if r.Unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d/%s", r.N, r.Per)
}

// ParseRate parses "unlimited" or "N/unit" where unit is second, minute or hour
// (singular, plural or abbreviated).
func ParseRate(s string) (Rate, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if raw == "unlimited" {
		return UnlimitedRate, nil
	}

	num, unit, ok := strings.Cut(raw, "/")
	if !ok {
		return Rate{}, fmt.Errorf("%w: %q", ErrInvalidRate, s)
	}

	n, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil || n < 0 {
		return Rate{}, fmt.Errorf("%w: %q", ErrInvalidRate, s)
	}

	var per time.Duration
	switch strings.TrimSpace(unit) {
	case "s", "sec", "secs", "second", "seconds":
		per = time.Second
	case "m", "min", "mins", "minute", "minutes":
		per = time.Minute
	case "h", "hr", "hrs", "hour", "hours":
		per = time.Hour
	default:
		return Rate{}, fmt.Errorf("%w: unknown unit in %q", ErrInvalidRate, s)
	}

	return Rate{N: n, Per: per}, nil
}
