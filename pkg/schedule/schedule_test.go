package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bgjobs/pkg/schedule"
)

func TestParseRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		want     schedule.Rate
		interval time.Duration
	}{
		{"unlimited", schedule.UnlimitedRate, 0},
		{"10/hour", schedule.PerPeriod(10, time.Hour), 6 * time.Minute},
		{"2/min", schedule.PerPeriod(2, time.Minute), 30 * time.Second},
		{" 5 / seconds ", schedule.PerPeriod(5, time.Second), 200 * time.Millisecond},
		{"0/minute", schedule.PerPeriod(0, time.Minute), 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := schedule.ParseRate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.interval, got.Interval())
		})
	}

	t.Run("paused", func(t *testing.T) {
		t.Parallel()

		r, err := schedule.ParseRate("0/hour")
		require.NoError(t, err)
		assert.True(t, r.Paused())
		assert.False(t, schedule.UnlimitedRate.Paused())
	})

	for _, in := range []string{"", "ten/hour", "5", "-1/minute", "5/day"} {
		t.Run("invalid "+in, func(t *testing.T) {
			t.Parallel()

			_, err := schedule.ParseRate(in)
			assert.ErrorIs(t, err, schedule.ErrInvalidRate)
		})
	}
}

func TestSchedule(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("active window", func(t *testing.T) {
		t.Parallel()

		s, err := schedule.New(
			schedule.Window{Start: base, End: base.Add(time.Hour), Rate: schedule.PerPeriod(1, time.Minute)},
			schedule.Window{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour), Rate: schedule.UnlimitedRate},
		)
		require.NoError(t, err)

		w, err := s.Active(base.Add(30 * time.Minute))
		require.NoError(t, err)
		assert.Equal(t, time.Minute, w.Interval())

		w, err = s.Active(base.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, w.Rate.Unlimited)

		_, err = s.Active(base.Add(2 * time.Hour))
		assert.ErrorIs(t, err, schedule.ErrScheduleExpired)

		_, err = s.Active(base.Add(-time.Second))
		assert.ErrorIs(t, err, schedule.ErrScheduleExpired)

		assert.Equal(t, base.Add(2*time.Hour), s.ValidUntil())
		assert.Len(t, s.Windows(), 2)
	})

	t.Run("rejects invalid windows", func(t *testing.T) {
		t.Parallel()

		_, err := schedule.New()
		assert.ErrorIs(t, err, schedule.ErrEmptySchedule)

		_, err = schedule.New(schedule.Window{Start: base, End: base})
		assert.ErrorIs(t, err, schedule.ErrInvalidWindow)

		_, err = schedule.New(
			schedule.Window{Start: base, End: base.Add(time.Hour)},
			schedule.Window{Start: base.Add(30 * time.Minute), End: base.Add(2 * time.Hour)},
		)
		assert.ErrorIs(t, err, schedule.ErrInvalidWindow)
	})

	t.Run("nil schedule", func(t *testing.T) {
		t.Parallel()

		var s *schedule.Schedule
		_, err := s.Active(base)
		assert.ErrorIs(t, err, schedule.ErrEmptySchedule)
	})
}
