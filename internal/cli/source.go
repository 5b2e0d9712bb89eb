package cli

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/bgjobs/pkg/config"
	"github.com/dmitrymomot/bgjobs/pkg/redis"
	"github.com/dmitrymomot/bgjobs/pkg/routine"
	"github.com/dmitrymomot/bgjobs/pkg/schedule"
)

// scheduleSource is the rollout configuration the scheduler follows, plus the
// routines keeping it fresh and the release of anything it holds open.
type scheduleSource struct {
	schedule.Source
	routines []routine.Routine
	ready    func(context.Context) error
	close    func()
}

// staticConfiguration turns SCHEDULE_RATE into a one-window configuration.
// An empty rate means unlimited promotion.
func staticConfiguration(rate string) schedule.Configuration {
	if rate == "" {
		return schedule.Configuration{}
	}
	return schedule.Configuration{Windows: []schedule.RolloutWindow{{Rate: rate}}}
}

func (a *app) openSource(ctx context.Context) (*scheduleSource, error) {
	log := a.log.With(slog.String("schedule_source", a.cfg.ScheduleSource))

	switch a.cfg.ScheduleSource {
	case SourceStatic:
		src, err := schedule.NewStaticSource(staticConfiguration(a.cfg.ScheduleRate))
		if err != nil {
			return nil, err
		}
		return &scheduleSource{Source: src, close: func() {}}, nil

	case SourceFile:
		src, err := schedule.NewFileSource(a.cfg.ScheduleFile,
			schedule.WithPollInterval(a.cfg.SchedulePollInterval),
			schedule.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
		return &scheduleSource{Source: src, routines: []routine.Routine{src}, close: func() {}}, nil

	case SourceRedis:
		client, err := a.connectRedis(ctx)
		if err != nil {
			return nil, err
		}
		src, err := schedule.NewRedisSource(ctx, client, a.cfg.ScheduleRedisKey,
			schedule.WithRedisChannel(a.cfg.ScheduleRedisChannel),
			schedule.WithRedisLogger(log),
		)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &scheduleSource{
			Source:   src,
			routines: []routine.Routine{src},
			ready:    redis.Healthcheck(client),
			close:    func() { _ = client.Close() },
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, a.cfg.ScheduleSource)
}

func (a *app) connectRedis(ctx context.Context) (*goredis.Client, error) {
	var cfg redis.Config
	if err := config.ForceReloadConfig(&cfg); err != nil {
		return nil, err
	}
	return redis.Connect(ctx, cfg)
}
