package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/bgjobs/pkg/config"
	"github.com/dmitrymomot/bgjobs/pkg/logger"
	"github.com/dmitrymomot/bgjobs/pkg/mongo"
	"github.com/dmitrymomot/bgjobs/pkg/pg"
	"github.com/dmitrymomot/bgjobs/pkg/queue"
	"github.com/dmitrymomot/bgjobs/pkg/queue/mongostore"
	"github.com/dmitrymomot/bgjobs/pkg/queue/pgstore"
	"github.com/dmitrymomot/bgjobs/pkg/queue/sqlitestore"
)

// statsStore is implemented by every bundled store.
type statsStore interface {
	queue.Store
	Stats(ctx context.Context, queueName string) (map[queue.State]int, error)
}

// openedStore is a store together with its readiness check and the release of
// the connection behind it.
type openedStore struct {
	statsStore
	ready   func(context.Context) error
	migrate func(context.Context) error
	close   func()
}

// openStore connects to the configured driver. The schema is not touched;
// call migrate for that.
func (a *app) openStore(ctx context.Context) (*openedStore, error) {
	log := a.log.With(slog.String("driver", a.cfg.StoreDriver))

	switch a.cfg.StoreDriver {
	case DriverMemory:
		return &openedStore{
			statsStore: queue.NewMemoryStorage(),
			ready:      func(context.Context) error { return nil },
			migrate:    func(context.Context) error { return nil },
			close:      func() {},
		}, nil

	case DriverPostgres:
		var cfg pg.Config
		if err := config.ForceReloadConfig(&cfg); err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &openedStore{
			statsStore: pgstore.New(pool),
			ready:      pg.Healthcheck(pool),
			migrate: func(ctx context.Context) error {
				return pgstore.Migrate(ctx, pool, cfg, log)
			},
			close: pool.Close,
		}, nil

	case DriverSQLite:
		db, err := sqlitestore.Open(ctx, a.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &openedStore{
			statsStore: sqlitestore.New(db),
			ready:      db.PingContext,
			migrate: func(ctx context.Context) error {
				return sqlitestore.Migrate(ctx, db, log)
			},
			close: func() {
				if err := db.Close(); err != nil {
					log.Error("failed to close database", logger.Error(err))
				}
			},
		}, nil

	case DriverMongo:
		var cfg mongo.Config
		if err := config.ForceReloadConfig(&cfg); err != nil {
			return nil, err
		}
		client, coll, err := mongo.Collection(ctx, cfg, cfg.Database, a.cfg.MongoCollection)
		if err != nil {
			return nil, err
		}
		store := mongostore.New(coll)
		return &openedStore{
			statsStore: store,
			ready:      mongo.Healthcheck(client),
			migrate:    store.EnsureIndexes,
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := client.Disconnect(ctx); err != nil {
					log.Error("failed to disconnect from mongodb", logger.Error(err))
				}
			},
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, a.cfg.StoreDriver)
}
