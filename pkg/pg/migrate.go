package pg

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

// Migrate applies the goose migrations found at the root of migrations.
// Packages owning a schema embed their SQL files and pass them here.
func Migrate(ctx context.Context, pool *pgxpool.Pool, migrations fs.FS, cfg Config, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	// goose works on database/sql; the wrapper shares the pool's connections.
	db := stdlib.OpenDBFromPool(pool)
	defer func() {
		if err := db.Close(); err != nil {
			log.ErrorContext(ctx, "failed to close migration connection", slog.String("error", err.Error()))
		}
	}()

	table := cfg.MigrationsTable
	if table == "" {
		table = "bgjobs_migrations"
	}
	store, err := database.NewStore(database.DialectPostgres, table)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	provider, err := goose.NewProvider("", db, migrations, goose.WithStore(store))
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	for _, r := range results {
		log.InfoContext(ctx, "migration applied",
			slog.Int64("version", r.Source.Version),
			slog.String("file", r.Source.Path),
			slog.Duration("duration", r.Duration),
		)
	}

	return nil
}
