// Package pg bootstraps PostgreSQL access on top of pgx/v5.
//
// Connect opens a *pgxpool.Pool from Config (populated from PG_* environment
// variables) and retries while the server is not reachable yet. Migrate runs
// goose migrations from any fs.FS, so packages that own tables embed their SQL
// files and hand them over:
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pgstore.Migrate(ctx, pool, cfg, logger); err != nil {
//		return err
//	}
//
// Healthcheck wraps Ping for health endpoints, and IsNotFoundError /
// IsDuplicateKeyError classify pgx errors.
package pg
