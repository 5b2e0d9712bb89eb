// Package httpserver provides a lightweight wrapper around net/http that adds
// graceful shutdown, configurable server timeouts, health-check handlers, and
// structured logging via slog.
//
// The core type is Server, which runs an http.Server for a single handler:
//
//   - Graceful Shutdown: Run blocks until the context is cancelled and then
//     shuts the server down using http.Server.Shutdown with a configurable
//     deadline.
//
//   - Routine: Start and Stop let the server join a routine.Group next to
//     workers and schedulers. Stop before Start never blocks.
//
//   - Functional Options: construction is done through New or NewFromConfig
//     together with Option helpers such as WithAddr, WithReadTimeout and
//     WithLogger.
//
//   - Hooks: WithStartHook and WithStopHook let callers execute side-effects
//     around the server life-cycle.
//
//   - Health Checks: HealthCheckHandler returns an http.HandlerFunc that can
//     be mounted as both liveness and readiness probes.
//
// # Usage
//
//	r := chi.NewRouter()
//	r.Get("/health/live", httpserver.HealthCheckHandler(log))
//	r.Get("/health/ready", httpserver.HealthCheckHandler(log, pg.Healthcheck(pool)))
//	r.Mount("/queues", gateway.NewHandler(store, gateway.WithQueue("default", policy)))
//
//	srv := httpserver.New(r,
//		httpserver.WithAddr(":8080"),
//		httpserver.WithShutdownTimeout(10*time.Second),
//	)
//	_ = routine.Run(ctx, srv, worker, scheduler)
//
// # Errors
//
// Run wraps all listen errors with ErrStart, while Shutdown wraps underlying
// shutdown errors with ErrShutdown. Use errors.Is to distinguish them.
package httpserver
