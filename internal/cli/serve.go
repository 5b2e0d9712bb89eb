package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/bgjobs/internal/shell"
	"github.com/dmitrymomot/bgjobs/pkg/config"
	"github.com/dmitrymomot/bgjobs/pkg/gateway"
	"github.com/dmitrymomot/bgjobs/pkg/httpserver"
	"github.com/dmitrymomot/bgjobs/pkg/logger"
	"github.com/dmitrymomot/bgjobs/pkg/metrics"
	"github.com/dmitrymomot/bgjobs/pkg/queue"
	"github.com/dmitrymomot/bgjobs/pkg/routine"
)

func newServeCommand(a *app) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, janitor and executor gateway for a queue",
		Long: `Run the server side of a queue:

  scheduler   promotes scheduled jobs under the active rollout window
  janitor     re-queues jobs whose lease expired
  gateway     HTTP API executors claim and report jobs through (/queues/{queue}/...)
  worker      optional in-process shell worker (LOCAL_WORKER=true)

Health probes are served on /health/live and /health/ready.`,
		Aliases: []string{"server"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return a.serve(ctx, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply store migrations before starting")

	return cmd
}

func (a *app) serve(ctx context.Context, migrate bool) error {
	var (
		httpCfg    httpserver.Config
		gatewayCfg gateway.Config
	)
	if err := config.ForceReloadConfig(&httpCfg); err != nil {
		return err
	}
	if err := config.ForceReloadConfig(&gatewayCfg); err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.close()

	if migrate {
		if err := store.migrate(ctx); err != nil {
			return err
		}
	}

	source, err := a.openSource(ctx)
	if err != nil {
		return err
	}
	defer source.close()

	observer, err := metrics.NewGlobalObserver()
	if err != nil {
		return err
	}

	scheduler, err := queue.NewScheduler(store, source, a.queueCfg.SchedulerOptions(a.log, observer)...)
	if err != nil {
		return err
	}

	janitor, err := queue.NewJanitor(store, a.queueCfg.Queue, a.queueCfg.LeaseTimeout, a.queueCfg.JanitorInterval,
		queue.WithJanitorLogger(a.log),
		queue.WithJanitorObserver(observer),
		queue.WithJanitorStoreTimeout(a.queueCfg.StoreTimeout),
	)
	if err != nil {
		return err
	}

	gw, err := gateway.NewHandler(store, append(gatewayCfg.HandlerOptions(),
		gateway.WithQueue(a.queueCfg.Queue, a.queueCfg.RetryPolicy()),
		gateway.WithLogger(a.log),
	)...)
	if err != nil {
		return err
	}

	checks := []func(context.Context) error{store.ready}
	if source.ready != nil {
		checks = append(checks, source.ready)
	}

	server := httpserver.NewFromConfig(httpCfg, a.router(gw, checks), httpserver.WithLogger(a.log))

	routines := []routine.Routine{server, scheduler, janitor}
	routines = append(routines, source.routines...)

	if a.cfg.LocalWorker {
		worker, err := a.shellWorker(store, observer)
		if err != nil {
			return err
		}
		routines = append(routines, worker)
	}

	a.log.InfoContext(ctx, "serving queue",
		logger.Queue(a.queueCfg.Queue),
		slog.String("store", a.cfg.StoreDriver),
		slog.String("addr", httpCfg.Addr),
		slog.Bool("local_worker", a.cfg.LocalWorker))

	return routine.Run(ctx, routines...)
}

func (a *app) router(gw http.Handler, checks []func(context.Context) error) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)

	r.Get("/health/live", httpserver.HealthCheckHandler(a.log))
	r.Get("/health/ready", httpserver.HealthCheckHandler(a.log, checks...))
	r.Mount("/queues", gw)

	return r
}

// shellWorker builds a worker running shell jobs against repo.
func (a *app) shellWorker(repo queue.WorkerRepository, observer queue.Observer) (*queue.Worker, error) {
	registry := queue.NewRegistry()
	if err := registry.Register(shell.Kind, shell.New(
		shell.WithShell(a.cfg.ShellPath),
		shell.WithOutputLimit(a.cfg.ShellOutputLimit),
		shell.WithDefaultTimeout(a.cfg.ShellTimeout),
		shell.WithLogger(a.log),
	)); err != nil {
		return nil, fmt.Errorf("register shell handler: %w", err)
	}
	return queue.NewWorker(repo, registry, a.queueCfg.WorkerOptions(a.log, observer)...)
}
