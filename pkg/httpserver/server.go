package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrymomot/bgjobs/pkg/logger"
)

type config struct {
	addr            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
	startHooks      []func(*slog.Logger)
	stopHooks       []func(*slog.Logger)
}

func defaultConfig() *config {
	return &config{
		addr:            ":8080",
		shutdownTimeout: 5 * time.Second,
		logger:          slog.Default(),
	}
}

// Server wraps http.Server with graceful shutdown and logging.
// It satisfies routine.Routine through Start and Stop.
type Server struct {
	cfg     *config
	handler http.Handler

	once     sync.Once
	mu       sync.Mutex
	srv      *http.Server
	addr     net.Addr
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
}

// New returns a configured Server for the handler.
// A nil handler responds 404 to every request.
func New(handler http.Handler, opts ...Option) *Server {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		handler:  handler,
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
}

// Run listens on the configured address and serves until ctx is done, then
// shuts the server down gracefully.
// It returns ErrStart wrapped with the underlying error if the server fails to start.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return errors.Join(ErrStart, errors.New("server already running"))
	}

	cfg := s.cfg
	ln, err := net.Listen("tcp", cfg.addr)
	if err != nil {
		s.mu.Unlock()
		return errors.Join(ErrStart, err)
	}

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  cfg.readTimeout,
		WriteTimeout: cfg.writeTimeout,
		IdleTimeout:  cfg.idleTimeout,
		ErrorLog:     slog.NewLogLogger(cfg.logger.Handler(), slog.LevelError),
	}
	s.srv = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	cfg.logger.Info("http server listening", slog.String("addr", ln.Addr().String()))
	for _, h := range cfg.startHooks {
		h(cfg.logger)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	var runErr, shutdownErr error
	select {
	case <-ctx.Done():
		shutdownErr = s.Shutdown(context.Background())
		runErr = <-errCh
	case runErr = <-errCh:
	}

	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		return errors.Join(ErrStart, runErr)
	}
	return shutdownErr
}

// Shutdown stops the server gracefully before Run returns.
// It is safe for repeated calls.
// Any error from http.Server.Shutdown is wrapped with ErrShutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	var err error
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.shutdownTimeout)
		defer cancel()
		err = srv.Shutdown(ctx)
		for _, h := range s.cfg.stopHooks {
			h(s.cfg.logger)
		}
		s.cfg.logger.Info("http server stopped")
	})

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(ErrShutdown, err)
	}
	return nil
}

// Start runs the server until Stop is called. Failures are logged.
func (s *Server) Start() {
	s.mu.Lock()
	if s.started || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	defer close(s.finished)
	if err := s.Run(s.ctx); err != nil {
		s.cfg.logger.Error("http server failed", logger.Error(err))
	}
}

// Stop shuts the server down and waits for Start to return.
func (s *Server) Stop() {
	s.mu.Lock()
	s.cancel()
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.finished
	}
}

// Addr returns the address the server listens on, or nil before it listens.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
