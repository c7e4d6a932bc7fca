// Package server bootstraps a unison App onto an HTTP server: it provides
// the socket component as an injectable, binds the app's views on a gorilla
// mux router behind the standard middleware chain, and serves HTTP or HTTPS
// until its context is cancelled.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/jacobclevenger/unison"
	"github.com/jacobclevenger/unison/internal/metrics"
	"github.com/jacobclevenger/unison/internal/middleware"
	"github.com/jacobclevenger/unison/internal/telemetry"
	"github.com/jacobclevenger/unison/socket"
	"github.com/rs/zerolog"
)

// ErrNotBootstrapped is returned by ListenAndServe before Bootstrap.
var ErrNotBootstrapped = errors.New("server has not been bootstrapped")

// Server holds the HTTP server state and the components views can use.
type Server struct {
	cfg     Config
	logger  zerolog.Logger
	socket  *socket.Server
	metrics *metrics.Metrics
	limiter *middleware.RateLimiter
	ctx     context.Context
	cancel  context.CancelFunc

	lock        sync.Mutex
	app         *unison.App
	router      *mux.Router
	handler     http.Handler
	dispatcher  *unison.Dispatcher
	injectables *unison.Injectables
	addr        net.Addr
}

// New creates a server and starts its background services.  Shutdown
// stops them.
func New(cfg Config, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		logger: logger,
		socket: socket.NewServer(logger.With().Str("component", "socket").Logger()),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.MetricsEnabled {
		s.metrics = metrics.New(cfg.MetricsPath, true)
	}
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, logger)
		go s.limiter.Run(ctx, 5*time.Minute)
	}
	go s.socket.Run(ctx)
	return s
}

// Socket returns the socket component provided to views under
// socket.Token.
func (s *Server) Socket() *socket.Server {
	return s.socket
}

// Bootstrap provides the server's components to app, starts it on a new
// router and builds the middleware chain.  A server bootstraps one app.
func (s *Server) Bootstrap(app *unison.App) error {
	if app == nil || len(app.Views()) == 0 {
		s.logger.Error().Msg("application must be registered with unison")
		return fmt.Errorf("bootstrap: %w", unison.ErrMisconfiguredApplication)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.handler != nil {
		return fmt.Errorf("bootstrap %q: %w", app.Name, unison.ErrAlreadyStarted)
	}

	app.Provide(socket.Token, s.socket)

	router := mux.NewRouter()
	opts := []unison.Option{unison.WithLogger(app.Logger(s.logger))}
	if s.metrics != nil {
		router.Use(s.metrics.InstrumentHandler)
		router.Handle(s.cfg.MetricsPath, s.metrics.Handler()).Methods(http.MethodGet)
		opts = append(opts, unison.WithObserver(s.metrics))
	}
	if s.cfg.SocketPath != "" {
		router.Handle(s.cfg.SocketPath, s.socket.Handler())
	}
	if s.cfg.LenientInjection {
		opts = append(opts, unison.WithLenientInjection())
	}

	d, inj, err := app.Start(unison.MuxBinder(router), opts...)
	if err != nil {
		return err
	}

	chain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.Logger(s.logger),
		middleware.Tracing,
		middleware.CORS(s.cfg.CORSOrigins),
	}
	if s.limiter != nil {
		chain = append(chain, s.limiter.Handler)
	}
	chain = append(chain, unison.ParseBody(s.cfg.BodyLimit))

	s.app = app
	s.router = router
	s.dispatcher = d
	s.injectables = inj
	s.handler = middleware.Chain(chain...)(router)
	return nil
}

// Handler returns the bootstrapped handler, or nil before Bootstrap.
func (s *Server) Handler() http.Handler {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.handler
}

// Routes lists the routes bound for the app's views.
func (s *Server) Routes() []unison.RouteInfo {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.dispatcher == nil {
		return nil
	}
	return s.dispatcher.Routes()
}

// Injectables returns the app's resolved dependencies.
func (s *Server) Injectables() *unison.Injectables {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.injectables
}

// Addr returns the address being listened on, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.addr
}

// ListenAndServe serves HTTP, or HTTPS when TLS is enabled, until ctx is
// done and then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	handler := s.Handler()
	if handler == nil {
		return ErrNotBootstrapped
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Setup(ctx, s.app.Name, s.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("Tracing shutdown failed")
		}
	}()

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.lock.Lock()
	s.addr = ln.Addr()
	s.lock.Unlock()

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		port := ln.Addr().(*net.TCPAddr).Port
		s.logger.Info().
			Str("addr", ln.Addr().String()).
			Bool("tls", s.cfg.TLS.Enabled).
			Msgf("Listening on port %d", port)

		var err error
		if s.cfg.TLS.Enabled {
			err = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("server failed: %w", err)
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		s.clearAddr()
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	s.Shutdown()
	s.clearAddr()
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("Server stopped gracefully")
	return nil
}

func (s *Server) clearAddr() {
	s.lock.Lock()
	s.addr = nil
	s.lock.Unlock()
}

// Shutdown stops background services and closes the app registry.
func (s *Server) Shutdown() {
	s.cancel()
	s.lock.Lock()
	app := s.app
	s.lock.Unlock()
	if app != nil {
		app.Close()
	}
}
