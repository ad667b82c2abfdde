package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/zsiec/reel/internal/config"
	reelerrors "github.com/zsiec/reel/internal/errors"
	"github.com/zsiec/reel/internal/health"
	"github.com/zsiec/reel/internal/logger"
	"github.com/zsiec/reel/internal/playback"
	"github.com/zsiec/reel/internal/registry"
)

const healthCheckInterval = 30 * time.Second

// Player is the control surface exposed over HTTP.
type Player interface {
	OpenFile(ctx context.Context, path string) error
	StartDecode(ctx context.Context) error
	StopDecode() error
	Seek(ctx context.Context, seconds float64) error
	ValidVideo() bool
	ValidAudio() bool
	FrameWidth() int
	FrameHeight() int
	Stats() playback.Stats
}

// Options carries the collaborators served by the API.
type Options struct {
	Player   Player
	Registry registry.Registry
	Checkers []health.Checker
}

// Server is the HTTP control API.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	logger       logger.Logger
	healthMgr    *health.Manager
	errorHandler *reelerrors.ErrorHandler
	player       Player
	registry     registry.Registry
}

// New creates a server and registers its routes.
func New(cfg *config.ServerConfig, log logger.Logger, opts Options) *Server {
	log = logger.WithComponent(logger.OrNull(log), "server")

	s := &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		healthMgr:    health.NewManager(log),
		errorHandler: reelerrors.NewErrorHandler(log),
		player:       opts.Player,
		registry:     opts.Registry,
	}
	for _, c := range opts.Checkers {
		s.healthMgr.Register(c)
	}

	s.setupRoutes()
	return s
}

// Start serves until ctx ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go s.healthMgr.StartPeriodicChecks(ctx, healthCheckInterval)

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", ln.Addr().String()).Info("Starting control API")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("Shutting down control API")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

const apiPrefix = "/api/v1"

func (s *Server) setupRoutes() {
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	// API routes hang off the root router so a method mismatch reaches
	// MethodNotAllowedHandler; nested subrouters report it as a 404.
	if s.player != nil {
		s.router.HandleFunc(apiPrefix+"/player/open", s.handleOpen).Methods(http.MethodPost)
		s.router.HandleFunc(apiPrefix+"/player/start", s.handleStart).Methods(http.MethodPost)
		s.router.HandleFunc(apiPrefix+"/player/stop", s.handleStop).Methods(http.MethodPost)
		s.router.HandleFunc(apiPrefix+"/player/seek", s.handleSeek).Methods(http.MethodPost)
		s.router.HandleFunc(apiPrefix+"/player/status", s.handleStatus).Methods(http.MethodGet)
	}
	if s.registry != nil {
		s.router.HandleFunc(apiPrefix+"/sessions", s.handleListSessions).Methods(http.MethodGet)
		s.router.HandleFunc(apiPrefix+"/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HealthManager exposes the checks so callers can register more.
func (s *Server) HealthManager() *health.Manager {
	return s.healthMgr
}
