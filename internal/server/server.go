// Package server exposes the privacy accountant and sampling from stored
// models over HTTP.
package server

import (
	"context"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/p3gm/internal/export"
	"github.com/inferloop/p3gm/internal/observability/metrics"
	"github.com/inferloop/p3gm/pkg/constants"
	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/interfaces"
)

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	logger     *logrus.Logger
	config     *Config
	handlers   *Handlers
	metrics    *metrics.PrometheusMetrics
}

// NewServer creates a new HTTP server instance. metrics may be nil.
func NewServer(config *Config, store interfaces.ModelStore, pm *metrics.PrometheusMetrics, logger *logrus.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig, "invalid server configuration")
	}
	if store == nil {
		return nil, errors.NewAppError(errors.ErrorTypeConfiguration, errors.CodeInvalidConfig, "model store is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	server := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		config:   config,
		metrics:  pm,
		handlers: NewHandlers(store, export.NewExportEngine(logger), pm, config, logger),
	}

	server.setupRoutes()
	server.setupMiddleware()

	server.httpServer = &http.Server{
		Addr:         config.Address(),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return server, nil
}

// Start listens until Stop is called or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until Stop is called or ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logger.Infof("Starting HTTP server on %s", listener.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.Stop(context.Background())
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Errorf("Error shutting down HTTP server: %v", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// GetConfig returns the server configuration
func (s *Server) GetConfig() *Config {
	return s.config
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handlers.Version).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle(constants.DefaultMetricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}

	apiRouter := s.router.PathPrefix(constants.APIPrefix).Subrouter()
	apiRouter.HandleFunc("/privacy/epsilon", s.handlers.Epsilon).Methods(http.MethodPost)
	apiRouter.HandleFunc("/models", s.handlers.ListModels).Methods(http.MethodGet)
	apiRouter.HandleFunc("/models/{id}", s.handlers.GetModel).Methods(http.MethodGet)
	apiRouter.HandleFunc("/models/{id}", s.handlers.DeleteModel).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/models/{id}/samples", s.handlers.GenerateSamples).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.handlers.MethodNotAllowed)
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}
	s.router.Use(s.requestSizeLimitMiddleware)
}
