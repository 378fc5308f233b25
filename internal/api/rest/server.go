package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/davidleathers/interaction-analytics/internal/infrastructure/config"
)

// Server represents the API server
type Server struct {
	config     config.ServerConfig
	httpServer *http.Server
	logger     *slog.Logger
	onShutdown []func()
}

// NewServer wraps handler in an http.Server configured from cfg
func NewServer(cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		config: cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:           net.JoinHostPort("", strconv.Itoa(cfg.Port)),
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			MaxHeaderBytes: 1 << 20,
		},
	}
}

// OnShutdown registers fn to run after the listener has drained
func (s *Server) OnShutdown(fn func()) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Addr is the listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting API server", "address", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.runShutdownHooks()
		if ok {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("received shutdown signal")
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests, then runs the shutdown hooks
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down server")

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.logger.Error("failed to shutdown server", "error", err)
	}

	s.runShutdownHooks()

	s.logger.Info("server shutdown complete")
	return err
}

func (s *Server) runShutdownHooks() {
	for i := len(s.onShutdown) - 1; i >= 0; i-- {
		s.onShutdown[i]()
	}
}
