package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/northbeam/gateway/internal/config"
	"github.com/northbeam/gateway/internal/logging"
)

// Server wraps a Gateway with the listening HTTP server and the graceful
// shutdown sequence: stop the health checker, stop accepting connections and
// drain in flight requests within the configured grace, close the cache
// connection, then let the plugin engine run its own shutdown hooks.
type Server struct {
	gateway *Gateway
	http    *http.Server
	config  *config.Config
}

// NewServer builds a Gateway from cfg and wraps it in a listening server.
// configPath, if non-empty, is watched for hot-reloadable configuration
// changes (see Gateway.reloadConfig); pass "" to disable watching.
func NewServer(cfg *config.Config, configPath string) (*Server, error) {
	gw, err := New(cfg, configPath)
	if err != nil {
		return nil, err
	}
	s := &Server{
		gateway: gw,
		config:  cfg,
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      gw.Handler(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}
	return s, nil
}

// Gateway returns the underlying Gateway, mainly for tests.
func (s *Server) Gateway() *Gateway { return s.gateway }

// Start begins listening in the background and returns once the listener is
// up or has failed to start.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("gateway listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway: listen: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Run starts the server and blocks until SIGINT/SIGTERM, then runs the
// graceful shutdown sequence.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("shutdown signal received")
	return s.Shutdown(s.config.Server.ShutdownTimeout)
}

// Shutdown runs the gateway's graceful shutdown sequence: stop the health
// checker, stop accepting connections and drain in-flight requests within
// timeout, then tear down the rest of the gateway's background state (config
// watcher, cache connection, plugin shutdown hooks).
func (s *Server) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.gateway.healthCheck.Stop()
	if err := s.http.Shutdown(ctx); err != nil {
		logging.Warn("http server shutdown error", zap.Error(err))
	}

	if err := s.gateway.Shutdown(); err != nil {
		logging.Warn("gateway shutdown error", zap.Error(err))
		return err
	}

	logging.Info("gateway shutdown complete")
	return nil
}
