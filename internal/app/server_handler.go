package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	grpcserver "github.com/emmett/zahl/internal/server/grpc"
)

const metricsShutdownGrace = 2 * time.Second

// ServerHandler serves the session over gRPC and, when a port is set,
// Prometheus metrics over HTTP
type ServerHandler struct {
	app     *App
	metrics http.Handler
}

// NewServerHandler creates a handler. metrics may be nil.
func NewServerHandler(app *App, metrics http.Handler) *ServerHandler {
	return &ServerHandler{app: app, metrics: metrics}
}

// Run serves until ctx ends or a listener fails
func (h *ServerHandler) Run(ctx context.Context) error {
	cfg := h.app.cfg
	log := h.app.log

	server := grpcserver.NewServer(grpcserver.Config{Host: cfg.Server.Host, Port: cfg.Server.Port}, h.app.Session(), log)
	errCh := make(chan error, 2)
	go func() { errCh <- server.Start() }()

	var metricsServer *http.Server
	if cfg.Server.MetricsPort > 0 && h.metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", h.metrics)
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		log.Info("metrics endpoint listening", slog.String("addr", metricsServer.Addr))
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	server.Stop()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownGrace)
		defer cancel()
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Warn("metrics server shutdown failed", slog.String("error", shutdownErr.Error()))
		}
	}
	return err
}
