package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskflow/internal/constants"
	"taskflow/pkg/health"
)

// NewMonitoringServer serves /health and /metrics on the configured port.
func (b *Base) NewMonitoringServer(registry *health.CheckerRegistry) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", registry.Handler())
	mux.Handle("/metrics", promhttp.Handler())
	return b.NewHTTPServer(mux)
}

func (b *Base) NewHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         b.Config.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  b.Config.Server.ReadTimeout,
		WriteTimeout: b.Config.Server.WriteTimeout,
	}
}

// ServeHTTP blocks serving server until it is shut down.
func (b *Base) ServeHTTP(ctx context.Context, server *http.Server) error {
	b.Logger.InfowCtx(b.Context(ctx), "HTTP server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

func (b *Base) ShutdownHTTP(server *http.Server) error {
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}
