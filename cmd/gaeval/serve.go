package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/gaeval/internal/config"
	apperrors "github.com/copyleftdev/gaeval/internal/errors"
	"github.com/copyleftdev/gaeval/internal/logging"
	"github.com/copyleftdev/gaeval/internal/server"
)

func (a *app) serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the evaluation service over HTTP and JSON-RPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.HTTP.Port = port
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "listen port, overrides HTTP_PORT")
	return cmd
}

// newRouter wires middleware, health and metrics endpoints and the
// evaluation API.
func newRouter(cfg *config.Config, logger *logging.Logger) (chi.Router, *server.Server) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(apperrors.RecoveryMiddleware(logger))
	if cfg.HTTP.WriteTimeout > 0 {
		r.Use(middleware.Timeout(cfg.HTTP.WriteTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if l := logging.FromContext(r.Context()); l != nil {
			l.Debug("Health check")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := server.NewServer(cfg, logger)
	srv.RegisterRoutes(r)
	return r, srv
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	serviceLogger := a.logger.WithFields(map[string]interface{}{
		"service": "gaeval",
		"version": version,
	})

	handler, srv := newRouter(cfg, serviceLogger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		ErrorLog:     zap.NewStdLog(logging.NewZapLogger(serviceLogger)),
	}

	errCh := make(chan error, 1)
	go func() {
		serviceLogger.Info("Starting server", map[string]interface{}{
			"address":   httpServer.Addr,
			"data_dir":  cfg.Evaluation.DataDir,
			"workers":   cfg.Evaluation.Workers,
			"max_batch": cfg.Evaluation.MaxBatch,
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen on %s: %w", httpServer.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	serviceLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
		return err
	}

	if err := srv.Close(); err != nil {
		serviceLogger.Error("Error closing server resources", map[string]interface{}{"error": err.Error()})
	}

	serviceLogger.Info("Server stopped", map[string]interface{}{
		"shutdown_timeout": cfg.HTTP.ShutdownTimeout.String(),
	})
	return nil
}
