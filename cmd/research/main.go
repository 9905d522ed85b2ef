// The research service consumes completed de-identification jobs into the
// read index and streams per-query progress to subscribers over SSE.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/calyx-health/recordflow/internal/config"
	"github.com/calyx-health/recordflow/internal/services"
	transporthttp "github.com/calyx-health/recordflow/internal/transport/http"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("research service failed", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load("research-service")
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	opts, err := services.NewResearchOptions(cfg, logger)
	if err != nil {
		return err
	}
	defer opts.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := opts.Consumer.Run(ctx); err != nil {
			logger.Error("deid event consumer stopped", zap.Error(err))
			stop()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/api/research/progress", transporthttp.NewProgressHandler(opts.Broadcaster, logger))
	mux.Handle("/api/research/documents", transporthttp.NewDocumentsHandler(opts.Repo, logger))
	mux.Handle("/healthz", transporthttp.HealthHandler{})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.HTTPPort),
		Handler: mux,
	}
	go func() {
		logger.Info("research service listening", zap.Int("port", cfg.Service.HTTPPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
