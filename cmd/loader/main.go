// The loader service accepts batch load requests over HTTP and drives each
// one through the ingestion pipeline, publishing a stage event per
// transition.
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
		logger.Fatal("loader service failed", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load("loader-service")
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	opts, err := services.NewLoaderOptions(cfg, logger)
	if err != nil {
		return err
	}
	defer opts.Close()

	mux := http.NewServeMux()
	mux.Handle("/api/batches", transporthttp.NewBatchesHandler(opts.Load, logger))
	mux.Handle("/healthz", transporthttp.HealthHandler{})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.HTTPPort),
		Handler: mux,
	}

	go func() {
		logger.Info("loader service listening", zap.Int("port", cfg.Service.HTTPPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
