package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vrpsolver/internal/api"
	"vrpsolver/internal/buildinfo"
	"vrpsolver/internal/config"
	"vrpsolver/internal/logging"
	"vrpsolver/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("vrpsolver: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := logging.NewLogger(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	srvDeps, err := api.NewServer(initCtx, cfg, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srvDeps.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("API listening",
		zap.String("addr", srv.Addr),
		zap.String("version", buildinfo.Version),
		zap.String("matrix", cfg.Matrix.Provider),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Bool("redis", cfg.RedisURL != ""))

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = srvDeps.Close()
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return srvDeps.Close()
}
