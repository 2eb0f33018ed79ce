package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/app"
	"github.com/t77yq/maintenance-agent/internal/config"
)

func main() {
	flags := pflag.NewFlagSet("server", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to config.yaml")
	flags.String("addr", "", "HTTP listen address")
	flags.String("db", "", "SQLite database path")
	flags.Bool("dev", false, "development logging")
	noCron := flags.Bool("no-cron", false, "disable the monitoring schedules")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := app.NewLogger(cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize agent", zap.Error(err))
	}
	defer a.Close()

	if !*noCron {
		cronScheduler, err := a.Scheduler()
		if err != nil {
			logger.Fatal("Failed to create scheduler", zap.Error(err))
		}
		cronScheduler.Start()
		defer cronScheduler.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.Server().Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown timeout reached, some requests may not have completed", zap.Error(err))
	}
	if running := a.Runner.Running(); len(running) > 0 {
		logger.Info("Waiting for running workflows to complete", zap.Int("count", len(running)))
	}

	logger.Info("Server shutting down gracefully")
}
