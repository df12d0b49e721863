package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"presence_server/config"
	"presence_server/internal/bootstrap"
	"presence_server/pkg/logger"

	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	// Load .env file if exists (for local development)
	envErr := godotenv.Load()

	mode := flag.String("mode", "all", "Run mode: api, reaper, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "presence",
		Pretty:  cfg.IsDevelopment(),
		File:    cfg.LogFile,
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	switch *mode {
	case "api":
		runAPI(deps)
	case "reaper":
		runReaper(deps)
	case "all":
		var reaper *bootstrap.Runner
		if cfg.ReaperEnabled {
			reaper = bootstrap.NewReaperRunner(deps)
		}
		reaper.Start()
		runAPI(deps)
		reaper.Stop()
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
}

func runAPI(deps *bootstrap.Dependencies) {
	app := bootstrap.NewAPI(deps)

	relay := bootstrap.NewEventRelay(deps)
	relay.Start()
	defer relay.Stop()

	go func() {
		waitForSignal()
		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if deps.Hub != nil {
			deps.Hub.Close() // ends open SSE streams
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(ctx); err != nil {
			logger.Error("Error shutting down: %v", err)
			return
		}
		logger.Info("API server shut down gracefully")
	}()

	addr := ":" + deps.Config.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}

func runReaper(deps *bootstrap.Dependencies) {
	runner := bootstrap.NewReaperRunner(deps)
	runner.Start()
	logger.Info("Reaper running (interval: %v, threshold: %v)", deps.Config.ReapInterval, deps.Config.LivenessThreshold)

	waitForSignal()
	logger.Info("Shutting down reaper...")

	done := make(chan struct{})
	go func() {
		runner.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Reaper shut down gracefully")
	case <-time.After(shutdownTimeout):
		logger.Warn("Reaper shutdown timed out, forcing exit")
		os.Exit(1)
	}
}
