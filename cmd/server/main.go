package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/inferloop/aidrin/internal/api/handlers"
	"github.com/inferloop/aidrin/internal/app"
	"github.com/inferloop/aidrin/internal/server"
)

func main() {
	flags, v, err := ParseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		logrus.WithError(err).Fatal("Invalid arguments")
	}
	if flags.Version {
		printVersion()
		return
	}

	config, err := app.Load(v)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	logger := app.SetupLogger(config.Log)

	logger.WithFields(logrus.Fields{
		"version":   Version,
		"commit":    GitCommit,
		"buildDate": BuildDate,
	}).Info("Starting AIDRIN privacy-risk server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	comps, err := app.Build(ctx, config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize components")
	}
	defer comps.Close()

	health := handlers.NewHealthHandler(GetBuildInfo())
	comps.RegisterHealthChecks(health)

	srv, err := server.NewServer(&config.Server, &server.Dependencies{
		Privacy: handlers.NewPrivacyHandler(comps.Manager, logger),
		Cache:   handlers.NewCacheHandler(comps.ResultCache, logger),
		Health:  health,
		Metrics: comps.Metrics,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	if err := comps.Metrics.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start metrics server")
	}

	processorDone := make(chan struct{})
	if config.Tasks.EmbedWorker {
		processor := comps.NewProcessor()
		go func() {
			processor.Start(ctx)
			close(processorDone)
		}()
	} else {
		close(processorDone)
	}

	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}

	// Stop dequeuing; running tasks finish on their own limits.
	cancel()
	select {
	case <-processorDone:
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded with tasks still running")
	}

	metricsCtx, metricsCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer metricsCancel()
	if err := comps.Metrics.Stop(metricsCtx); err != nil {
		logger.WithError(err).Warn("Metrics server shutdown failed")
	}

	logger.Info("Server stopped")
}
