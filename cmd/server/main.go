package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/dgkenn/MeridianV2-sub001/internal/api"
	"github.com/dgkenn/MeridianV2-sub001/internal/baseline"
	"github.com/dgkenn/MeridianV2-sub001/internal/confidence"
	"github.com/dgkenn/MeridianV2-sub001/internal/config"
	"github.com/dgkenn/MeridianV2-sub001/internal/convert"
	"github.com/dgkenn/MeridianV2-sub001/internal/domain"
	"github.com/dgkenn/MeridianV2-sub001/internal/engine"
	"github.com/dgkenn/MeridianV2-sub001/internal/meta"
	"github.com/dgkenn/MeridianV2-sub001/internal/repository"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	// Open the evidence store
	store, err := repository.NewEvidenceStore(cfg.Store.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open evidence store")
	}
	defer store.Close()

	// Wire the engines; every dependency is injected explicitly.
	scorer, err := confidence.NewScorer(logger, cfg.Engine.Confidence, cfg.Engine.Meta)
	if err != nil {
		logger.WithError(err).Fatal("Invalid confidence configuration")
	}

	service, err := engine.NewRiskService(
		logger,
		meta.NewEngine(logger, cfg.Engine.Meta),
		baseline.NewEngine(logger, cfg.Engine.Baseline, store),
		convert.NewConverter(logger, cfg.Engine.Convert),
		scorer,
		store,
		cfg.Store.CacheSize,
		cfg.EvidenceVersion,
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build risk service")
	}

	server := api.NewServer(logger, cfg, service)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"host":             cfg.Server.Host,
		"port":             cfg.Server.Port,
		"evidence_version": cfg.EvidenceVersion,
	}).Info("Starting risk engine server")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
