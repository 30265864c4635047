package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dubaigit/task-mail-sub001/internal/api"
	"github.com/dubaigit/task-mail-sub001/internal/cache"
	"github.com/dubaigit/task-mail-sub001/internal/config"
	"github.com/dubaigit/task-mail-sub001/internal/logger"
	"github.com/dubaigit/task-mail-sub001/internal/metrics"
	"github.com/dubaigit/task-mail-sub001/internal/repository"
	"github.com/dubaigit/task-mail-sub001/internal/service"
	"github.com/dubaigit/task-mail-sub001/internal/source/mailstore"
)

func main() {
	appLogger := logger.New(nil)
	logger.SetDefault(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	jobRepo := repository.NewJobRepository(db)
	cacheRepo := repository.NewCacheRepository(db)

	store, err := cache.New(cacheRepo, cache.Options{
		TTL:           cfg.Cache.TTL(),
		MaxEntries:    cfg.Cache.MaxEntries,
		MemoryEntries: cfg.Cache.MemoryEntries,
	}, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize cache")
	}

	analyzer := service.NewAnalyzer(&cfg.Analyzer)

	mailSource := mailstore.NewAdapter(&mailstore.Config{
		BaseURL: cfg.MailStore.BaseURL,
		APIKey:  cfg.MailStore.APIKey,
		Timeout: time.Duration(cfg.MailStore.TimeoutSeconds) * time.Second,
	})

	collector := metrics.NewCollector()

	dispatcher := service.NewDispatcher(
		jobRepo,
		store,
		analyzer,
		mailSource,
		&service.RetryPolicy{
			BaseDelay: time.Duration(cfg.Pipeline.RetryBaseDelayMs) * time.Millisecond,
			MaxDelay:  time.Duration(cfg.Pipeline.RetryMaxDelayMs) * time.Millisecond,
		},
		collector,
		appLogger,
		service.DispatcherConfig{
			MaxConcurrent: cfg.Pipeline.MaxConcurrent,
			BatchSize:     cfg.Pipeline.BatchSize,
			PollBatchSize: cfg.Pipeline.PollBatchSize,
			PollInterval:  cfg.Pipeline.PollInterval(),
			StuckAfter:    time.Duration(cfg.Pipeline.StuckJobMinutes) * time.Minute,
		},
	)

	// Background pipeline: dispatcher loop, coalescer, cache sweeper.
	pipelineCtx, stopPipeline := context.WithCancel(context.Background())
	go analyzer.Run(pipelineCtx)
	go dispatcher.Run(pipelineCtx)
	go store.RunSweeper(pipelineCtx, time.Duration(cfg.Cache.SweepIntervalMinutes)*time.Minute)

	router := api.SetupRouter(jobRepo, store, collector, cfg)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	stopPipeline()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
