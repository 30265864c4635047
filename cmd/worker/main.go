package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dubaigit/task-mail-sub001/internal/cache"
	"github.com/dubaigit/task-mail-sub001/internal/config"
	"github.com/dubaigit/task-mail-sub001/internal/logger"
	"github.com/dubaigit/task-mail-sub001/internal/metrics"
	"github.com/dubaigit/task-mail-sub001/internal/repository"
	"github.com/dubaigit/task-mail-sub001/internal/service"
	"github.com/dubaigit/task-mail-sub001/internal/source/mailstore"
)

// Standalone dispatcher process. Several of these may run against the same
// database; the queue's atomic claim keeps them from stepping on each other.
func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "taskmail-worker",
	})
	logger.SetDefault(appLogger)
	defer logger.Sync()

	configPath := flag.String("config", "", "Path to config file")
	once := flag.Bool("once", false, "Run a single dispatch tick and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
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

	dispatcher := service.NewDispatcher(
		jobRepo,
		store,
		analyzer,
		mailSource,
		&service.RetryPolicy{
			BaseDelay: time.Duration(cfg.Pipeline.RetryBaseDelayMs) * time.Millisecond,
			MaxDelay:  time.Duration(cfg.Pipeline.RetryMaxDelayMs) * time.Millisecond,
		},
		metrics.NewCollector(),
		appLogger,
		service.DispatcherConfig{
			MaxConcurrent: cfg.Pipeline.MaxConcurrent,
			BatchSize:     cfg.Pipeline.BatchSize,
			PollBatchSize: cfg.Pipeline.PollBatchSize,
			PollInterval:  cfg.Pipeline.PollInterval(),
			StuckAfter:    time.Duration(cfg.Pipeline.StuckJobMinutes) * time.Minute,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		appLogger.Info("Shutting down worker...")
		cancel()
	}()

	go analyzer.Run(ctx)
	go store.RunSweeper(ctx, time.Duration(cfg.Cache.SweepIntervalMinutes)*time.Minute)

	if *once {
		dispatcher.Tick(ctx)
		return
	}
	dispatcher.Run(ctx)
}
