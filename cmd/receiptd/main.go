package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/blob"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/cache"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/common"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/export"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/extract/openai"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/pipeline"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/repository"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/server"
)

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	logger, err := common.InitLogger(cfg.Log)
	if err != nil {
		zap.NewExample().Fatal("init logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		jobs   repository.JobRepository
		health func(ctx context.Context) error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		repo, err := repository.NewSQLite(cfg.Store.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("open sqlite store", zap.Error(err))
		}
		jobs = repo
		health = func(context.Context) error { return nil }
	default:
		pool, err := repository.Open(ctx, cfg.Store, logger)
		if err != nil {
			logger.Fatal("open postgres store", zap.Error(err))
		}
		defer pool.Close()

		if err := repository.HealthCheck(ctx, pool, 3*time.Second, logger); err != nil {
			logger.Fatal("store health check", zap.Error(err))
		}
		repo := repository.NewPostgresJobRepository(pool, logger)
		if err := repo.Migrate(ctx); err != nil {
			logger.Fatal("migrate store", zap.Error(err))
		}
		jobs = repo
		health = func(ctx context.Context) error {
			return repository.HealthCheck(ctx, pool, 3*time.Second, logger)
		}
	}

	blobs, err := blob.NewLocalStore(cfg.Blob.Dir)
	if err != nil {
		logger.Fatal("open blob store", zap.Error(err))
	}

	var memo cache.Store
	if cfg.Cache.Enabled {
		boltCache, err := cache.NewBoltStore(cfg.Cache.Path, logger)
		if err != nil {
			logger.Fatal("open cache", zap.Error(err))
		}
		defer func() { _ = boltCache.Close() }()
		memo = boltCache
	} else {
		memo = (*cache.BoltStore)(nil)
	}

	extractor := openai.NewClient(openai.Config{
		APIKey:      cfg.Upstream.APIKey,
		BaseURL:     cfg.Upstream.BaseURL,
		Model:       cfg.Upstream.Model,
		Temperature: cfg.Upstream.Temperature,
		Timeout:     cfg.Upstream.Timeout,
		RatePerSec:  cfg.Upstream.RatePerSec,
		RateBurst:   cfg.Upstream.RateBurst,
	}, logger)

	proc := pipeline.NewProcessor(jobs, blobs, extractor, memo, logger)
	disp := pipeline.NewDispatcher(jobs, proc, logger,
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithQueueSize(cfg.Pipeline.QueueSize),
		pipeline.WithProcessTimeout(cfg.Pipeline.ProcessTimeout),
	)

	api := server.New(jobs, blobs, disp, export.NewService(jobs, logger), health, logger,
		server.WithMaxUploadBytes(cfg.Server.MaxUploadBytes))
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.Router(),
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		disp.Shutdown(shutdownCtx)
	}()

	logger.Info("serving", zap.String("addr", cfg.Server.Addr), zap.String("store", cfg.Store.Driver))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http serve", zap.Error(err))
	}
	// srv.Shutdown returns once listeners close; wait for the dispatcher
	// to finish draining in-flight jobs before exiting.
	<-shutdownDone
	logger.Info("stopped")
}
