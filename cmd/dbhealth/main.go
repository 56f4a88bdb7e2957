package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/common"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/repository"
)

// dbhealth opens the configured store, pings it and exits. Useful as a
// container readiness probe and for checking credentials by hand.
func main() {
	logger := zap.NewExample()

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Store.DatabaseURL == "" {
		logger.Fatal("store.database_url is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cfg.Store.Driver == "sqlite" {
		if _, err := repository.NewSQLite(cfg.Store.DatabaseURL, logger); err != nil {
			logger.Fatal("sqlite health failed", zap.Error(err))
		}
		logger.Info("sqlite health ok", zap.String("dsn", cfg.Store.DatabaseURL))
		return
	}

	pool, err := repository.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal("open pool", zap.Error(err))
	}
	defer pool.Close()

	if err := repository.HealthCheck(ctx, pool, 3*time.Second, logger); err != nil {
		logger.Fatal("postgres health failed", zap.Error(err))
	}
	logger.Info("postgres health ok")
}
