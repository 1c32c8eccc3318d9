// cmd/historian drains the match event queue from Redis into the match_events table.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/stakeroyale/internal/cache"
	"github.com/jason-s-yu/stakeroyale/internal/config"
	"github.com/jason-s-yu/stakeroyale/internal/database"
	"github.com/jason-s-yu/stakeroyale/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if cfg.RedisAddr == "" {
		logger.Fatal("REDIS_ADDR is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatal(err)
	}
	defer rdb.Close()

	store, err := database.NewStoreFromConfig(ctx, cfg)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer store.Close()

	historian.New(rdb, store, historian.ConfigFrom(cfg), logger).Run(ctx)
}
