// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/stakeroyale/internal/auth"
	"github.com/jason-s-yu/stakeroyale/internal/botledger"
	"github.com/jason-s-yu/stakeroyale/internal/cache"
	"github.com/jason-s-yu/stakeroyale/internal/config"
	"github.com/jason-s-yu/stakeroyale/internal/coordinator"
	"github.com/jason-s-yu/stakeroyale/internal/database"
	"github.com/jason-s-yu/stakeroyale/internal/handlers"
	"github.com/jason-s-yu/stakeroyale/internal/lobby"
	"github.com/jason-s-yu/stakeroyale/internal/session"
	"github.com/jason-s-yu/stakeroyale/internal/settlement"
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
	if cfg.AppEnv == "dev" {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.NewStoreFromConfig(ctx, cfg)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer store.Close()

	var issuer *auth.Issuer
	if cfg.AuthPrivateKey != "" && cfg.AuthPublicKey != "" {
		issuer, err = auth.NewIssuerFromFiles(cfg.AuthPrivateKey, cfg.AuthPublicKey, cfg.TokenExpire)
	} else {
		logger.Warn("no signing keys configured, tokens will not survive a restart")
		issuer, err = auth.NewIssuer(cfg.TokenExpire)
	}
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	// the event log is optional; without Redis matches are not archived
	var eventLog session.EventLog
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatal(err)
		}
		defer rdb.Close()
		eventLog = cache.NewEventLog(rdb, cfg.EventQueueName)
	}

	hub := handlers.NewHub(logger)
	ledger := botledger.New(cfg.BotLedgerInitial, cfg.BotLedgerMin)
	registry := lobby.NewRegistry(cfg, ledger, hub, logger)
	sessions := session.NewManager(session.ConfigFrom(cfg), hub, eventLog, logger)
	engine := settlement.NewEngine(
		settlement.ConfigFrom(cfg),
		store,
		settlement.LogTransferer{Logger: logger.WithField("component", "transfers")},
		ledger,
		settlement.NewBiasPolicy(cfg.BotBias),
		logger,
	)
	coord := coordinator.Wire(registry, sessions, engine, store, logger)
	go coord.RunRetries(ctx, cfg.RetryInterval)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewServer(cfg, registry, sessions, store, issuer, hub, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server exited: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	registry.Close()
	sessions.Close()
	coord.Wait()
}
