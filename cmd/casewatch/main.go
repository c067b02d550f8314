package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/casewatch/internal/api"
	"github.com/rewired-gh/casewatch/internal/broker"
	"github.com/rewired-gh/casewatch/internal/cache"
	"github.com/rewired-gh/casewatch/internal/catalog"
	"github.com/rewired-gh/casewatch/internal/clock"
	"github.com/rewired-gh/casewatch/internal/config"
	"github.com/rewired-gh/casewatch/internal/logger"
	"github.com/rewired-gh/casewatch/internal/market"
	"github.com/rewired-gh/casewatch/internal/storage"
	"github.com/rewired-gh/casewatch/internal/sweeper"
	"github.com/rewired-gh/casewatch/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file, empty for defaults and environment only")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	// Prices are served as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	items, err := catalog.Load(cfg.Sweep.CatalogPath)
	if err != nil {
		logger.Fatal("Failed to load catalog: %v", err)
	}
	logger.Info("Loaded %d items from %s", len(items), cfg.Sweep.CatalogPath)

	store, err := storage.New(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis: %v", err)
		}
		defer func() { _ = rdb.Close() }()
		logger.Info("Redis cache enabled at %s (ttl %v)", cfg.Redis.Addr, cfg.Redis.TTL)
	} else {
		logger.Debug("Redis cache disabled")
	}
	repo := cache.NewCachingRepository(rdb, cfg.Redis.TTL, store, "casewatch")

	events := broker.New()

	marketClient := market.NewClient(market.ClientConfig{
		PriceURL:    cfg.Steam.PriceURL,
		AppID:       cfg.Steam.AppID,
		Currency:    cfg.Steam.Currency,
		Timeout:     cfg.Steam.Timeout,
		BaseDelay:   cfg.Steam.BaseDelay,
		MaxAttempts: cfg.Steam.MaxAttempts,
	}, clock.Real{})

	sw, err := sweeper.New(items, marketClient, repo, events, sweeper.Config{
		ItemDelay:            cfg.Sweep.ItemDelay,
		ItemJitter:           cfg.Sweep.ItemJitter,
		BatchSize:            cfg.Sweep.BatchSize,
		BatchCooldown:        cfg.Sweep.BatchCooldown,
		MaxRequests:          cfg.Sweep.MaxRequests,
		LongCooldown:         cfg.Sweep.LongCooldown,
		Pause:                cfg.Sweep.Pause,
		MaxConcurrentFetches: cfg.Sweep.MaxConcurrentFetches,
	}, clock.Real{})
	if err != nil {
		logger.Fatal("Failed to initialize sweeper: %v", err)
	}

	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		telegramClient.ListenForCommands(ctx)

		sub := events.Subscribe(0)
		defer events.Unsubscribe(sub)
		go telegram.NewNotifier(telegramClient, cfg.Telegram.Threshold).Run(ctx, sub.Events())
		logger.Info("Telegram notifications enabled (threshold %.1f%%)", cfg.Telegram.Threshold)
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	sweepDone := make(chan error, 1)
	go func() {
		logger.Info("Starting sweeper over %d items (delay %v + jitter %v, batch %d)",
			len(items), cfg.Sweep.ItemDelay, cfg.Sweep.ItemJitter, cfg.Sweep.BatchSize)
		sweepDone <- sw.Run(ctx)
	}()

	router := api.NewRouter(api.NewHandler(repo, events, clock.Real{}), cfg.Server.StaticDir)
	if err := api.Serve(ctx, cfg.Server.Addr, router); err != nil {
		logger.Error("HTTP server failed: %v", err)
		stop()
	}

	if err := <-sweepDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Sweeper stopped: %v", err)
	}
	logger.Info("Shutdown complete")
}
