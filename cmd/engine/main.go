package main

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"crypto-strategy-engine/internal/engine"
	"crypto-strategy-engine/internal/feed"
	"crypto-strategy-engine/internal/position"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/internal/storage"

	"go.uber.org/zap"
)

// feedKey 同一报价币和周期的实例共享一条行情连接
type feedKey struct {
	quote    string
	interval string
}

func main() {
	configPath := "config"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		service.InitLogger("info")
		service.Logger.Fatal("Configuration directory 'config/' not found. Please create it.")
	}
	cfg, err := service.LoadConfig(configPath)
	if err != nil {
		service.InitLogger("info")
		service.Logger.Fatal("Failed to load config", zap.Error(err))
	}
	service.InitLogger(cfg.Log.Level)
	defer service.Logger.Sync()
	logger := service.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 持久化：MySQL 为权威记录，未配置时退回内存
	var recorder engine.Recorder = storage.NewMemoryRecorder()
	if cfg.Storage.MySQLDSN != "" {
		mysqlRec, err := storage.OpenMySQL(ctx, cfg.Storage.MySQLDSN, logger)
		if err != nil {
			logger.Fatal("MySQL unavailable", zap.Error(err))
		}
		defer mysqlRec.Close()
		if err := mysqlRec.Migrate(ctx); err != nil {
			logger.Fatal("MySQL migration failed", zap.Error(err))
		}
		recorder = mysqlRec
	} else {
		logger.Warn("MySQLDSN not set, fills are kept in memory only")
	}

	var status engine.StatusSink
	if cfg.Storage.RedisAddr != "" {
		cache := storage.NewRedisStatusCache(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB, cfg.Storage.StatusTTL)
		defer cache.Close()
		if err := cache.Ping(ctx); err != nil {
			logger.Warn("Redis unreachable, status cache disabled", zap.Error(err))
		} else {
			status = cache
		}
	}

	// 2. 收集每条行情连接要订阅的 Symbol
	names := make([]string, 0, len(cfg.Instances))
	for name := range cfg.Instances {
		names = append(names, name)
	}
	sort.Strings(names)

	subscriptions := make(map[feedKey][]string)
	for _, name := range names {
		strat := cfg.Instances[name].Strategy
		key := feedKey{quote: strat.QuoteAsset, interval: strat.Interval}
		subscriptions[key] = append(subscriptions[key], strat.Symbols()...)
	}

	// 3. 启动行情 (只负责连接和维护最新价格)
	feeds := make(map[feedKey]*feed.WSPriceFeed, len(subscriptions))
	var wg sync.WaitGroup
	for key, symbols := range subscriptions {
		f, err := feed.NewWSPriceFeed(cfg.Feed.WSURL, symbols, key.quote, key.interval, cfg.Feed.StaleAfter, logger)
		if err != nil {
			logger.Fatal("Price feed init failed", zap.Error(err))
		}
		feeds[key] = f
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Start(ctx)
		}()
	}

	// 4. 每个策略实例一个隔离的 Goroutine
	for _, name := range names {
		instCfg := cfg.Instances[name]
		instLogger := logger.With(zap.String("Instance", name), zap.String("Strategy", instCfg.Strategy.Family))

		exec := position.NewSimExecutor(instCfg.Strategy.FeeRate, instLogger)
		inst, err := engine.NewInstance(name, instCfg, exec, nil, instLogger)
		if err != nil {
			logger.Fatal("Instance init failed", zap.String("Instance", name), zap.Error(err))
		}

		source := feeds[feedKey{quote: instCfg.Strategy.QuoteAsset, interval: instCfg.Strategy.Interval}]
		ticker := time.NewTicker(instCfg.PollInterval)
		runner := engine.NewRunner(inst, source, recorder, status, ticker.C, logger)

		instLogger.Info("Starting isolated trading pipeline...",
			zap.String("PollInterval", service.FormatInterval(instCfg.PollInterval)),
			zap.Strings("Symbols", inst.Symbols()))

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer ticker.Stop()
			if err := runner.Run(ctx); err != nil {
				instLogger.Error("Runner exited with error", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, waiting for runners...")
	wg.Wait()
	logger.Info("Engine stopped")
}
