package main

import (
	"os"
	"time"

	"breakeven/internal/amqp"
	"breakeven/internal/api"
	"breakeven/internal/cache"
	"breakeven/internal/cli"
	"breakeven/internal/config"
	"breakeven/internal/core"
	"breakeven/internal/expense"
	"breakeven/internal/log"
	"breakeven/internal/services"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentApp)
	cli.ValidateConfig(logger, cfg)

	logger.Info("Starting breakeven", "driver_id", cfg.DriverID, "api", cfg.APIBaseURL)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	apiClient := api.New(cfg.APIBaseURL, cfg.APIToken)

	// AMQP is optional; without it snapshots still queue locally and the
	// worker's periodic scan picks them up.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, snapshot sync falls back to periodic scan", "error", err)
		} else {
			defer amqpClient.Close()
		}
	}

	expenseCache := expense.NewCache(repo, apiClient)
	snapshots := services.NewSnapshotService(repo, amqpClient)

	reconciler := services.NewReconciler(cfg.DriverID, apiClient, expenseCache, snapshots, services.Options{
		Debounce:   cfg.ExpenseDebounce,
		HistoryTTL: cfg.HistoryCacheTTL,
	})

	cacheManager := cache.NewManager()
	for _, c := range reconciler.Caches() {
		cacheManager.Register(c)
	}
	cacheManager.StartCleanup(time.Minute)
	defer cacheManager.Stop()

	scheduler := services.NewScheduler(reconciler, services.SchedulerConfig{
		RefreshInterval:    cfg.RefreshInterval,
		StaleCheckInterval: cfg.StaleCheckInterval,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		scheduler.Stop()
	})

	if err := reconciler.SetPeriod(ctx, core.PeriodToday); err != nil {
		logger.Error("Failed to load initial period", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	logger.Info("Breakeven session running", "period", string(core.PeriodToday))
	cli.WaitForShutdown(ctx, done)
}
