package main

import (
	"context"
	"os"
	"time"

	"breakeven/internal/amqp"
	"breakeven/internal/api"
	"breakeven/internal/cli"
	"breakeven/internal/config"
	"breakeven/internal/export/sheets"
	"breakeven/internal/log"
	"breakeven/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentWorker)
	cli.ValidateConfig(logger, cfg)

	logger.Info("Starting breakeven-worker")

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	apiClient := api.New(cfg.APIBaseURL, cfg.APIToken)

	// Sheet export is optional fleet-owner tooling.
	var exporter worker.SnapshotExporter
	if cfg.SheetsExportEnabled() {
		exp, err := sheets.New(context.Background(), sheets.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleCredentialsJSON,
			CredentialsFile: cfg.GoogleCredentialsFile,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets exporter", "error", err)
			os.Exit(1)
		}
		exporter = exp
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	syncWorker := worker.NewSyncWorker(repo, apiClient, exporter, cfg.SyncBatchSize)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// On startup, drain any snapshots queued while the worker was down.
	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", "error", err)
		// Don't exit - continue with normal operation
	}

	// Consume sync messages; the consumer reconnects on broker failures.
	go func() {
		err := amqpClient.ConsumeSnapshotSync(ctx, cfg.AMQPURL, func(msg *amqp.SnapshotSyncMessage) error {
			return syncWorker.HandleSyncMessage(ctx, msg)
		})
		if err != nil && err != context.Canceled {
			logger.Error("Message consumption failed", "error", err)
		}
		cancel()
	}()

	// Periodic scan catches messages lost between publisher and broker.
	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := syncWorker.ProcessPendingSnapshots(ctx); err != nil {
					logger.Error("Periodic sync failed", "error", err)
				}
			}
		}
	}()

	_, done := cli.GracefulShutdown(logger, 30*time.Second, cancel)
	cli.WaitForShutdown(ctx, done)
}
