// Package worker pushes locally queued breakeven snapshots to the backend.
// It is driven by AMQP sync messages, with a periodic pending-row scan as a
// backup for lost messages.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"breakeven/internal/amqp"
	"breakeven/internal/core"
	"breakeven/internal/storage"
)

// SnapshotUpserter is the backend surface the worker pushes to.
// Implemented by *api.Client.
type SnapshotUpserter interface {
	UpsertSnapshot(ctx context.Context, snap core.Snapshot) error
}

// SnapshotExporter mirrors synced snapshots to an external sheet for fleet
// reporting. Optional; nil disables the export.
type SnapshotExporter interface {
	Append(ctx context.Context, snap core.Snapshot) error
}

// SyncWorker drains the local snapshot queue into the backend history store.
type SyncWorker struct {
	storage   *storage.SQLiteRepository
	backend   SnapshotUpserter
	exporter  SnapshotExporter
	batchSize int
}

func NewSyncWorker(storage *storage.SQLiteRepository, backend SnapshotUpserter, exporter SnapshotExporter, batchSize int) *SyncWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &SyncWorker{
		storage:   storage,
		backend:   backend,
		exporter:  exporter,
		batchSize: batchSize,
	}
}

// HandleSyncMessage processes a single snapshot sync message from AMQP.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.SnapshotSyncMessage) error {
	slog.InfoContext(ctx, "Processing snapshot sync message",
		"queue_id", msg.QueueID,
		"driver_id", msg.DriverID,
		"period", msg.PeriodType)

	queued, err := w.storage.GetQueuedSnapshot(ctx, msg.QueueID)
	if err != nil {
		return fmt.Errorf("get queued snapshot: %w", err)
	}

	return w.syncSnapshot(ctx, queued)
}

// ProcessPendingSnapshots pushes any queued snapshots that have not been
// synced yet. This is a backup mechanism in case AMQP messages are lost.
func (w *SyncWorker) ProcessPendingSnapshots(ctx context.Context) error {
	pending, err := w.storage.PendingSnapshots(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending snapshots: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending snapshots", "count", len(pending))

	for _, queued := range pending {
		if err := w.syncSnapshot(ctx, queued); err != nil {
			slog.ErrorContext(ctx, "Failed to sync snapshot",
				"queue_id", queued.ID, "error", err)
		}
	}
	return nil
}

// StartupSyncCheck drains a larger backlog at worker startup, recovering
// from missed AMQP messages or worker downtime.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	pending, err := w.storage.PendingSnapshots(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending snapshots for startup check: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending snapshots found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending snapshots on startup, processing...",
		"count", len(pending))

	synced := 0
	failed := 0
	for _, queued := range pending {
		if err := w.syncSnapshot(ctx, queued); err != nil {
			slog.ErrorContext(ctx, "Failed to sync snapshot during startup",
				"queue_id", queued.ID, "error", err)
			failed++
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(pending),
		"synced", synced,
		"errors", failed)
	return nil
}

func (w *SyncWorker) syncSnapshot(ctx context.Context, queued storage.QueuedSnapshot) error {
	if err := w.backend.UpsertSnapshot(ctx, queued.Snapshot); err != nil {
		if markErr := w.storage.MarkSnapshotFailed(ctx, queued.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark snapshot failed",
				"queue_id", queued.ID, "error", markErr)
		}
		return fmt.Errorf("upsert snapshot: %w", err)
	}

	if err := w.storage.MarkSnapshotSynced(ctx, queued.ID, time.Now().UTC()); err != nil {
		// The upsert went through; the row just stays pending and will be
		// retried idempotently.
		slog.ErrorContext(ctx, "Failed to mark snapshot synced",
			"queue_id", queued.ID, "error", err)
	}

	if w.exporter != nil {
		if err := w.exporter.Append(ctx, queued.Snapshot); err != nil {
			slog.WarnContext(ctx, "Sheet export failed",
				"queue_id", queued.ID, "error", err)
		}
	}

	slog.InfoContext(ctx, "Snapshot synced",
		"queue_id", queued.ID,
		"driver_id", queued.Snapshot.DriverID,
		"period", queued.Snapshot.PeriodType,
		"period_start", queued.Snapshot.PeriodStart.Format(time.RFC3339))
	return nil
}
