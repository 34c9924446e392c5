package services

import (
	"context"
	"fmt"
	"log/slog"

	"breakeven/internal/amqp"
	"breakeven/internal/core"
	"breakeven/internal/storage"
)

// SnapshotService persists finalized snapshots to the local queue and
// notifies the worker over AMQP. The queue write is the source of truth;
// the publish is best effort and the worker's periodic scan covers missed
// messages.
type SnapshotService struct {
	store *storage.SQLiteRepository
	queue *amqp.Client
}

func NewSnapshotService(store *storage.SQLiteRepository, queue *amqp.Client) *SnapshotService {
	return &SnapshotService{
		store: store,
		queue: queue,
	}
}

// Record enqueues the snapshot for sync. Re-recording the same bucket
// updates the queued row in place, so only the latest values ship.
func (s *SnapshotService) Record(ctx context.Context, snap core.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	queueID, err := s.store.EnqueueSnapshot(ctx, snap)
	if err != nil {
		return fmt.Errorf("failed to enqueue snapshot: %w", err)
	}

	if s.queue != nil {
		if err := s.queue.PublishSnapshotSync(ctx, queueID, snap.DriverID, string(snap.PeriodType)); err != nil {
			slog.WarnContext(ctx, "Failed to publish snapshot sync message, worker scan will pick it up",
				"queue_id", queueID, "error", err)
		}
	}

	slog.InfoContext(ctx, "Snapshot queued for sync",
		"queue_id", queueID,
		"driver_id", snap.DriverID,
		"period", snap.PeriodType)
	return nil
}
