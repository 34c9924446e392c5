package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"breakeven/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "breakeven.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testSnapshot(expenses int64) core.Snapshot {
	now := time.Date(2025, 3, 10, 20, 0, 0, 0, core.Manila)
	return core.FinalizeSnapshot("drv-1", core.PeriodToday, core.TodayWindow(now),
		decimal.NewFromInt(expenses), decimal.NewFromInt(650), decimal.NewFromInt(150),
		4, core.RevenueBreakdown{}, now)
}

func TestExpenseInputLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// Missing row reads as empty, not as an error.
	value, touched, err := repo.ReadInput(ctx, "drv-1", core.PeriodToday)
	if err != nil {
		t.Fatalf("ReadInput() on empty table: %v", err)
	}
	if value != "" || !touched.IsZero() {
		t.Errorf("ReadInput() on empty table = %q/%v, want empty", value, touched)
	}

	if err := repo.WriteInput(ctx, "drv-1", core.PeriodToday, "500", now); err != nil {
		t.Fatalf("WriteInput() error: %v", err)
	}
	value, touched, err = repo.ReadInput(ctx, "drv-1", core.PeriodToday)
	if err != nil {
		t.Fatalf("ReadInput() error: %v", err)
	}
	if value != "500" {
		t.Errorf("value = %q, want 500", value)
	}
	if !touched.Equal(now) {
		t.Errorf("touched_at = %v, want %v", touched, now)
	}

	// Touch updates the timestamp, not the value.
	later := now.Add(time.Hour)
	if err := repo.TouchInput(ctx, "drv-1", core.PeriodToday, later); err != nil {
		t.Fatalf("TouchInput() error: %v", err)
	}
	value, touched, _ = repo.ReadInput(ctx, "drv-1", core.PeriodToday)
	if value != "500" || !touched.Equal(later) {
		t.Errorf("after touch: value = %q, touched = %v", value, touched)
	}

	// Rows are keyed per period: the week slot is independent.
	if err := repo.WriteInput(ctx, "drv-1", core.PeriodWeek, "200", now); err != nil {
		t.Fatalf("WriteInput(week) error: %v", err)
	}
	if err := repo.ClearInput(ctx, "drv-1", core.PeriodToday); err != nil {
		t.Fatalf("ClearInput() error: %v", err)
	}
	value, _, _ = repo.ReadInput(ctx, "drv-1", core.PeriodToday)
	if value != "" {
		t.Errorf("today value after clear = %q, want empty", value)
	}
	value, _, _ = repo.ReadInput(ctx, "drv-1", core.PeriodWeek)
	if value != "200" {
		t.Errorf("week value = %q, want 200", value)
	}
}

func TestEnqueueSnapshotIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.EnqueueSnapshot(ctx, testSnapshot(400))
	if err != nil {
		t.Fatalf("EnqueueSnapshot() error: %v", err)
	}

	// Same bucket, different expenses: must overwrite, not duplicate.
	second, err := repo.EnqueueSnapshot(ctx, testSnapshot(900))
	if err != nil {
		t.Fatalf("EnqueueSnapshot() second call error: %v", err)
	}
	if first != second {
		t.Errorf("queue row id changed on re-upsert: %s vs %s", first, second)
	}

	pending, err := repo.PendingSnapshots(ctx, 10)
	if err != nil {
		t.Fatalf("PendingSnapshots() error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending rows, want 1", len(pending))
	}
	if !pending[0].Snapshot.Expenses.Equal(decimal.NewFromInt(900)) {
		t.Errorf("stored expenses = %s, want the second call's 900", pending[0].Snapshot.Expenses)
	}
}

func TestSnapshotQueueSyncFlow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.EnqueueSnapshot(ctx, testSnapshot(400))
	if err != nil {
		t.Fatalf("EnqueueSnapshot() error: %v", err)
	}

	queued, err := repo.GetQueuedSnapshot(ctx, id)
	if err != nil {
		t.Fatalf("GetQueuedSnapshot() error: %v", err)
	}
	if queued.Snapshot.DriverID != "drv-1" || queued.Attempts != 0 {
		t.Errorf("queued = %+v", queued)
	}

	if err := repo.MarkSnapshotFailed(ctx, id); err != nil {
		t.Fatalf("MarkSnapshotFailed() error: %v", err)
	}
	queued, _ = repo.GetQueuedSnapshot(ctx, id)
	if queued.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", queued.Attempts)
	}

	if err := repo.MarkSnapshotSynced(ctx, id, time.Now()); err != nil {
		t.Fatalf("MarkSnapshotSynced() error: %v", err)
	}
	pending, err := repo.PendingSnapshots(ctx, 10)
	if err != nil {
		t.Fatalf("PendingSnapshots() error: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending rows after sync, want 0", len(pending))
	}

	// Re-upserting the bucket makes it pending again.
	if _, err := repo.EnqueueSnapshot(ctx, testSnapshot(450)); err != nil {
		t.Fatalf("EnqueueSnapshot() after sync error: %v", err)
	}
	pending, _ = repo.PendingSnapshots(ctx, 10)
	if len(pending) != 1 {
		t.Errorf("got %d pending rows after re-upsert, want 1", len(pending))
	}
}
