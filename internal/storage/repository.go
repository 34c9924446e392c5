// Package storage is the device-local sqlite layer: the persisted expense
// input per (driver, period) and the queue of finalized snapshots awaiting
// remote upsert.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"breakeven/internal/core"

	_ "modernc.org/sqlite"
)

const (
	SyncPending = "pending"
	SyncDone    = "done"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ReadInput returns the persisted expense input and its last-touched
// timestamp. A missing row is not an error: it returns empty/zero values.
func (r *SQLiteRepository) ReadInput(ctx context.Context, driverID string, period core.PeriodKey) (string, time.Time, error) {
	var value, touched string
	err := r.db.QueryRowContext(ctx,
		`SELECT value, touched_at FROM expense_input WHERE driver_id = ? AND period_key = ?`,
		driverID, string(period)).Scan(&value, &touched)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read expense input: %w", err)
	}

	touchedAt, err := time.Parse(time.RFC3339Nano, touched)
	if err != nil {
		// Corrupted timestamp: treat the row as never touched.
		return value, time.Time{}, nil
	}
	return value, touchedAt, nil
}

// WriteInput upserts the expense input for (driver, period) and stamps
// touched_at with now.
func (r *SQLiteRepository) WriteInput(ctx context.Context, driverID string, period core.PeriodKey, value string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO expense_input (driver_id, period_key, value, touched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (driver_id, period_key)
		DO UPDATE SET value = excluded.value, touched_at = excluded.touched_at`,
		driverID, string(period), value, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write expense input: %w", err)
	}
	return nil
}

// TouchInput refreshes touched_at without changing the stored value.
func (r *SQLiteRepository) TouchInput(ctx context.Context, driverID string, period core.PeriodKey, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO expense_input (driver_id, period_key, value, touched_at)
		VALUES (?, ?, '', ?)
		ON CONFLICT (driver_id, period_key)
		DO UPDATE SET touched_at = excluded.touched_at`,
		driverID, string(period), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("touch expense input: %w", err)
	}
	return nil
}

// ClearInput removes the persisted input row for (driver, period).
func (r *SQLiteRepository) ClearInput(ctx context.Context, driverID string, period core.PeriodKey) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM expense_input WHERE driver_id = ? AND period_key = ?`,
		driverID, string(period))
	if err != nil {
		return fmt.Errorf("clear expense input: %w", err)
	}
	return nil
}

// QueuedSnapshot is a locally-stored snapshot pending (or past) remote sync.
type QueuedSnapshot struct {
	ID       string
	Attempts int64
	Snapshot core.Snapshot
}

// EnqueueSnapshot upserts a snapshot into the sync queue. The upsert key is
// (driver, role, period type, period start): re-enqueueing the same bucket
// replaces the payload and resets the row to pending, so at most one queue
// row exists per bucket.
func (r *SQLiteRepository) EnqueueSnapshot(ctx context.Context, snap core.Snapshot) (string, error) {
	if err := snap.Validate(); err != nil {
		return "", fmt.Errorf("enqueue snapshot: %w", err)
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO snapshot_queue (id, driver_id, role, period_type, period_start, payload, sync_status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', 0, ?)
		ON CONFLICT (driver_id, role, period_type, period_start)
		DO UPDATE SET payload = excluded.payload, sync_status = 'pending', created_at = excluded.created_at`,
		id, snap.DriverID, snap.Role, string(snap.PeriodType),
		snap.PeriodStart.UTC().Format(time.RFC3339Nano), string(payload), now)
	if err != nil {
		return "", fmt.Errorf("enqueue snapshot: %w", err)
	}

	// On conflict the original row id survives; read it back.
	var rowID string
	err = r.db.QueryRowContext(ctx, `
		SELECT id FROM snapshot_queue
		WHERE driver_id = ? AND role = ? AND period_type = ? AND period_start = ?`,
		snap.DriverID, snap.Role, string(snap.PeriodType),
		snap.PeriodStart.UTC().Format(time.RFC3339Nano)).Scan(&rowID)
	if err != nil {
		return "", fmt.Errorf("read queued snapshot id: %w", err)
	}

	slog.InfoContext(ctx, "Snapshot queued for sync",
		"queue_id", rowID,
		"driver_id", snap.DriverID,
		"period_type", snap.PeriodType,
		"bucket_start", snap.PeriodStart)
	return rowID, nil
}

// GetQueuedSnapshot loads one queue row by id.
func (r *SQLiteRepository) GetQueuedSnapshot(ctx context.Context, id string) (QueuedSnapshot, error) {
	var (
		payload  string
		attempts int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT payload, attempts FROM snapshot_queue WHERE id = ?`, id).
		Scan(&payload, &attempts)
	if err != nil {
		return QueuedSnapshot{}, fmt.Errorf("get queued snapshot: %w", err)
	}

	var snap core.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return QueuedSnapshot{}, fmt.Errorf("unmarshal queued snapshot: %w", err)
	}
	return QueuedSnapshot{ID: id, Attempts: attempts, Snapshot: snap}, nil
}

// PendingSnapshots returns up to limit queue rows still awaiting sync,
// oldest first. This backs the worker's catch-up scan.
func (r *SQLiteRepository) PendingSnapshots(ctx context.Context, limit int) ([]QueuedSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payload, attempts FROM snapshot_queue
		WHERE sync_status = 'pending'
		ORDER BY created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending snapshots: %w", err)
	}
	defer rows.Close()

	var out []QueuedSnapshot
	for rows.Next() {
		var (
			id       string
			payload  string
			attempts int64
		)
		if err := rows.Scan(&id, &payload, &attempts); err != nil {
			return nil, fmt.Errorf("scan pending snapshot: %w", err)
		}
		var snap core.Snapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			return nil, fmt.Errorf("unmarshal pending snapshot %s: %w", id, err)
		}
		out = append(out, QueuedSnapshot{ID: id, Attempts: attempts, Snapshot: snap})
	}
	return out, rows.Err()
}

// MarkSnapshotSynced flags a queue row as pushed to the backend.
func (r *SQLiteRepository) MarkSnapshotSynced(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE snapshot_queue SET sync_status = 'done', synced_at = ? WHERE id = ?`,
		now.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark snapshot synced: %w", err)
	}
	return nil
}

// MarkSnapshotFailed bumps the attempt counter, keeping the row pending so
// the backup scan retries it.
func (r *SQLiteRepository) MarkSnapshotFailed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE snapshot_queue SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark snapshot failed: %w", err)
	}
	return nil
}
