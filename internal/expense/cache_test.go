package expense

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"breakeven/internal/api"
	"breakeven/internal/core"
	"breakeven/internal/storage"
)

type fakeRemote struct {
	cacheValue   decimal.Decimal
	cacheUpdated time.Time
	cacheErr     error
	history      []core.Snapshot
	setCalls     []decimal.Decimal
}

func (f *fakeRemote) GetExpenseCache(ctx context.Context, driverID string) (decimal.Decimal, time.Time, error) {
	if f.cacheErr != nil {
		return decimal.Zero, time.Time{}, f.cacheErr
	}
	return f.cacheValue, f.cacheUpdated, nil
}

func (f *fakeRemote) SetExpenseCache(ctx context.Context, driverID string, value decimal.Decimal) error {
	f.setCalls = append(f.setCalls, value)
	return nil
}

func (f *fakeRemote) FetchHistory(ctx context.Context, driverID string, periodType core.PeriodKey, opts api.HistoryOptions) []core.Snapshot {
	return f.history
}

func dailyRow(day time.Time, expenses int64) core.Snapshot {
	win := core.TodayWindow(day)
	return core.Snapshot{
		DriverID:    "drv-1",
		Role:        core.RoleDriver,
		PeriodType:  core.PeriodToday,
		PeriodStart: win.Start,
		PeriodEnd:   win.End,
		Expenses:    decimal.NewFromInt(expenses),
	}
}

func newTestCache(t *testing.T, remote Remote, now time.Time) *Cache {
	t.Helper()
	store, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewCache(store, remote).WithClock(func() time.Time { return now })
}

func TestBaseTodayPrefersLargerSource(t *testing.T) {
	now := time.Date(2025, 3, 10, 20, 0, 0, 0, core.Manila)

	tests := []struct {
		name       string
		historyVal int64
		cacheVal   int64
		want       int64
	}{
		{"cache ahead of history", 100, 150, 150},
		{"history ahead of cache", 300, 150, 300},
		{"equal sources", 200, 200, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &fakeRemote{
				cacheValue:   decimal.NewFromInt(tt.cacheVal),
				cacheUpdated: now.Add(-time.Hour),
				history:      []core.Snapshot{dailyRow(now, tt.historyVal)},
			}
			cache := newTestCache(t, remote, now)

			got := cache.Base(context.Background(), "drv-1", core.PeriodToday)
			if !got.Equal(decimal.NewFromInt(tt.want)) {
				t.Errorf("Base() = %s, want %d", got, tt.want)
			}
		})
	}
}

func TestBaseTodayIgnoresExpiredCacheValue(t *testing.T) {
	now := time.Date(2025, 3, 10, 20, 0, 0, 0, core.Manila)
	remote := &fakeRemote{
		cacheValue:   decimal.NewFromInt(500),
		cacheUpdated: now.Add(-25 * time.Hour), // past the 24h window
		history:      []core.Snapshot{dailyRow(now, 100)},
	}
	cache := newTestCache(t, remote, now)

	got := cache.Base(context.Background(), "drv-1", core.PeriodToday)
	if !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Base() = %s, want 100 (stale cache value ignored)", got)
	}
}

func TestBaseTodayFailsSoftOnCacheError(t *testing.T) {
	now := time.Date(2025, 3, 10, 20, 0, 0, 0, core.Manila)
	remote := &fakeRemote{
		cacheErr: errors.New("network unreachable"),
		history:  []core.Snapshot{dailyRow(now, 100)},
	}
	cache := newTestCache(t, remote, now)

	got := cache.Base(context.Background(), "drv-1", core.PeriodToday)
	if !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Base() = %s, want 100 from history alone", got)
	}
}

func TestBaseWeekSumsDailyRowsInWindow(t *testing.T) {
	now := time.Date(2025, 3, 12, 12, 0, 0, 0, core.Manila) // Wednesday
	remote := &fakeRemote{
		history: []core.Snapshot{
			dailyRow(time.Date(2025, 3, 10, 9, 0, 0, 0, core.Manila), 100), // Monday
			dailyRow(time.Date(2025, 3, 11, 9, 0, 0, 0, core.Manila), 250), // Tuesday
			dailyRow(time.Date(2025, 3, 9, 9, 0, 0, 0, core.Manila), 999),  // previous week
		},
	}
	cache := newTestCache(t, remote, now)

	got := cache.Base(context.Background(), "drv-1", core.PeriodWeek)
	if !got.Equal(decimal.NewFromInt(350)) {
		t.Errorf("Base(week) = %s, want 350 (rows outside the window excluded)", got)
	}
}

func TestExpireIfStale(t *testing.T) {
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, core.Manila)
	now := start
	remote := &fakeRemote{}
	cache := newTestCache(t, remote, start)
	cache.WithClock(func() time.Time { return now })
	ctx := context.Background()

	cache.SetInput(ctx, "drv-1", core.PeriodToday, "450")

	// Fresh entry: nothing happens.
	if cache.ExpireIfStale(ctx, "drv-1", core.PeriodToday) {
		t.Error("fresh entry should not expire")
	}

	// Jump past the TTL: entry expires and input clears.
	now = start.Add(25 * time.Hour)
	if !cache.ExpireIfStale(ctx, "drv-1", core.PeriodToday) {
		t.Fatal("entry past TTL should expire")
	}
	if got := cache.Input(ctx, "drv-1", core.PeriodToday); got != "" {
		t.Errorf("input after expiry = %q, want empty", got)
	}

	// The touch timestamp was reset, so a second check is a no-op.
	if cache.ExpireIfStale(ctx, "drv-1", core.PeriodToday) {
		t.Error("second check right after expiry should not fire again")
	}
}

func TestPersistDailyAndResetDaily(t *testing.T) {
	now := time.Date(2025, 3, 10, 20, 0, 0, 0, core.Manila)
	remote := &fakeRemote{}
	cache := newTestCache(t, remote, now)
	ctx := context.Background()

	if err := cache.PersistDaily(ctx, "drv-1", decimal.NewFromInt(500)); err != nil {
		t.Fatalf("PersistDaily() error: %v", err)
	}
	if len(remote.setCalls) != 1 || !remote.setCalls[0].Equal(decimal.NewFromInt(500)) {
		t.Errorf("server cache writes = %v, want [500]", remote.setCalls)
	}

	cache.SetInput(ctx, "drv-1", core.PeriodToday, "500")
	cache.ResetDaily(ctx, "drv-1")

	if len(remote.setCalls) != 2 || !remote.setCalls[1].IsZero() {
		t.Errorf("server cache writes after reset = %v, want trailing 0", remote.setCalls)
	}
	if got := cache.Input(ctx, "drv-1", core.PeriodToday); got != "" {
		t.Errorf("input after midnight reset = %q, want empty", got)
	}
}
