// Package expense keeps the "expenses entered so far this period" figure
// alive across app restarts and enforces its freshness window. It merges two
// sources the backend maintains independently (daily history rows and the
// per-driver expense cache) with the device-local persisted input.
package expense

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"breakeven/internal/api"
	"breakeven/internal/core"
	"breakeven/internal/storage"
)

// DefaultTTL is the freshness window for cached expense values. Entries
// older than this are treated as absent.
const DefaultTTL = 24 * time.Hour

// Remote is the slice of the backend client the cache reads and resets.
// Implemented by *api.Client.
type Remote interface {
	GetExpenseCache(ctx context.Context, driverID string) (decimal.Decimal, time.Time, error)
	SetExpenseCache(ctx context.Context, driverID string, value decimal.Decimal) error
	FetchHistory(ctx context.Context, driverID string, periodType core.PeriodKey, opts api.HistoryOptions) []core.Snapshot
}

// Cache combines the sqlite-persisted expense input with the server-side
// expense sources. Every read fails soft: a broken cache yields zero, never
// an error that would block the display.
type Cache struct {
	store  *storage.SQLiteRepository
	remote Remote
	ttl    time.Duration
	clock  func() time.Time
}

func NewCache(store *storage.SQLiteRepository, remote Remote) *Cache {
	return &Cache{
		store:  store,
		remote: remote,
		ttl:    DefaultTTL,
		clock:  time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (c *Cache) WithClock(clock func() time.Time) *Cache {
	c.clock = clock
	return c
}

// Base returns the persisted expense total the display starts from.
//
// For today it is max(today's history row, server expense cache): either
// source may lag the other depending on write timing, and under-reporting
// expenses is the worse failure mode since it overstates profit. For week
// and month it is the sum of daily history rows inside the PH window;
// aggregate totals are never stored on their own.
func (c *Cache) Base(ctx context.Context, driverID string, period core.PeriodKey) decimal.Decimal {
	now := c.clock()
	win := core.WindowFor(period, now)

	if period == core.PeriodToday {
		historyVal := c.dailySum(ctx, driverID, win)

		cacheVal := decimal.Zero
		value, updatedAt, err := c.remote.GetExpenseCache(ctx, driverID)
		if err != nil {
			slog.WarnContext(ctx, "Expense cache read failed, using zero",
				"driver_id", driverID, "error", err)
		} else if updatedAt.IsZero() || now.Sub(updatedAt) <= c.ttl {
			cacheVal = value
		}

		if cacheVal.GreaterThan(historyVal) {
			return cacheVal
		}
		return historyVal
	}

	return c.dailySum(ctx, driverID, win)
}

// dailySum adds up the expenses of daily snapshot rows inside the window.
// FetchHistory already fails soft, so this does too.
func (c *Cache) dailySum(ctx context.Context, driverID string, win core.Window) decimal.Decimal {
	items := c.remote.FetchHistory(ctx, driverID, core.PeriodToday, api.HistoryOptions{
		IncludeCurrent: true,
		From:           win.Start,
		To:             win.End,
	})

	total := decimal.Zero
	for _, snap := range items {
		if win.Contains(snap.PeriodStart) {
			total = total.Add(snap.Expenses)
		}
	}
	return total
}

// Touch records that the driver just modified expenses for this period.
func (c *Cache) Touch(ctx context.Context, driverID string, period core.PeriodKey) {
	if err := c.store.TouchInput(ctx, driverID, period, c.clock()); err != nil {
		slog.WarnContext(ctx, "Expense input touch failed",
			"driver_id", driverID, "period", period, "error", err)
	}
}

// Input returns the persisted expense input text for the period, empty on
// any storage failure.
func (c *Cache) Input(ctx context.Context, driverID string, period core.PeriodKey) string {
	value, _, err := c.store.ReadInput(ctx, driverID, period)
	if err != nil {
		slog.WarnContext(ctx, "Expense input read failed",
			"driver_id", driverID, "period", period, "error", err)
		return ""
	}
	return value
}

// SetInput persists the expense input text and stamps the touch time.
func (c *Cache) SetInput(ctx context.Context, driverID string, period core.PeriodKey, value string) {
	if err := c.store.WriteInput(ctx, driverID, period, value, c.clock()); err != nil {
		slog.WarnContext(ctx, "Expense input write failed",
			"driver_id", driverID, "period", period, "error", err)
	}
}

// ExpireIfStale clears the persisted input and resets the touch timestamp
// once the entry is older than the TTL. This is a safety net independent of
// the midnight reset, covering an app backgrounded or killed across the TTL
// boundary. Returns whether the entry expired so the caller can drop its
// session items too.
func (c *Cache) ExpireIfStale(ctx context.Context, driverID string, period core.PeriodKey) bool {
	_, touched, err := c.store.ReadInput(ctx, driverID, period)
	if err != nil || touched.IsZero() {
		return false
	}
	if c.clock().Sub(touched) <= c.ttl {
		return false
	}

	if err := c.store.ClearInput(ctx, driverID, period); err != nil {
		slog.WarnContext(ctx, "Stale expense input clear failed",
			"driver_id", driverID, "period", period, "error", err)
	}
	c.Touch(ctx, driverID, period)
	slog.InfoContext(ctx, "Expired stale expense input",
		"driver_id", driverID, "period", period, "touched_at", touched)
	return true
}

// PersistDaily overwrites the server expense cache with the new daily total
// and records the touch. Daily adds persist immediately; aggregate periods
// never write the cache.
func (c *Cache) PersistDaily(ctx context.Context, driverID string, total decimal.Decimal) error {
	if err := c.remote.SetExpenseCache(ctx, driverID, total); err != nil {
		return err
	}
	c.Touch(ctx, driverID, core.PeriodToday)
	return nil
}

// ResetDaily zeroes the server cache and clears the persisted input at PH
// midnight so daily figures never carry into the next day.
func (c *Cache) ResetDaily(ctx context.Context, driverID string) {
	if err := c.remote.SetExpenseCache(ctx, driverID, decimal.Zero); err != nil {
		slog.WarnContext(ctx, "Midnight expense cache reset failed",
			"driver_id", driverID, "error", err)
	}
	if err := c.store.ClearInput(ctx, driverID, core.PeriodToday); err != nil {
		slog.WarnContext(ctx, "Midnight expense input clear failed",
			"driver_id", driverID, "error", err)
	}
}
