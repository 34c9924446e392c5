// Package services ties the period math, the remote fetcher and the local
// expense cache into the reconciliation state machine, and owns the timers
// that drive it.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"breakeven/internal/api"
	"breakeven/internal/cache"
	"breakeven/internal/core"
)

// Fetcher is the slice of the backend client the reconciler drives.
// Implemented by *api.Client.
type Fetcher interface {
	FetchSummary(ctx context.Context, driverID string, period core.PeriodKey, expenses decimal.Decimal) (core.Summary, error)
	FetchHistory(ctx context.Context, driverID string, periodType core.PeriodKey, opts api.HistoryOptions) []core.Snapshot
	FetchEarningsStats(ctx context.Context, driverID string, period core.PeriodKey) (core.EarningsStats, error)
}

// ExpenseCache is the local expense cache surface the reconciler needs.
// Implemented by *expense.Cache.
type ExpenseCache interface {
	Base(ctx context.Context, driverID string, period core.PeriodKey) decimal.Decimal
	Input(ctx context.Context, driverID string, period core.PeriodKey) string
	SetInput(ctx context.Context, driverID string, period core.PeriodKey, value string)
	Touch(ctx context.Context, driverID string, period core.PeriodKey)
	ExpireIfStale(ctx context.Context, driverID string, period core.PeriodKey) bool
	PersistDaily(ctx context.Context, driverID string, total decimal.Decimal) error
	ResetDaily(ctx context.Context, driverID string)
}

// SnapshotSink receives the finalized snapshot after each successful
// reconcile. Implemented by *SnapshotService; may be nil.
type SnapshotSink interface {
	Record(ctx context.Context, snap core.Snapshot) error
}

// State is the displayable reconciliation result a front end binds to.
type State struct {
	Period      core.PeriodKey
	PeriodStart *time.Time
	PeriodEnd   *time.Time

	FarePerRide    decimal.Decimal
	BookingsNeeded int64
	TotalBookings  int64
	RevenuePeriod  decimal.Decimal
	Breakdown      core.RevenueBreakdown

	CacheBase    decimal.Decimal
	SessionItems []decimal.Decimal

	TotalExpenses   decimal.Decimal
	Profit          decimal.Decimal
	RidesToProfit   int64
	RidesProgress   float64
	SafetyMarginPct decimal.Decimal
	HasSafetyMargin bool

	// Banner holds the last failure message; empty after a successful
	// refresh. Failures never surface as anything louder.
	Banner string
}

// Options tunes reconciler behavior; zero values get defaults.
type Options struct {
	// Debounce delays the recompute after an expense add so rapid entry
	// does not stampede the backend. Zero gets the default; negative
	// recomputes synchronously.
	Debounce time.Duration

	// HistoryTTL bounds how long fetched history pages are memoized.
	HistoryTTL time.Duration

	// Clock overrides the time source, for tests.
	Clock func() time.Time
}

const (
	defaultDebounce   = 200 * time.Millisecond
	defaultHistoryTTL = 30 * time.Second
	historyCacheSize  = 32
)

// Reconciler is the state machine reconciling locally-entered expenses with
// server-computed revenue for one driver session. All mutable state,
// including the request counter, is instance-owned so multiple driver
// sessions can coexist in-process.
type Reconciler struct {
	driverID string
	fetcher  Fetcher
	expenses ExpenseCache
	sink     SnapshotSink
	clock    func() time.Time
	debounce time.Duration

	// reqSeq hands out fetch tokens; a response is applied only while its
	// token is still the most recently issued one.
	reqSeq atomic.Uint64

	mu            sync.Mutex
	state         State
	debounceTimer *time.Timer

	histCache  *cache.LRUCache[[]core.Snapshot]
	statsCache *cache.LRUCache[core.EarningsStats]
}

func NewReconciler(driverID string, fetcher Fetcher, expenses ExpenseCache, sink SnapshotSink, opts Options) *Reconciler {
	if opts.Debounce == 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = defaultHistoryTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Reconciler{
		driverID:   driverID,
		fetcher:    fetcher,
		expenses:   expenses,
		sink:       sink,
		clock:      opts.Clock,
		debounce:   opts.Debounce,
		histCache:  cache.NewLRUCache[[]core.Snapshot](historyCacheSize, opts.HistoryTTL),
		statsCache: cache.NewLRUCache[core.EarningsStats](historyCacheSize, opts.HistoryTTL),
	}
}

// Caches exposes the memoization caches for registration with a cleanup
// manager.
func (r *Reconciler) Caches() []cache.Cleaner {
	return []cache.Cleaner{r.histCache, r.statsCache}
}

// State returns a copy of the current displayable state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.state
	out.SessionItems = append([]decimal.Decimal(nil), r.state.SessionItems...)
	if r.state.PeriodStart != nil {
		t := *r.state.PeriodStart
		out.PeriodStart = &t
	}
	if r.state.PeriodEnd != nil {
		t := *r.state.PeriodEnd
		out.PeriodEnd = &t
	}
	return out
}

// SetPeriod switches the reporting period. All derived fields reset to zero
// before the new period's cache base and summary load, so a slow fetch never
// leaves the previous period's numbers on screen.
func (r *Reconciler) SetPeriod(ctx context.Context, period core.PeriodKey) error {
	if err := period.Validate(); err != nil {
		return err
	}

	r.cancelDebounce()

	r.mu.Lock()
	r.state = State{Period: period}
	r.mu.Unlock()
	r.histCache.Purge()
	r.statsCache.Purge()

	base := r.expenses.Base(ctx, r.driverID, period)
	r.mu.Lock()
	if r.state.Period == period {
		r.state.CacheBase = base
		r.recomputeDerivedLocked()
	}
	r.mu.Unlock()

	r.Refresh(ctx)
	return nil
}

// AddExpense folds a newly entered amount into the period total. Daily adds
// persist the new total to the server cache immediately and clear the
// session list; weekly/monthly adds stay session-local since aggregate
// totals are derived from daily rows, never stored directly. The recompute
// is debounced.
func (r *Reconciler) AddExpense(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return core.ErrInvalidAmount
	}

	r.mu.Lock()
	period := r.state.Period
	if period == core.PeriodToday {
		newTotal := core.TotalExpenses(r.state.CacheBase, r.state.SessionItems).Add(amount)
		r.mu.Unlock()

		if err := r.expenses.PersistDaily(ctx, r.driverID, newTotal); err != nil {
			return fmt.Errorf("persist daily expense: %w", err)
		}

		r.mu.Lock()
		if r.state.Period == core.PeriodToday {
			r.state.CacheBase = newTotal
			r.state.SessionItems = nil
			r.recomputeDerivedLocked()
		}
		r.mu.Unlock()
	} else {
		r.state.SessionItems = append(r.state.SessionItems, amount)
		r.recomputeDerivedLocked()
		r.mu.Unlock()
		r.expenses.Touch(ctx, r.driverID, period)
	}

	r.scheduleRefresh()
	return nil
}

// AddExpenseInput parses a user-entered amount, persists the raw text so it
// survives restarts, and folds the amount into the period total.
func (r *Reconciler) AddExpenseInput(ctx context.Context, text string) error {
	amount, err := core.ParseAmount(text)
	if err != nil {
		return err
	}

	r.mu.Lock()
	period := r.state.Period
	r.mu.Unlock()
	r.expenses.SetInput(ctx, r.driverID, period, text)

	return r.AddExpense(ctx, amount)
}

// PendingInput returns the persisted expense input text for the active
// period, for restoring the entry field after a restart.
func (r *Reconciler) PendingInput(ctx context.Context) string {
	r.mu.Lock()
	period := r.state.Period
	r.mu.Unlock()
	return r.expenses.Input(ctx, r.driverID, period)
}

// Tick is the 60-second live refresh. Only the daily view refreshes in the
// background; aggregate views wait for user triggers.
func (r *Reconciler) Tick(ctx context.Context) {
	r.mu.Lock()
	period := r.state.Period
	r.mu.Unlock()

	if period != core.PeriodToday {
		return
	}
	r.Refresh(ctx)
}

// CheckStale enforces the 24h TTL on the persisted expense entry. When the
// entry expired, session items are dropped with it and the display reloads.
func (r *Reconciler) CheckStale(ctx context.Context) {
	r.mu.Lock()
	period := r.state.Period
	r.mu.Unlock()
	if period == "" {
		return
	}

	if !r.expenses.ExpireIfStale(ctx, r.driverID, period) {
		return
	}

	slog.InfoContext(ctx, "Expense entry expired, reloading",
		"driver_id", r.driverID, "period", period)

	base := r.expenses.Base(ctx, r.driverID, period)
	r.mu.Lock()
	if r.state.Period == period {
		r.state.SessionItems = nil
		r.state.CacheBase = base
		r.recomputeDerivedLocked()
	}
	r.mu.Unlock()
	r.Refresh(ctx)
}

// MidnightReset fires at PH midnight. When the daily view is active the
// server cache and persisted input are zeroed and everything refetches, so
// daily figures never carry into the next day even if the app stays open
// overnight.
func (r *Reconciler) MidnightReset(ctx context.Context) {
	r.mu.Lock()
	period := r.state.Period
	r.mu.Unlock()
	if period != core.PeriodToday {
		return
	}

	slog.InfoContext(ctx, "PH midnight reset", "driver_id", r.driverID)

	r.expenses.ResetDaily(ctx, r.driverID)
	r.mu.Lock()
	if r.state.Period == core.PeriodToday {
		r.state.SessionItems = nil
		r.state.CacheBase = decimal.Zero
		r.recomputeDerivedLocked()
	}
	r.mu.Unlock()
	r.histCache.Purge()
	r.statsCache.Purge()
	r.Refresh(ctx)
}

// History returns stored snapshots for the current period type, excluding
// the in-progress bucket. Pages are memoized briefly; the underlying fetch
// fails soft so the history panel always renders.
func (r *Reconciler) History(ctx context.Context, limit, offset int) []core.Snapshot {
	r.mu.Lock()
	period := r.state.Period
	r.mu.Unlock()

	key := fmt.Sprintf("%s:%s:%d:%d", r.driverID, period, limit, offset)
	if items, ok := r.histCache.Get(key); ok {
		return items
	}

	items := r.fetcher.FetchHistory(ctx, r.driverID, period, api.HistoryOptions{
		Limit:  limit,
		Offset: offset,
	})
	r.histCache.Set(key, items)
	return items
}

// Refresh fetches the summary and earnings stats for the current period and
// applies them wholesale. Responses carry a token from reqSeq; a superseded
// response is discarded on completion, so rapid period switching can never
// display a stale period's numbers regardless of arrival order.
func (r *Reconciler) Refresh(ctx context.Context) {
	id := r.reqSeq.Add(1)

	r.mu.Lock()
	period := r.state.Period
	expenses := core.TotalExpenses(r.state.CacheBase, r.state.SessionItems)
	r.mu.Unlock()
	if period == "" {
		return
	}

	var (
		summary    core.Summary
		summaryErr error
		stats      core.EarningsStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		summary, summaryErr = r.fetcher.FetchSummary(gctx, r.driverID, period, expenses)
		return nil
	})
	g.Go(func() error {
		// Stats are a cross-check; their failure must not zero the view.
		s, err := r.fetchStats(gctx, period)
		if err != nil {
			slog.WarnContext(gctx, "Earnings stats fetch failed",
				"driver_id", r.driverID, "period", period, "error", err)
			return nil
		}
		stats = s
		return nil
	})
	g.Wait()

	// Today's fallback: the summary endpoint can lag behind settled
	// bookings; when it reports zero revenue, take the direct figure.
	if summaryErr == nil && period == core.PeriodToday &&
		summary.RevenuePeriod.IsZero() && stats.TotalDriverEarnings.IsPositive() {
		summary.RevenuePeriod = stats.TotalDriverEarnings
	}

	r.apply(ctx, id, period, summary, stats, summaryErr)
}

func (r *Reconciler) fetchStats(ctx context.Context, period core.PeriodKey) (core.EarningsStats, error) {
	key := fmt.Sprintf("%s:%s", r.driverID, period)
	if stats, ok := r.statsCache.Get(key); ok {
		return stats, nil
	}
	stats, err := r.fetcher.FetchEarningsStats(ctx, r.driverID, period)
	if err != nil {
		return core.EarningsStats{}, err
	}
	r.statsCache.Set(key, stats)
	return stats, nil
}

func (r *Reconciler) apply(ctx context.Context, id uint64, period core.PeriodKey, summary core.Summary, stats core.EarningsStats, summaryErr error) {
	r.mu.Lock()

	// Discard-stale-response: only the most recently issued request may
	// apply, whatever order responses arrive in.
	if id != r.reqSeq.Load() {
		r.mu.Unlock()
		slog.DebugContext(ctx, "Discarded superseded summary response",
			"driver_id", r.driverID, "request_id", id)
		return
	}
	if r.state.Period != period {
		r.mu.Unlock()
		return
	}

	if summaryErr != nil {
		// Hard-reset to zero rather than leaving another period's numbers
		// visible; the banner is the only error surface.
		r.state.PeriodStart = nil
		r.state.PeriodEnd = nil
		r.state.FarePerRide = decimal.Zero
		r.state.BookingsNeeded = 0
		r.state.TotalBookings = 0
		r.state.RevenuePeriod = decimal.Zero
		r.state.Breakdown = core.RevenueBreakdown{}
		r.recomputeDerivedLocked()
		r.state.Banner = summaryErr.Error()
		r.mu.Unlock()

		slog.WarnContext(ctx, "Summary refresh failed, derived fields zeroed",
			"driver_id", r.driverID, "period", period, "error", summaryErr)
		return
	}

	// Replace wholesale; no partial merge keeps stale numbers alive.
	if summary.HasWindow {
		start, end := summary.Window.Start, summary.Window.End
		r.state.PeriodStart = &start
		r.state.PeriodEnd = &end
	} else {
		r.state.PeriodStart = nil
		r.state.PeriodEnd = nil
	}
	r.state.FarePerRide = summary.FarePerRide
	r.state.BookingsNeeded = summary.BookingsNeeded
	r.state.TotalBookings = summary.TotalBookings
	r.state.RevenuePeriod = summary.RevenuePeriod

	// Aggregate views are audited against settled earnings; prefer the
	// larger settled figure when the summary lags.
	if period != core.PeriodToday && stats.TotalDriverEarnings.GreaterThan(summary.RevenuePeriod) {
		r.state.RevenuePeriod = stats.TotalDriverEarnings
	}
	r.state.Breakdown = summary.Breakdown
	r.recomputeDerivedLocked()
	r.state.Banner = ""

	snap, record := r.snapshotLocked(summary)
	r.mu.Unlock()

	if record && r.sink != nil {
		if err := r.sink.Record(ctx, snap); err != nil {
			slog.WarnContext(ctx, "Snapshot record failed",
				"driver_id", r.driverID, "period", period, "error", err)
		}
	}
}

// recomputeDerivedLocked refreshes the formula-derived fields from the
// current inputs. Callers hold r.mu.
func (r *Reconciler) recomputeDerivedLocked() {
	total := core.TotalExpenses(r.state.CacheBase, r.state.SessionItems)
	r.state.TotalExpenses = total
	r.state.Profit = core.Profit(r.state.RevenuePeriod, total)
	r.state.RidesToProfit = core.RidesToProfit(total, r.state.RevenuePeriod, r.state.FarePerRide)
	r.state.RidesProgress = core.RidesProgress(r.state.TotalBookings, r.state.BookingsNeeded)
	r.state.SafetyMarginPct, r.state.HasSafetyMargin = core.SafetyMarginPct(r.state.Profit, total)
}

func (r *Reconciler) snapshotLocked(summary core.Summary) (core.Snapshot, bool) {
	if !summary.HasWindow {
		return core.Snapshot{}, false
	}
	snap := core.FinalizeSnapshot(
		r.driverID,
		r.state.Period,
		summary.Window,
		r.state.TotalExpenses,
		r.state.RevenuePeriod,
		r.state.FarePerRide,
		r.state.TotalBookings,
		r.state.Breakdown,
		r.clock(),
	)
	return snap, true
}

// scheduleRefresh debounces a Refresh after expense entry; a new add within
// the window restarts it.
func (r *Reconciler) scheduleRefresh() {
	if r.debounce <= 0 {
		r.Refresh(context.Background())
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceTimer = time.AfterFunc(r.debounce, func() {
		r.Refresh(context.Background())
	})
}

func (r *Reconciler) cancelDebounce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
		r.debounceTimer = nil
	}
}
