// Package api is the typed client for the marketplace backend: breakeven
// summaries, snapshot history, driver earnings stats, and the server-side
// expense cache. It never derives numbers itself; it only decodes what the
// backend returns.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"breakeven/internal/core"
)

// requestTimeout is the hard abort timeout on every remote call.
const requestTimeout = 15 * time.Second

// Booking status filters: the daily view is optimistic and counts in-flight
// bookings; aggregate views count only settled ones.
const (
	statusesLive    = "pending,completed"
	statusesSettled = "completed"
)

// ErrUnsuccessful is returned when the backend answers with success=false.
var ErrUnsuccessful = errors.New("backend reported failure")

// Client is the marketplace backend client.
type Client struct {
	baseURL    string
	token      string
	displayTZ  string
	httpClient *http.Client
}

// New creates a client for the given backend base URL.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:   baseURL,
		token:     token,
		displayTZ: "Asia/Manila",
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// HistoryOptions filters FetchHistory. ExcludeCurrent defaults to true so
// the in-progress bucket does not show up in history panels.
type HistoryOptions struct {
	Limit          int
	Offset         int
	IncludeCurrent bool
	From           time.Time
	To             time.Time
}

// FetchSummary retrieves the authoritative summary for the driver's current
// bucket. The caller passes its displayed expense total so the backend
// computes profit/deficit from the same figure the UI shows.
func (c *Client) FetchSummary(ctx context.Context, driverID string, period core.PeriodKey, expenses decimal.Decimal) (core.Summary, error) {
	if err := period.Validate(); err != nil {
		return core.Summary{}, err
	}

	query := url.Values{}
	query.Set("driver_id", driverID)
	query.Set("period", string(period))
	query.Set("expenses", expenses.String())
	query.Set("display_tz", c.displayTZ)
	query.Set("bucket_tz", c.displayTZ)
	if period == core.PeriodToday {
		query.Set("status_in", statusesLive)
	} else {
		query.Set("status_in", statusesSettled)
	}

	var out summaryEnvelope
	if err := c.get(ctx, "/breakeven/", query, &out); err != nil {
		return core.Summary{}, fmt.Errorf("fetch summary: %w", err)
	}
	if !out.Success {
		return core.Summary{}, fmt.Errorf("fetch summary: %w", ErrUnsuccessful)
	}

	summary := core.Summary{
		FarePerRide:    out.Data.FarePerRide,
		BookingsNeeded: out.Data.BookingsNeeded,
		TotalBookings:  out.Data.TotalBookings,
		RevenuePeriod:  out.Data.RevenuePeriod,
		Breakdown: core.RevenueBreakdown{
			StandardShare:    out.Data.Breakdown.DriverShareFromStandard,
			RideHailingShare: out.Data.Breakdown.DriverShareFromCustom,
		},
	}
	if out.Data.DateStart != nil && out.Data.DateEnd != nil {
		start, okStart := parseISO(*out.Data.DateStart)
		end, okEnd := parseISO(*out.Data.DateEnd)
		if okStart && okEnd {
			summary.Window = core.Window{Start: start, End: end}
			summary.HasWindow = true
		}
	}
	return summary, nil
}

// FetchHistory retrieves stored snapshots for the driver. It fails soft:
// any transport or decode failure yields an empty slice so history panels
// always render.
func (c *Client) FetchHistory(ctx context.Context, driverID string, periodType core.PeriodKey, opts HistoryOptions) []core.Snapshot {
	query := url.Values{}
	query.Set("driver_id", driverID)
	query.Set("period_type", string(periodType))
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	query.Set("exclude_current", strconv.FormatBool(!opts.IncludeCurrent))
	if !opts.From.IsZero() {
		query.Set("date_from", opts.From.UTC().Format(time.RFC3339))
	}
	if !opts.To.IsZero() {
		query.Set("date_to", opts.To.UTC().Format(time.RFC3339))
	}

	var out historyEnvelope
	if err := c.get(ctx, "/breakeven/history", query, &out); err != nil {
		slog.WarnContext(ctx, "History fetch failed, returning empty",
			"driver_id", driverID, "period_type", periodType, "error", err)
		return nil
	}
	if !out.Success {
		return nil
	}

	items := make([]core.Snapshot, 0, len(out.Data.Items))
	for _, row := range out.Data.Items {
		items = append(items, snapshotFromRow(row))
	}
	return items
}

// FetchEarningsStats retrieves settled driver earnings for a period, used
// to cross-check the summary's revenue figure.
func (c *Client) FetchEarningsStats(ctx context.Context, driverID string, period core.PeriodKey) (core.EarningsStats, error) {
	query := url.Values{}
	query.Set("driver_id", driverID)
	query.Set("period", string(period))

	var out statsEnvelope
	if err := c.get(ctx, "/drivers/earnings-stats", query, &out); err != nil {
		return core.EarningsStats{}, fmt.Errorf("fetch earnings stats: %w", err)
	}
	if !out.Success {
		return core.EarningsStats{}, fmt.Errorf("fetch earnings stats: %w", ErrUnsuccessful)
	}

	stats := core.EarningsStats{
		TotalDriverEarnings: out.Data.TotalDriverEarnings,
		Count:               out.Data.Count,
	}
	if t, ok := parseISO(out.Data.PeriodFrom); ok {
		stats.PeriodFrom = t
	}
	if t, ok := parseISO(out.Data.PeriodTo); ok {
		stats.PeriodTo = t
	}
	return stats, nil
}

// UpsertSnapshot writes a snapshot row keyed by (driver, role, period type,
// period start); re-upserting the same key overwrites in place. The same
// expenses figure is then mirrored into the server-side expense cache so the
// backend cron computes later snapshots from an identical number; that
// mirror write is best-effort.
func (c *Client) UpsertSnapshot(ctx context.Context, snap core.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}

	var out statusEnvelope
	if err := c.send(ctx, http.MethodPost, "/breakeven/history", rowFromSnapshot(snap), &out); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("upsert snapshot: %w", ErrUnsuccessful)
	}

	if err := c.SetExpenseCache(ctx, snap.DriverID, snap.Expenses); err != nil {
		slog.WarnContext(ctx, "Expense cache mirror write failed",
			"driver_id", snap.DriverID, "error", err)
	}
	return nil
}

// GetExpenseCache reads the single server-side expense cache row for the
// driver, returning the cached value and when it was last written.
func (c *Client) GetExpenseCache(ctx context.Context, driverID string) (decimal.Decimal, time.Time, error) {
	query := url.Values{}
	query.Set("driver_id", driverID)

	var out expenseCacheEnvelope
	if err := c.get(ctx, "/breakeven/expense-cache", query, &out); err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("get expense cache: %w", err)
	}
	if !out.Success {
		return decimal.Zero, time.Time{}, fmt.Errorf("get expense cache: %w", ErrUnsuccessful)
	}

	updatedAt, _ := parseISO(out.Data.UpdatedAt)
	return out.Data.Expenses, updatedAt, nil
}

// SetExpenseCache overwrites the server-side expense cache value for the
// driver. Last writer wins; only one device per driver is expected to write.
func (c *Client) SetExpenseCache(ctx context.Context, driverID string, value decimal.Decimal) error {
	payload := expenseCachePayload{DriverID: driverID, Expenses: value}

	var out statusEnvelope
	if err := c.send(ctx, http.MethodPut, "/breakeven/expense-cache", payload, &out); err != nil {
		return fmt.Errorf("set expense cache: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("set expense cache: %w", ErrUnsuccessful)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}
	return c.do(req, out)
}

func (c *Client) send(ctx context.Context, method, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("call %s: unexpected status %d", req.URL.Path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
