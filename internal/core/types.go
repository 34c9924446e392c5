package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RoleDriver is the only role the reconciliation engine writes snapshots
// for today; the column exists so owner/operator rollups can share the
// same table.
const RoleDriver = "driver"

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrEmptyDriverID = errors.New("empty driver id")
)

// RevenueBreakdown splits driver revenue by source: scheduled tours
// ("standard") vs on-demand ride-hailing bookings.
type RevenueBreakdown struct {
	StandardShare    decimal.Decimal
	RideHailingShare decimal.Decimal
}

// Summary is the server-computed view of the current bucket. It is always
// refetched on demand and never cached beyond the current reconcile pass.
type Summary struct {
	Window         Window
	HasWindow      bool
	FarePerRide    decimal.Decimal
	BookingsNeeded int64
	TotalBookings  int64
	RevenuePeriod  decimal.Decimal
	Breakdown      RevenueBreakdown
}

// Snapshot is a point-in-time record of computed breakeven metrics for one
// bucket. At most one exists per (DriverID, Role, PeriodType, PeriodStart);
// re-upserting overwrites in place.
type Snapshot struct {
	DriverID      string
	Role          string
	PeriodType    PeriodKey
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Expenses      decimal.Decimal
	RevenueDriver decimal.Decimal
	Profit        decimal.Decimal
	RidesNeeded   int64
	RidesDone     int64
	BreakevenHit  bool
	Profitable    bool
	Breakdown     RevenueBreakdown
	SnapshotAt    time.Time
}

func (s Snapshot) Validate() error {
	if strings.TrimSpace(s.DriverID) == "" {
		return ErrEmptyDriverID
	}
	if err := s.PeriodType.Validate(); err != nil {
		return err
	}
	if s.Expenses.IsNegative() {
		return ErrInvalidAmount
	}
	if !s.PeriodStart.Before(s.PeriodEnd) {
		return errors.New("period start must precede period end")
	}
	return nil
}

// EarningsStats is the settled-earnings cross-check for a period, fetched
// from the driver earnings-stats endpoint.
type EarningsStats struct {
	TotalDriverEarnings decimal.Decimal
	Count               int64
	PeriodFrom          time.Time
	PeriodTo            time.Time
}

// ParseAmount converts user expense input to a non-negative decimal.
// Comma decimal separators are accepted; negative and unparsable input is
// rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}
