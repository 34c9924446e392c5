package api

import (
	"time"

	"github.com/shopspring/decimal"

	"breakeven/internal/core"
)

// Wire envelopes for the marketplace backend. Every endpoint wraps its
// payload in {success, data}; a response with success=false is treated the
// same as a transport failure.

type summaryEnvelope struct {
	Success bool        `json:"success"`
	Data    summaryData `json:"data"`
}

type summaryData struct {
	DateStart      *string          `json:"date_start"`
	DateEnd        *string          `json:"date_end"`
	FarePerRide    decimal.Decimal  `json:"fare_per_ride"`
	BookingsNeeded int64            `json:"bookings_needed"`
	TotalBookings  int64            `json:"total_bookings"`
	RevenuePeriod  decimal.Decimal  `json:"revenue_period"`
	Breakdown      summaryBreakdown `json:"breakdown"`
}

type summaryBreakdown struct {
	DriverShareFromStandard decimal.Decimal `json:"driver_share_from_standard"`
	DriverShareFromCustom   decimal.Decimal `json:"driver_share_from_custom"`
}

type historyEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Items []snapshotRow `json:"items"`
	} `json:"data"`
}

type snapshotRow struct {
	DriverID      string          `json:"driver_id"`
	Role          string          `json:"role"`
	PeriodType    string          `json:"period_type"`
	PeriodStart   string          `json:"period_start"`
	PeriodEnd     string          `json:"period_end"`
	Expenses      decimal.Decimal `json:"expenses"`
	RevenueDriver decimal.Decimal `json:"revenue_driver"`
	Profit        decimal.Decimal `json:"profit"`
	RidesNeeded   int64           `json:"rides_needed"`
	RidesDone     int64           `json:"rides_done"`
	BreakevenHit  bool            `json:"breakeven_hit"`
	Profitable    bool            `json:"profitable"`
	Breakdown     struct {
		StandardShare    decimal.Decimal `json:"standard_share"`
		RideHailingShare decimal.Decimal `json:"ride_hailing_share"`
	} `json:"breakdown"`
	SnapshotAt string `json:"snapshot_at"`
}

type statsEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		TotalDriverEarnings decimal.Decimal `json:"total_driver_earnings"`
		Count               int64           `json:"count"`
		PeriodFrom          string          `json:"period_from"`
		PeriodTo            string          `json:"period_to"`
	} `json:"data"`
}

type expenseCacheEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Expenses  decimal.Decimal `json:"expenses"`
		UpdatedAt string          `json:"updated_at"`
	} `json:"data"`
}

type statusEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type snapshotPayload struct {
	DriverID      string          `json:"driver_id"`
	Role          string          `json:"role"`
	PeriodType    string          `json:"period_type"`
	PeriodStart   string          `json:"period_start"`
	PeriodEnd     string          `json:"period_end"`
	Expenses      decimal.Decimal `json:"expenses"`
	RevenueDriver decimal.Decimal `json:"revenue_driver"`
	Profit        decimal.Decimal `json:"profit"`
	RidesNeeded   int64           `json:"rides_needed"`
	RidesDone     int64           `json:"rides_done"`
	BreakevenHit  bool            `json:"breakeven_hit"`
	Profitable    bool            `json:"profitable"`
	Breakdown     struct {
		StandardShare    decimal.Decimal `json:"standard_share"`
		RideHailingShare decimal.Decimal `json:"ride_hailing_share"`
	} `json:"breakdown"`
	SnapshotAt string `json:"snapshot_at"`
}

type expenseCachePayload struct {
	DriverID string          `json:"driver_id"`
	Expenses decimal.Decimal `json:"expenses"`
}

func parseISO(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func snapshotFromRow(row snapshotRow) core.Snapshot {
	snap := core.Snapshot{
		DriverID:      row.DriverID,
		Role:          row.Role,
		PeriodType:    core.PeriodKey(row.PeriodType),
		Expenses:      row.Expenses,
		RevenueDriver: row.RevenueDriver,
		Profit:        row.Profit,
		RidesNeeded:   row.RidesNeeded,
		RidesDone:     row.RidesDone,
		BreakevenHit:  row.BreakevenHit,
		Profitable:    row.Profitable,
		Breakdown: core.RevenueBreakdown{
			StandardShare:    row.Breakdown.StandardShare,
			RideHailingShare: row.Breakdown.RideHailingShare,
		},
	}
	if t, ok := parseISO(row.PeriodStart); ok {
		snap.PeriodStart = t
	}
	if t, ok := parseISO(row.PeriodEnd); ok {
		snap.PeriodEnd = t
	}
	if t, ok := parseISO(row.SnapshotAt); ok {
		snap.SnapshotAt = t
	}
	return snap
}

func rowFromSnapshot(snap core.Snapshot) snapshotPayload {
	p := snapshotPayload{
		DriverID:      snap.DriverID,
		Role:          snap.Role,
		PeriodType:    string(snap.PeriodType),
		PeriodStart:   core.Window{Start: snap.PeriodStart, End: snap.PeriodEnd}.StartISO(),
		PeriodEnd:     core.Window{Start: snap.PeriodStart, End: snap.PeriodEnd}.EndISO(),
		Expenses:      snap.Expenses,
		RevenueDriver: snap.RevenueDriver,
		Profit:        snap.Profit,
		RidesNeeded:   snap.RidesNeeded,
		RidesDone:     snap.RidesDone,
		BreakevenHit:  snap.BreakevenHit,
		Profitable:    snap.Profitable,
		SnapshotAt:    snap.SnapshotAt.UTC().Format(time.RFC3339),
	}
	p.Breakdown.StandardShare = snap.Breakdown.StandardShare
	p.Breakdown.RideHailingShare = snap.Breakdown.RideHailingShare
	return p
}
