package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ridesEpsilon keeps a break-even-exact deficit from rounding down to zero
// rides: at profit == 0 the driver is at breakeven, not yet profitable.
var ridesEpsilon = decimal.NewFromFloat(0.01)

// TotalExpenses is the displayed expense figure: the persisted cache base
// plus any session-entered amounts not yet folded in.
func TotalExpenses(base decimal.Decimal, session []decimal.Decimal) decimal.Decimal {
	total := base
	for _, item := range session {
		total = total.Add(item)
	}
	return total
}

// Profit is period revenue minus period expenses, rounded to 2 decimals.
func Profit(revenue, expenses decimal.Decimal) decimal.Decimal {
	return revenue.Sub(expenses).Round(2)
}

// RidesToProfit returns how many more rides at farePerRide are needed to
// move past breakeven. Zero only when already profitable (profit > 0); an
// exact breakeven still needs one ride.
func RidesToProfit(expenses, revenue, farePerRide decimal.Decimal) int64 {
	if revenue.GreaterThan(expenses) {
		return 0
	}
	fare := farePerRide
	if fare.LessThan(decimal.NewFromInt(1)) {
		fare = decimal.NewFromInt(1)
	}
	deficit := expenses.Sub(revenue).Add(ridesEpsilon)
	rides := deficit.Div(fare).Ceil().IntPart()
	if rides < 1 {
		rides = 1
	}
	return rides
}

// RidesProgress is bookingsDone/bookingsNeeded clamped to [0, 1]; zero when
// no bookings are needed.
func RidesProgress(done, needed int64) float64 {
	if needed <= 0 {
		return 0
	}
	p := float64(done) / float64(needed)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// SafetyMarginPct is profit as a percentage of expenses. Defined only when
// the bucket is profitable and has nonzero expenses.
func SafetyMarginPct(profit, expenses decimal.Decimal) (decimal.Decimal, bool) {
	if !profit.IsPositive() || expenses.IsZero() {
		return decimal.Zero, false
	}
	return profit.Div(expenses).Mul(decimal.NewFromInt(100)).Round(2), true
}

// FinalizeSnapshot derives the stored snapshot for one bucket. The profit,
// breakevenHit and profitable fields are always recomputed here so stored
// rows cannot disagree with the formulas.
func FinalizeSnapshot(driverID string, period PeriodKey, win Window, expenses, revenue, farePerRide decimal.Decimal, ridesDone int64, breakdown RevenueBreakdown, now time.Time) Snapshot {
	profit := Profit(revenue, expenses)
	return Snapshot{
		DriverID:      driverID,
		Role:          RoleDriver,
		PeriodType:    period,
		PeriodStart:   win.Start,
		PeriodEnd:     win.End,
		Expenses:      expenses.Round(2),
		RevenueDriver: revenue.Round(2),
		Profit:        profit,
		RidesNeeded:   RidesToProfit(expenses, revenue, farePerRide),
		RidesDone:     ridesDone,
		BreakevenHit:  !profit.IsNegative(),
		Profitable:    profit.IsPositive(),
		Breakdown:     breakdown,
		SnapshotAt:    now.UTC(),
	}
}
