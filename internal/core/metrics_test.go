package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestTotalExpenses(t *testing.T) {
	base := dec("1000")
	session := []decimal.Decimal{dec("200"), dec("300")}
	if got := TotalExpenses(base, session); !got.Equal(dec("1500")) {
		t.Errorf("TotalExpenses() = %s, want 1500", got)
	}
	if got := TotalExpenses(decimal.Zero, nil); !got.IsZero() {
		t.Errorf("TotalExpenses(0, nil) = %s, want 0", got)
	}
}

func TestRidesToProfit(t *testing.T) {
	tests := []struct {
		name     string
		expenses string
		revenue  string
		fare     string
		want     int64
	}{
		{
			name:     "exact breakeven still needs one ride",
			expenses: "500",
			revenue:  "500",
			fare:     "50",
			want:     1,
		},
		{
			name:     "already profitable",
			expenses: "400",
			revenue:  "600",
			fare:     "50",
			want:     0,
		},
		{
			name:     "plain deficit",
			expenses: "1000",
			revenue:  "400",
			fare:     "100",
			want:     7, // ceil(600.01/100)
		},
		{
			name:     "deficit divides evenly, epsilon pushes one more",
			expenses: "600",
			revenue:  "100",
			fare:     "100",
			want:     6, // ceil(500.01/100)
		},
		{
			name:     "zero fare clamps to one peso per ride",
			expenses: "3",
			revenue:  "0",
			fare:     "0",
			want:     4, // ceil(3.01/1)
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RidesToProfit(dec(tt.expenses), dec(tt.revenue), dec(tt.fare))
			if got != tt.want {
				t.Errorf("RidesToProfit(%s, %s, %s) = %d, want %d",
					tt.expenses, tt.revenue, tt.fare, got, tt.want)
			}
		})
	}
}

func TestRidesProgress(t *testing.T) {
	tests := []struct {
		name   string
		done   int64
		needed int64
		want   float64
	}{
		{"half way", 5, 10, 0.5},
		{"overshoot clamps", 15, 10, 1},
		{"nothing needed", 3, 0, 0},
		{"negative needed", 3, -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RidesProgress(tt.done, tt.needed); got != tt.want {
				t.Errorf("RidesProgress(%d, %d) = %v, want %v", tt.done, tt.needed, got, tt.want)
			}
		})
	}
}

func TestSafetyMarginPct(t *testing.T) {
	if got, ok := SafetyMarginPct(dec("250"), dec("1000")); !ok || !got.Equal(dec("25")) {
		t.Errorf("SafetyMarginPct(250, 1000) = %s, %v; want 25, true", got, ok)
	}
	if _, ok := SafetyMarginPct(decimal.Zero, dec("1000")); ok {
		t.Error("SafetyMarginPct at breakeven should be undefined")
	}
	if _, ok := SafetyMarginPct(dec("-10"), dec("1000")); ok {
		t.Error("SafetyMarginPct in deficit should be undefined")
	}
	if _, ok := SafetyMarginPct(dec("10"), decimal.Zero); ok {
		t.Error("SafetyMarginPct with zero expenses should be undefined")
	}
}

func TestFinalizeSnapshot(t *testing.T) {
	now := time.Date(2025, 3, 10, 20, 0, 0, 0, Manila)
	win := TodayWindow(now)

	tests := []struct {
		name         string
		expenses     string
		revenue      string
		wantProfit   string
		wantHit      bool
		wantProfitbl bool
	}{
		{"profitable", "400", "650.505", "250.51", true, true},
		{"exact breakeven", "500", "500", "0", true, false},
		{"deficit", "800", "500", "-300", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := FinalizeSnapshot("drv-1", PeriodToday, win,
				dec(tt.expenses), dec(tt.revenue), dec("50"), 4, RevenueBreakdown{}, now)

			if !snap.Profit.Equal(dec(tt.wantProfit)) {
				t.Errorf("profit = %s, want %s", snap.Profit, tt.wantProfit)
			}
			if snap.BreakevenHit != tt.wantHit {
				t.Errorf("breakevenHit = %v, want %v", snap.BreakevenHit, tt.wantHit)
			}
			if snap.Profitable != tt.wantProfitbl {
				t.Errorf("profitable = %v, want %v", snap.Profitable, tt.wantProfitbl)
			}
			// profit must always equal round(revenue - expenses, 2)
			if want := snap.RevenueDriver.Sub(snap.Expenses).Round(2); !snap.Profit.Equal(want) {
				t.Errorf("profit invariant broken: %s != %s", snap.Profit, want)
			}
			if err := snap.Validate(); err != nil {
				t.Errorf("finalized snapshot should validate: %v", err)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"500", "500", false},
		{"12,34", "12.34", false},
		{" 7.5 ", "7.5", false},
		{"-3", "", true},
		{"abc", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAmount(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q) = %v", tt.in, err)
			continue
		}
		if !got.Equal(dec(tt.want)) {
			t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
