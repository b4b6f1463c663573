// Package proration prices the remainder of a billing period when a member moves to a
// more expensive plan mid-cycle.
package proration

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/memberships/pkg/types"
)

const day = 24 * time.Hour

// Calculate returns (newPrice - oldPrice) * remaining / total for the period ending at
// nextPaymentDate. The period starts one billing cycle before nextPaymentDate and both
// spans are counted in whole days. The result is not rounded; round at the point of charge.
// A non-positive price delta yields zero.
func Calculate(now, nextPaymentDate time.Time, cycle types.BillingCycle, oldPrice, newPrice decimal.Decimal) decimal.Decimal {
	delta := newPrice.Sub(oldPrice)
	if !delta.IsPositive() {
		return decimal.Zero
	}
	if !cycle.Valid() {
		cycle = types.BillingCycleMonthly
	}
	end := truncateDay(nextPaymentDate)
	start := cycle.AddPeriods(end, -1)
	today := truncateDay(now)

	total := daysBetween(start, end)
	if total <= 0 {
		return decimal.Zero
	}
	remaining := min(max(daysBetween(today, end), 0), total)

	return delta.Mul(decimal.NewFromInt(remaining)).Div(decimal.NewFromInt(total))
}

// Monthly is Calculate for a one month period.
func Monthly(now, nextPaymentDate time.Time, oldPrice, newPrice decimal.Decimal) decimal.Decimal {
	return Calculate(now, nextPaymentDate, types.BillingCycleMonthly, oldPrice, newPrice)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days, so a DST shift does not lose a day.
func daysBetween(a, b time.Time) int64 {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int64(ub.Sub(ua) / day)
}
