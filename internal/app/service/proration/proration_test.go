package proration

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/memberships/pkg/types"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMonthly_ChargesRemainderOfPeriod(t *testing.T) {
	got := Monthly(date(2025, 1, 20), date(2025, 2, 1), dec("100"), dec("160"))

	// 60 * 12/31
	require.Equal(t, "23.23", got.StringFixed(2))
	require.True(t, got.GreaterThan(dec("23.2258")) && got.LessThan(dec("23.2259")))
}

func TestMonthly_TimeOfDayIgnored(t *testing.T) {
	a := Monthly(time.Date(2025, 1, 20, 23, 59, 0, 0, time.UTC), date(2025, 2, 1), dec("100"), dec("160"))
	b := Monthly(date(2025, 1, 20), time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC), dec("100"), dec("160"))
	require.True(t, a.Equal(b))
}

func TestCalculate_EdgeCases(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		next time.Time
		old  string
		new  string
		want string
	}{
		{"first day charges full delta", date(2025, 1, 1), date(2025, 2, 1), "100", "160", "60.00"},
		{"on boundary charges nothing", date(2025, 2, 1), date(2025, 2, 1), "100", "160", "0.00"},
		{"past boundary clamps to zero", date(2025, 2, 3), date(2025, 2, 1), "100", "160", "0.00"},
		{"before period start clamps to full", date(2024, 12, 1), date(2025, 2, 1), "100", "160", "60.00"},
		{"downgrade never negative", date(2025, 1, 20), date(2025, 2, 1), "160", "100", "0.00"},
		{"february period", date(2025, 3, 15), date(2025, 3, 28), "10", "38", "13.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Monthly(tc.now, tc.next, dec(tc.old), dec(tc.new))
			require.Equal(t, tc.want, got.StringFixed(2))
		})
	}
}

func TestCalculate_QuarterlyPeriod(t *testing.T) {
	// Period 2025-01-01..2025-04-01 is 90 days, 45 remaining.
	got := Calculate(date(2025, 2, 15), date(2025, 4, 1), types.BillingCycleQuarterly, dec("300"), dec("390"))
	require.Equal(t, "45.00", got.StringFixed(2))
}
