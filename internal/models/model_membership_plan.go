package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/fatflowers/memberships/pkg/types"
)

// MembershipPlan is a sellable tier. Alternate cycle prices are optional; when absent
// the monthly price is multiplied by the number of months in the cycle.
type MembershipPlan struct {
	ID                   string              `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Title                string              `gorm:"column:title;type:varchar(128);not null" json:"title"`
	Description          string              `gorm:"column:description;type:text" json:"description"`
	MonthlyPrice         decimal.Decimal     `gorm:"column:monthly_price;type:numeric(12,2);not null" json:"monthly_price"`
	QuarterlyPrice       decimal.NullDecimal `gorm:"column:quarterly_price;type:numeric(12,2)" json:"quarterly_price"`
	SemiAnnualPrice      decimal.NullDecimal `gorm:"column:semi_annual_price;type:numeric(12,2)" json:"semi_annual_price"`
	YearlyPrice          decimal.NullDecimal `gorm:"column:yearly_price;type:numeric(12,2)" json:"yearly_price"`
	Features             pq.StringArray      `gorm:"column:features;type:text[]" json:"features"`
	NeedsAdminPermission bool                `gorm:"column:needs_admin_permission;not null;default:false" json:"needs_admin_permission"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

func (MembershipPlan) TableName() string {
	return "membership_plan"
}

// PriceFor returns the price of one period of the given cycle.
func (p *MembershipPlan) PriceFor(cycle types.BillingCycle) decimal.Decimal {
	var alt decimal.NullDecimal
	switch cycle {
	case types.BillingCycleQuarterly:
		alt = p.QuarterlyPrice
	case types.BillingCycleSemiAnnual:
		alt = p.SemiAnnualPrice
	case types.BillingCycleYearly:
		alt = p.YearlyPrice
	}
	if alt.Valid {
		return alt.Decimal
	}
	months := cycle.Months()
	if months == 0 {
		months = 1
	}
	return p.MonthlyPrice.Mul(decimal.NewFromInt(int64(months)))
}

// RoleTier is the role level a member of this plan is entitled to.
func (p *MembershipPlan) RoleTier(user *User) int {
	if p.NeedsAdminPermission && user != nil && user.EligibleForAdminPlans() {
		return types.RoleLevelAdminPlans
	}
	return types.RoleLevelMember
}
