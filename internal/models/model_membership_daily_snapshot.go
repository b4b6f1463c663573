package models

import (
	"time"

	"github.com/fatflowers/memberships/pkg/types"
)

// MembershipDailySnapshot is a daily copy of each membership for analytics.
type MembershipDailySnapshot struct {
	ID                string                 `gorm:"column:id;type:uuid;primary_key" json:"id"`
	MembershipID      string                 `gorm:"column:membership_id;type:uuid;not null;uniqueIndex:idx_membership_snapshot_date,priority:1" json:"membership_id"`
	SnapshotDate      string                 `gorm:"column:snapshot_date;type:varchar(10);not null;uniqueIndex:idx_membership_snapshot_date,priority:2" json:"snapshot_date"`
	UserID            string                 `gorm:"column:user_id;type:varchar(64);not null" json:"user_id"`
	PlanID            string                 `gorm:"column:plan_id;type:uuid;not null" json:"plan_id"`
	Status            types.MembershipStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	BillingCycle      types.BillingCycle     `gorm:"column:billing_cycle;type:varchar(32);not null" json:"billing_cycle"`
	NextPaymentDate   time.Time              `gorm:"column:next_payment_date" json:"next_payment_date"`
	SnapshotCreatedAt time.Time              `gorm:"column:snapshot_created_at" json:"snapshot_created_at"`
}

func (MembershipDailySnapshot) TableName() string {
	return "membership_daily_snapshot"
}

// SnapshotDateLayout is the day key used by snapshots and statistics.
const SnapshotDateLayout = time.DateOnly
