package models

import (
	"time"

	"github.com/fatflowers/memberships/pkg/types"
)

// UserMembership is a member's subscription to one plan. NextPaymentDate is the exclusive
// upper bound of the period last paid for.
type UserMembership struct {
	ID              string                 `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID          string                 `gorm:"column:user_id;type:varchar(64);not null;index:idx_user_membership_user_plan,priority:1" json:"user_id"`
	PlanID          string                 `gorm:"column:plan_id;type:uuid;not null;index:idx_user_membership_user_plan,priority:2" json:"plan_id"`
	Status          types.MembershipStatus `gorm:"column:status;type:varchar(32);not null;index:idx_user_membership_status_next,priority:1" json:"status"`
	BillingCycle    types.BillingCycle     `gorm:"column:billing_cycle;type:varchar(32);not null" json:"billing_cycle"`
	Date            time.Time              `gorm:"column:date;not null" json:"date"`
	NextPaymentDate time.Time              `gorm:"column:next_payment_date;not null;index:idx_user_membership_status_next,priority:2" json:"next_payment_date"`
	PaymentIntentID *string                `gorm:"column:payment_intent_id;type:varchar(128);default:null" json:"payment_intent_id"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

func (UserMembership) TableName() string {
	return "user_membership"
}

// Current reports whether the membership still grants its benefits at now.
func (m *UserMembership) Current(now time.Time) bool {
	if m == nil {
		return false
	}
	switch m.Status {
	case types.MembershipStatusActive:
		return true
	case types.MembershipStatusEnding, types.MembershipStatusCancelled:
		return now.Before(m.NextPaymentDate)
	}
	return false
}

// Clone returns a shallow copy with its own PaymentIntentID pointer.
func (m *UserMembership) Clone() *UserMembership {
	if m == nil {
		return nil
	}
	c := *m
	if m.PaymentIntentID != nil {
		v := *m.PaymentIntentID
		c.PaymentIntentID = &v
	}
	return &c
}
