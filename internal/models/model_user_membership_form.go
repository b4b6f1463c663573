package models

import (
	"time"

	"github.com/fatflowers/memberships/pkg/types"
)

// UserMembershipForm is the signed agreement for a (user, plan) pair. Forms are never deleted.
type UserMembershipForm struct {
	ID           string           `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID       string           `gorm:"column:user_id;type:varchar(64);not null;index:idx_user_membership_form_user_plan,priority:1" json:"user_id"`
	PlanID       string           `gorm:"column:plan_id;type:uuid;not null;index:idx_user_membership_form_user_plan,priority:2" json:"plan_id"`
	MembershipID *string          `gorm:"column:membership_id;type:uuid;default:null" json:"membership_id"`
	Status       types.FormStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (UserMembershipForm) TableName() string {
	return "user_membership_form"
}
