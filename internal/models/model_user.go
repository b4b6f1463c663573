package models

import (
	"time"

	"github.com/fatflowers/memberships/pkg/types"
)

// User is the privilege projection of an account: role level, admin overrides and the
// linkage to the remote access provider.
type User struct {
	ID               string                     `gorm:"column:id;type:varchar(64);primary_key" json:"id"`
	Email            string                     `gorm:"column:email;type:varchar(255)" json:"email"`
	FirstName        string                     `gorm:"column:first_name;type:varchar(128)" json:"first_name"`
	LastName         string                     `gorm:"column:last_name;type:varchar(128)" json:"last_name"`
	Phone            string                     `gorm:"column:phone;type:varchar(64)" json:"phone"`
	RoleLevel        int                        `gorm:"column:role_level;not null;default:1" json:"role_level"`
	AllowLevel4      bool                       `gorm:"column:allow_level4;not null;default:false" json:"allow_level4"`
	MembershipStatus types.UserMembershipStatus `gorm:"column:membership_status;type:varchar(32);not null;default:'active'" json:"membership_status"`
	// Remote access provider linkage and diagnostics.
	BrivoPersonID     *string    `gorm:"column:brivo_person_id;type:varchar(64);default:null" json:"brivo_person_id"`
	BrivoSyncError    *string    `gorm:"column:brivo_sync_error;type:text;default:null" json:"brivo_sync_error"`
	BrivoLastSyncedAt *time.Time `gorm:"column:brivo_last_synced_at;default:null" json:"brivo_last_synced_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) Revoked() bool {
	return u != nil && u.MembershipStatus == types.UserMembershipStatusRevoked
}

// EligibleForAdminPlans reports whether an admin cleared the user for plans needing admin permission.
func (u *User) EligibleForAdminPlans() bool {
	return u != nil && u.AllowLevel4 && u.RoleLevel >= types.RoleLevelMember
}
