package models

import (
	"slices"
	"time"

	"github.com/lib/pq"

	"github.com/fatflowers/memberships/pkg/types"
)

// AccessCard is a physical or mobile credential. Cards are created elsewhere and never deleted here.
type AccessCard struct {
	ID                 string               `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID             string               `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	Kind               types.AccessCardKind `gorm:"column:kind;type:varchar(32);not null" json:"kind"`
	Permissions        pq.StringArray       `gorm:"column:permissions;type:text[]" json:"permissions"`
	MobileCredentialID *string              `gorm:"column:mobile_credential_id;type:varchar(64);default:null" json:"mobile_credential_id"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

func (AccessCard) TableName() string {
	return "access_card"
}

func (c *AccessCard) HasPermission(id string) bool {
	return slices.Contains(c.Permissions, id)
}
