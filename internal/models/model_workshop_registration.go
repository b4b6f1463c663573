package models

import "time"

// WorkshopRegistration is read only to count passed orientations.
type WorkshopRegistration struct {
	ID           string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID       string    `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	WorkshopType string    `gorm:"column:workshop_type;type:varchar(64);not null" json:"workshop_type"`
	Passed       bool      `gorm:"column:passed;not null;default:false" json:"passed"`
	CreatedAt    time.Time `json:"created_at"`
}

func (WorkshopRegistration) TableName() string {
	return "workshop_registration"
}
