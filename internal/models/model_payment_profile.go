package models

import "time"

// PaymentProfile links a user to a stored customer and default payment method at the gateway.
// It is written by the card collection flow and only read here.
type PaymentProfile struct {
	UserID           string    `gorm:"column:user_id;type:varchar(64);primary_key" json:"user_id"`
	StripeCustomerID string    `gorm:"column:stripe_customer_id;type:varchar(64);not null" json:"stripe_customer_id"`
	PaymentMethodID  string    `gorm:"column:payment_method_id;type:varchar(64)" json:"payment_method_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (PaymentProfile) TableName() string {
	return "payment_profile"
}

// Usable reports whether off-session charges can be attempted.
func (p *PaymentProfile) Usable() bool {
	return p != nil && p.StripeCustomerID != "" && p.PaymentMethodID != ""
}
