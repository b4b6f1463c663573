package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/fatflowers/memberships/pkg/types"
)

// Charge records every off-session charge attempt, succeeded or failed.
type Charge struct {
	ID           string `gorm:"column:id;primary_key;type:uuid;index:idx_charge_user_id_id,priority:2,sort:desc" json:"id"`
	UserID       string `gorm:"column:user_id;type:varchar(64);not null;index:idx_charge_user_id_id,priority:1" json:"user_id"`
	MembershipID string `gorm:"column:membership_id;type:uuid;index" json:"membership_id"`
	// Amount is the gross amount including tax; AmountCents is what the gateway received.
	Amount      decimal.Decimal    `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	AmountCents int64              `gorm:"column:amount_cents;type:bigint;not null" json:"amount_cents"`
	Currency    string             `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	Reason      string             `gorm:"column:reason;type:varchar(64);not null" json:"reason"`
	Status      types.ChargeStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	// ProviderPaymentID is the gateway's payment intent id when one was created.
	ProviderPaymentID *string `gorm:"column:provider_payment_id;type:varchar(128);default:null" json:"provider_payment_id"`
	IdempotencyKey    string  `gorm:"column:idempotency_key;type:varchar(191);not null;index" json:"idempotency_key"`
	FailureMessage    *string `gorm:"column:failure_message;type:text;default:null" json:"failure_message"`
	// Extra stores gateway specific context such as decline codes.
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time         `json:"created_at"`
}

func (Charge) TableName() string {
	return "charge"
}

func (c *Charge) Succeeded() bool {
	return c != nil && c.Status == types.ChargeStatusSucceeded
}
