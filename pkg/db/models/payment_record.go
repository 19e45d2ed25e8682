package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumalearn/lumalearn-billing/pkg/enums"
)

// PaymentRecord is the append-only ledger row for an invoice outcome. The
// unique index on stripe_invoice_id makes redelivered webhook events safe.
type PaymentRecord struct {
	ID                    uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	SubscriptionID        *uuid.UUID          `gorm:"column:subscription_id;type:uuid"`
	StripeInvoiceID       string              `gorm:"column:stripe_invoice_id;not null;uniqueIndex:ux_payment_records_invoice_id"`
	StripePaymentIntentID *string             `gorm:"column:stripe_payment_intent_id"`
	Amount                decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency              string              `gorm:"column:currency;not null"`
	Status                enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	PaymentMethod         *string             `gorm:"column:payment_method"`
	Description           *string             `gorm:"column:description"`
	PaidAt                *time.Time          `gorm:"column:paid_at"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
}
