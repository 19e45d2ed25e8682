package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/lumalearn/lumalearn-billing/pkg/enums"
)

// Plan captures the local metadata for a subscription plan. The primary key
// matches the Stripe price id so webhook payloads resolve without a mapping
// table. Rows are never deleted once a Subscription references them.
type Plan struct {
	ID              string                `gorm:"column:id;primaryKey"`
	Name            string                `gorm:"column:name;not null"`
	Price           decimal.Decimal       `gorm:"column:price;type:numeric(12,2);not null"`
	Currency        string                `gorm:"column:currency;not null;default:'usd'"`
	Interval        enums.BillingInterval `gorm:"column:interval;type:billing_interval;not null"`
	StripeProductID string                `gorm:"column:stripe_product_id;not null"`
	Features        pq.StringArray        `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	Active          bool                  `gorm:"column:active;not null;default:true"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
