package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumalearn/lumalearn-billing/pkg/enums"
)

// User carries the billing-owned subset of the platform user: the Stripe
// customer binding plus the denormalized subscription mirror fields. The
// mirror must be written in the same transaction as the Subscription row it
// summarizes.
type User struct {
	ID                 uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Username           string              `gorm:"column:username;not null;uniqueIndex"`
	Email              string              `gorm:"column:email;not null;uniqueIndex"`
	StripeCustomerID   *string             `gorm:"column:stripe_customer_id;uniqueIndex"`
	SubscriptionStatus enums.ProfileStatus `gorm:"column:subscription_status;type:profile_status;not null;default:'inactive'"`
	SubscriptionEndsAt *time.Time          `gorm:"column:subscription_ends_at"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
