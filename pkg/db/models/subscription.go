package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumalearn/lumalearn-billing/pkg/enums"
)

// Subscription persists Stripe subscription state per user. Rows are upserted
// keyed on (user_id, stripe_subscription_id) and never physically deleted; a
// canceled or ended subscription is a terminal, retained record.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index;uniqueIndex:ux_subscriptions_user_stripe_id,priority:1"`
	StripeCustomerID     string                   `gorm:"column:stripe_customer_id;not null;index"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;uniqueIndex:ux_subscriptions_user_stripe_id,priority:2"`
	PlanID               *string                  `gorm:"column:plan_id"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'incomplete'"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	TrialEnd             *time.Time               `gorm:"column:trial_end"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	EndedAt              *time.Time               `gorm:"column:ended_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
