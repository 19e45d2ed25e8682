package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumalearn/lumalearn-billing/pkg/enums"
)

// FeatureUsage tracks per-user consumption of a metered feature. A nil
// UsageLimit means unlimited. Counters reset lazily at read time based on
// ResetPeriod rather than by a scheduler.
type FeatureUsage struct {
	ID             uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID         uuid.UUID         `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_feature_usages_user_feature,priority:1"`
	SubscriptionID *uuid.UUID        `gorm:"column:subscription_id;type:uuid"`
	Feature        string            `gorm:"column:feature;not null;uniqueIndex:ux_feature_usages_user_feature,priority:2"`
	UsageCount     int64             `gorm:"column:usage_count;not null;default:0"`
	UsageLimit     *int64            `gorm:"column:usage_limit"`
	ResetPeriod    enums.ResetPeriod `gorm:"column:reset_period;type:reset_period;not null;default:'never'"`
	LastResetAt    time.Time         `gorm:"column:last_reset_at;not null"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
