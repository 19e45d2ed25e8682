package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
	"github.com/lumalearn/lumalearn-billing/pkg/enums"
)

// Repository handles subscription persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, subscription *models.Subscription) error
	Update(ctx context.Context, subscription *models.Subscription) error
	FindByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	FindCurrentForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	ListStale(ctx context.Context, limit int, staleAfter time.Duration) ([]models.Subscription, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) Update(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// FindCurrentForUser returns the newest non-terminal subscription, if any.
func (r *repository) FindCurrentForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("status NOT IN (?)", []enums.SubscriptionStatus{
			enums.SubscriptionStatusCanceled,
			enums.SubscriptionStatusUnpaid,
			enums.SubscriptionStatusIncompleteExpired,
		}).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ListStale returns non-terminal subscriptions that have not been refreshed
// within staleAfter, oldest first. Webhooks normally keep rows current; this
// exists so the scheduler can repair drift after missed deliveries.
func (r *repository) ListStale(ctx context.Context, limit int, staleAfter time.Duration) ([]models.Subscription, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status NOT IN (?)", []enums.SubscriptionStatus{
			enums.SubscriptionStatusCanceled,
			enums.SubscriptionStatusUnpaid,
			enums.SubscriptionStatusIncompleteExpired,
		}).
		Where("updated_at < ?", cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
