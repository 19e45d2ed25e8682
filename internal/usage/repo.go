package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
)

// Repository handles feature usage persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, record *models.FeatureUsage) error
	Find(ctx context.Context, userID uuid.UUID, feature string) (*models.FeatureUsage, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.FeatureUsage, error)
	Reset(ctx context.Context, id uuid.UUID, at time.Time) error
	IncrementIfAllowed(ctx context.Context, userID uuid.UUID, feature string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a usage repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Upsert(ctx context.Context, record *models.FeatureUsage) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "feature"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"subscription_id", "usage_limit", "reset_period", "updated_at",
			}),
		}).
		Create(record).Error
}

func (r *repository) Find(ctx context.Context, userID uuid.UUID, feature string) (*models.FeatureUsage, error) {
	var record models.FeatureUsage
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND feature = ?", userID, feature).
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.FeatureUsage, error) {
	var records []models.FeatureUsage
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("feature ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) Reset(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.FeatureUsage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"usage_count":   0,
			"last_reset_at": at,
		}).Error
}

// IncrementIfAllowed performs a single conditional UPDATE so two concurrent
// increments against a tight limit cannot both slip through.
func (r *repository) IncrementIfAllowed(ctx context.Context, userID uuid.UUID, feature string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.FeatureUsage{}).
		Where("user_id = ? AND feature = ?", userID, feature).
		Where("usage_limit IS NULL OR usage_count < usage_limit").
		Updates(map[string]any{
			"usage_count": gorm.Expr("usage_count + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
