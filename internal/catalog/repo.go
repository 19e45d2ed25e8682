package catalog

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
)

// Repository handles plan persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, plan *models.Plan) error
	FindByID(ctx context.Context, id string) (*models.Plan, error)
	List(ctx context.Context, activeOnly bool) ([]models.Plan, error)
	Deactivate(ctx context.Context, id string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Upsert(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "price", "currency", "interval",
				"stripe_product_id", "features", "active", "updated_at",
			}),
		}).
		Create(plan).Error
}

func (r *repository) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	if id == "" {
		return nil, nil
	}
	var plan models.Plan
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) List(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	query := r.db.WithContext(ctx).Model(&models.Plan{})
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var plans []models.Plan
	if err := query.Order("price ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) Deactivate(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.Plan{}).
		Where("id = ?", id).
		Update("active", false).Error
}
