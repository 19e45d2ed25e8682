package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
)

// Repository handles the append-only payment ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, record *models.PaymentRecord) error
	FindByInvoiceID(ctx context.Context, invoiceID string) (*models.PaymentRecord, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.PaymentRecord, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, record *models.PaymentRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByInvoiceID(ctx context.Context, invoiceID string) (*models.PaymentRecord, error) {
	if invoiceID == "" {
		return nil, nil
	}
	var record models.PaymentRecord
	if err := r.db.WithContext(ctx).
		Where("stripe_invoice_id = ?", invoiceID).
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.PaymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.PaymentRecord
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
