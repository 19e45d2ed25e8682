package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/lumalearn/lumalearn-billing/internal/subscriptions"
	"github.com/lumalearn/lumalearn-billing/internal/users"
	dbpkg "github.com/lumalearn/lumalearn-billing/pkg/db"
	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
	"github.com/lumalearn/lumalearn-billing/pkg/enums"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
	"github.com/lumalearn/lumalearn-billing/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// InvoiceEvent carries the invoice payload plus the references the event
// envelope buries under parent objects.
type InvoiceEvent struct {
	Invoice         *stripe.Invoice
	SubscriptionID  string
	PaymentIntentID string
}

// Service appends invoice outcomes to the payment ledger. The unique invoice
// index makes redelivered webhook events safe: a duplicate insert is swallowed.
type Service interface {
	RecordSucceeded(ctx context.Context, event InvoiceEvent) error
	RecordFailed(ctx context.Context, event InvoiceEvent) error
	History(ctx context.Context, userID uuid.UUID, limit int) ([]models.PaymentRecord, error)
}

// ServiceParams groups dependencies for the ledger service.
type ServiceParams struct {
	Repo              Repository
	UserRepo          users.Repository
	SubscriptionRepo  subscriptions.Repository
	Outbox            outboxEmitter
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	repo     Repository
	userRepo users.Repository
	subsRepo subscriptions.Repository
	outbox   outboxEmitter
	txRunner txRunner
	logg     *logger.Logger
}

// NewService builds a ledger service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repo required")
	}
	if params.UserRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user repo required")
	}
	if params.SubscriptionRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		repo:     params.Repo,
		userRepo: params.UserRepo,
		subsRepo: params.SubscriptionRepo,
		outbox:   params.Outbox,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
	}, nil
}

// RecordSucceeded appends a succeeded payment for the invoice.
func (s *service) RecordSucceeded(ctx context.Context, event InvoiceEvent) error {
	return s.record(ctx, event, enums.PaymentStatusSucceeded)
}

// RecordFailed appends a failed payment for the invoice.
func (s *service) RecordFailed(ctx context.Context, event InvoiceEvent) error {
	return s.record(ctx, event, enums.PaymentStatusFailed)
}

func (s *service) record(ctx context.Context, event InvoiceEvent, status enums.PaymentStatus) error {
	invoice := event.Invoice
	if invoice == nil || invoice.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice payload is required")
	}

	customerID := ""
	if invoice.Customer != nil {
		customerID = invoice.Customer.ID
	}

	user, err := s.userRepo.FindByStripeCustomerID(ctx, customerID)
	if err != nil {
		return err
	}
	if user == nil {
		fields := map[string]any{
			"stripe_invoice_id":  invoice.ID,
			"stripe_customer_id": customerID,
		}
		s.logg.Warn(s.logg.WithFields(ctx, fields), "invoice event for unknown user, skipping")
		return nil
	}

	record := &models.PaymentRecord{
		UserID:          user.ID,
		StripeInvoiceID: invoice.ID,
		Amount:          amountFor(invoice, status),
		Currency:        strings.ToUpper(string(invoice.Currency)),
		Status:          status,
	}
	if event.PaymentIntentID != "" {
		record.StripePaymentIntentID = &event.PaymentIntentID
	}
	if invoice.Description != "" {
		record.Description = &invoice.Description
	}
	if status == enums.PaymentStatusSucceeded {
		record.PaidAt = paidAtFor(invoice)
	}

	if event.SubscriptionID != "" {
		sub, err := s.subsRepo.FindByStripeID(ctx, event.SubscriptionID)
		if err != nil {
			return err
		}
		if sub != nil {
			record.SubscriptionID = &sub.ID
		}
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Insert(ctx, record); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventPaymentRecorded,
			AggregateType: enums.OutboxAggregatePayment,
			AggregateID:   record.ID,
			Data: map[string]any{
				"user_id":           record.UserID.String(),
				"stripe_invoice_id": record.StripeInvoiceID,
				"amount":            record.Amount,
				"currency":          record.Currency,
				"status":            record.Status,
			},
		})
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_payment_records_invoice_id") {
			s.logg.Info(s.logg.WithField(ctx, "stripe_invoice_id", invoice.ID),
				"duplicate invoice delivery, ledger already has it")
			return nil
		}
		return err
	}

	fields := map[string]any{
		"stripe_invoice_id": invoice.ID,
		"user_id":           user.ID.String(),
		"status":            status,
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "payment recorded")
	return nil
}

// History returns the most recent ledger rows for a user.
func (s *service) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.PaymentRecord, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.repo.ListForUser(ctx, userID, limit)
}

func amountFor(invoice *stripe.Invoice, status enums.PaymentStatus) decimal.Decimal {
	minor := invoice.AmountDue
	if status == enums.PaymentStatusSucceeded && invoice.AmountPaid > 0 {
		minor = invoice.AmountPaid
	}
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(100))
}

func paidAtFor(invoice *stripe.Invoice) *time.Time {
	if invoice.StatusTransitions != nil && invoice.StatusTransitions.PaidAt > 0 {
		t := time.Unix(invoice.StatusTransitions.PaidAt, 0).UTC()
		return &t
	}
	now := time.Now().UTC()
	return &now
}
