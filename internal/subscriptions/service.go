package subscriptions

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/lumalearn/lumalearn-billing/internal/catalog"
	"github.com/lumalearn/lumalearn-billing/internal/users"
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

// Profile is the collaborator-facing view of a user's billing state.
type Profile struct {
	Username           string               `json:"username"`
	SubscriptionStatus enums.ProfileStatus  `json:"subscription_status"`
	SubscriptionEndsAt *time.Time           `json:"subscription_ends_at"`
	Subscription       *models.Subscription `json:"subscription"`
	Plan               *models.Plan         `json:"plan"`
}

// InvoicePreview summarizes the user's next invoice.
type InvoicePreview struct {
	AmountDue decimal.Decimal `json:"amount_due"`
	Currency  string          `json:"currency"`
	DueAt     *time.Time      `json:"due_at"`
}

// Service defines the subscription control surface. Every mutation calls the
// processor first and then applies an optimistic local update; the webhook
// that follows converges both sides.
type Service interface {
	Profile(ctx context.Context, username string) (*Profile, error)
	Cancel(ctx context.Context, username string) error
	Resume(ctx context.Context, username string) error
	ChangePlan(ctx context.Context, username, newPlanID string) error
	PreviewInvoice(ctx context.Context, username string) (*InvoicePreview, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo              Repository
	UserRepo          users.Repository
	CatalogRepo       catalog.Repository
	Stripe            StripeSubscriptionClient
	Outbox            outboxEmitter
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	repo        Repository
	userRepo    users.Repository
	catalogRepo catalog.Repository
	stripe      StripeSubscriptionClient
	outbox      outboxEmitter
	txRunner    txRunner
	logg        *logger.Logger
	locks       *userLocks
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.UserRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user repo required")
	}
	if params.CatalogRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "catalog repo required")
	}
	if params.Stripe == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
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
		repo:        params.Repo,
		userRepo:    params.UserRepo,
		catalogRepo: params.CatalogRepo,
		stripe:      params.Stripe,
		outbox:      params.Outbox,
		txRunner:    params.TransactionRunner,
		logg:        params.Logger,
		locks:       newUserLocks(),
	}, nil
}

// Profile returns the user's mirror fields plus the current subscription and
// its plan, or nulls if the user has never subscribed.
func (s *service) Profile(ctx context.Context, username string) (*Profile, error) {
	user, err := s.loadUser(ctx, username)
	if err != nil {
		return nil, err
	}

	profile := &Profile{
		Username:           user.Username,
		SubscriptionStatus: user.SubscriptionStatus,
		SubscriptionEndsAt: user.SubscriptionEndsAt,
	}

	sub, err := s.repo.FindCurrentForUser(ctx, user.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load current subscription")
	}
	if sub == nil {
		return profile, nil
	}
	profile.Subscription = sub

	if sub.PlanID != nil {
		plan, err := s.catalogRepo.FindByID(ctx, *sub.PlanID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
		}
		profile.Plan = plan
	}
	return profile, nil
}

// Cancel schedules the subscription to end at the period boundary and
// optimistically marks the local record canceled before the webhook confirms.
func (s *service) Cancel(ctx context.Context, username string) error {
	unlock := s.locks.lock(strings.TrimSpace(username))
	defer unlock()

	user, sub, err := s.loadEntitled(ctx, username)
	if err != nil {
		return err
	}

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	if _, err := s.stripe.Update(ctx, sub.StripeSubscriptionID, params); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeExternal, err, "cancel stripe subscription")
	}

	now := time.Now().UTC()
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub.Status = enums.SubscriptionStatusCanceled
		sub.CancelAtPeriodEnd = true
		sub.CanceledAt = &now
		sub.EndedAt = sub.CurrentPeriodEnd
		if err := repo.Update(ctx, sub); err != nil {
			return err
		}
		if err := s.userRepo.WithTx(tx).UpdateSubscriptionMirror(ctx, user.ID, enums.ProfileStatusCanceled, sub.CurrentPeriodEnd); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventSubscriptionChanged,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   sub.ID,
			Actor:         &outbox.ActorRef{UserID: user.ID},
			Data: map[string]any{
				"action":                 "cancel",
				"username":               user.Username,
				"stripe_subscription_id": sub.StripeSubscriptionID,
				"ends_at":                sub.CurrentPeriodEnd,
			},
		})
	})
}

// Resume clears a pending cancellation and optimistically restores the local
// record to active.
func (s *service) Resume(ctx context.Context, username string) error {
	unlock := s.locks.lock(strings.TrimSpace(username))
	defer unlock()

	user, err := s.loadUser(ctx, username)
	if err != nil {
		return err
	}
	sub, err := s.repo.FindCurrentForUser(ctx, user.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load current subscription")
	}
	if sub == nil || !sub.CancelAtPeriodEnd {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no cancellation to resume")
	}

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	if _, err := s.stripe.Update(ctx, sub.StripeSubscriptionID, params); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeExternal, err, "resume stripe subscription")
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub.Status = enums.SubscriptionStatusActive
		sub.CancelAtPeriodEnd = false
		sub.CanceledAt = nil
		sub.EndedAt = nil
		if err := repo.Update(ctx, sub); err != nil {
			return err
		}
		if err := s.userRepo.WithTx(tx).UpdateSubscriptionMirror(ctx, user.ID, enums.ProfileStatusActive, sub.CurrentPeriodEnd); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventSubscriptionChanged,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   sub.ID,
			Actor:         &outbox.ActorRef{UserID: user.ID},
			Data: map[string]any{
				"action":                 "resume",
				"username":               user.Username,
				"stripe_subscription_id": sub.StripeSubscriptionID,
			},
		})
	})
}

// ChangePlan swaps the subscription's line item to the new plan's price with
// proration and records the new plan locally.
func (s *service) ChangePlan(ctx context.Context, username, newPlanID string) error {
	unlock := s.locks.lock(strings.TrimSpace(username))
	defer unlock()

	newPlanID = strings.TrimSpace(newPlanID)
	if newPlanID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "new_plan_id is required")
	}

	user, sub, err := s.loadEntitled(ctx, username)
	if err != nil {
		return err
	}

	plan, err := s.catalogRepo.FindByID(ctx, newPlanID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	if plan == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	if !plan.Active {
		return pkgerrors.New(pkgerrors.CodeValidation, "plan is no longer offered")
	}
	if sub.PlanID != nil && *sub.PlanID == plan.ID {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription already on this plan")
	}

	remote, err := s.stripe.Get(ctx, sub.StripeSubscriptionID, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeExternal, err, "fetch stripe subscription")
	}
	if remote.Items == nil || len(remote.Items.Data) == 0 {
		return pkgerrors.New(pkgerrors.CodeExternal, "stripe subscription has no line items")
	}

	params := &stripe.SubscriptionParams{
		ProrationBehavior: stripe.String("create_prorations"),
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(remote.Items.Data[0].ID),
				Price: stripe.String(plan.ID),
			},
		},
	}
	if _, err := s.stripe.Update(ctx, sub.StripeSubscriptionID, params); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeExternal, err, "change stripe plan")
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub.PlanID = &plan.ID
		if err := repo.Update(ctx, sub); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventSubscriptionChanged,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   sub.ID,
			Actor:         &outbox.ActorRef{UserID: user.ID},
			Data: map[string]any{
				"action":                 "change_plan",
				"username":               user.Username,
				"stripe_subscription_id": sub.StripeSubscriptionID,
				"plan_id":                plan.ID,
			},
		})
	})
}

// PreviewInvoice asks the processor for the user's upcoming invoice, or nil
// when there is no entitled subscription to bill.
func (s *service) PreviewInvoice(ctx context.Context, username string) (*InvoicePreview, error) {
	user, err := s.loadUser(ctx, username)
	if err != nil {
		return nil, err
	}
	sub, err := s.repo.FindCurrentForUser(ctx, user.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load current subscription")
	}
	if sub == nil || !sub.Status.IsEntitled() {
		return nil, nil
	}

	params := &stripe.InvoiceCreatePreviewParams{
		Customer:     stripe.String(sub.StripeCustomerID),
		Subscription: stripe.String(sub.StripeSubscriptionID),
	}
	preview, err := s.stripe.PreviewInvoice(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeExternal, err, "preview invoice")
	}

	result := &InvoicePreview{
		AmountDue: decimal.NewFromInt(preview.AmountDue).Div(decimal.NewFromInt(100)),
		Currency:  strings.ToUpper(string(preview.Currency)),
	}
	if preview.NextPaymentAttempt > 0 {
		t := time.Unix(preview.NextPaymentAttempt, 0).UTC()
		result.DueAt = &t
	} else if sub.CurrentPeriodEnd != nil {
		result.DueAt = sub.CurrentPeriodEnd
	}
	return result, nil
}

func (s *service) loadUser(ctx context.Context, username string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "username is required")
	}
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return user, nil
}

func (s *service) loadEntitled(ctx context.Context, username string) (*models.User, *models.Subscription, error) {
	user, err := s.loadUser(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	sub, err := s.repo.FindCurrentForUser(ctx, user.ID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load current subscription")
	}
	if sub == nil || !sub.Status.IsEntitled() {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
	}
	return user, sub, nil
}
