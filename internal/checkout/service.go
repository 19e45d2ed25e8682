package checkout

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/lumalearn/lumalearn-billing/internal/catalog"
	"github.com/lumalearn/lumalearn-billing/internal/customers"
	"github.com/lumalearn/lumalearn-billing/internal/subscriptions"
	"github.com/lumalearn/lumalearn-billing/internal/users"
	"github.com/lumalearn/lumalearn-billing/pkg/config"
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

// StartInput captures the data required to open a checkout session.
type StartInput struct {
	Username   string
	PlanID     string
	SuccessURL string
	CancelURL  string
}

// StartResult is the hosted session handle returned to the caller.
type StartResult struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// Service opens hosted checkout sessions with the processor. No subscription
// state is written here; the webhook that follows a completed checkout is the
// source of truth.
type Service interface {
	Start(ctx context.Context, input StartInput) (*StartResult, error)
}

// ServiceParams groups dependencies for the checkout service.
type ServiceParams struct {
	UserRepo          users.Repository
	SubscriptionRepo  subscriptions.Repository
	Catalog           catalog.Service
	Customers         customers.Service
	Stripe            StripeCheckoutClient
	Outbox            outboxEmitter
	TransactionRunner txRunner
	Config            config.CheckoutConfig
	Logger            *logger.Logger
}

type service struct {
	userRepo  users.Repository
	subsRepo  subscriptions.Repository
	catalog   catalog.Service
	customers customers.Service
	stripe    StripeCheckoutClient
	outbox    outboxEmitter
	txRunner  txRunner
	cfg       config.CheckoutConfig
	logg      *logger.Logger
}

// NewService builds a checkout service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.UserRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user repo required")
	}
	if params.SubscriptionRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.Catalog == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "catalog service required")
	}
	if params.Customers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "customer service required")
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
		userRepo:  params.UserRepo,
		subsRepo:  params.SubscriptionRepo,
		catalog:   params.Catalog,
		customers: params.Customers,
		stripe:    params.Stripe,
		outbox:    params.Outbox,
		txRunner:  params.TransactionRunner,
		cfg:       params.Config,
		logg:      params.Logger,
	}, nil
}

// Start validates the request, refuses users who already hold an entitled
// subscription before any processor call, and opens the hosted session. The
// session carries {username, plan_id} metadata so the resulting webhook can be
// correlated without a lookup table.
func (s *service) Start(ctx context.Context, input StartInput) (*StartResult, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "username is required")
	}
	planID := strings.TrimSpace(input.PlanID)
	if planID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan_id is required")
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	current, err := s.subsRepo.FindCurrentForUser(ctx, user.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load current subscription")
	}
	if current != nil && current.Status.IsEntitled() {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadySubscribed, "user already has an active subscription")
	}

	plan, err := s.catalog.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan is no longer offered")
	}

	customerID, err := s.customers.EnsureCustomer(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	successURL := strings.TrimSpace(input.SuccessURL)
	if successURL == "" {
		successURL = s.cfg.SuccessURL
	}
	cancelURL := strings.TrimSpace(input.CancelURL)
	if cancelURL == "" {
		cancelURL = s.cfg.CancelURL
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(plan.ID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"username": user.Username,
				"plan_id":  plan.ID,
			},
		},
	}
	params.AddMetadata("username", user.Username)
	params.AddMetadata("plan_id", plan.ID)

	created, err := s.stripe.CreateSession(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeExternal, err, "create checkout session")
	}

	emitErr := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventCheckoutSessionOpened,
			AggregateType: enums.OutboxAggregateUser,
			AggregateID:   user.ID,
			Actor:         &outbox.ActorRef{UserID: user.ID},
			Data: map[string]any{
				"username":   user.Username,
				"plan_id":    plan.ID,
				"session_id": created.ID,
			},
		})
	})
	if emitErr != nil {
		// the session already exists upstream; losing the notification is
		// preferable to failing the checkout
		s.logg.Error(ctx, "queue checkout event", emitErr)
	}

	fields := map[string]any{
		"username":   user.Username,
		"plan_id":    plan.ID,
		"session_id": created.ID,
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "checkout session opened")

	return &StartResult{
		CheckoutURL: created.URL,
		SessionID:   created.ID,
	}, nil
}
