package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/lumalearn/lumalearn-billing/internal/subscriptions"
	"github.com/lumalearn/lumalearn-billing/internal/users"
	"github.com/lumalearn/lumalearn-billing/pkg/config"
	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
	"github.com/lumalearn/lumalearn-billing/pkg/enums"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
	"github.com/lumalearn/lumalearn-billing/pkg/outbox"
)

func TestStartOpensSessionWithCorrelationMetadata(t *testing.T) {
	user := &models.User{ID: uuid.New(), Username: "ada", Email: "ada@example.com"}
	plan := &models.Plan{ID: "price_basic", Name: "Basic", Active: true}
	stripeClient := &stubCheckoutClient{session: &stripe.CheckoutSession{
		ID:  "cs_123",
		URL: "https://checkout.stripe.com/c/cs_123",
	}}
	emitter := &recordingEmitter{}
	svc := newTestService(t, serviceStubs{
		users:    &stubUserRepo{byUsername: map[string]*models.User{"ada": user}},
		subs:     &stubSubsRepo{},
		catalog:  &stubCatalog{plan: plan},
		stripe:   stripeClient,
		emitter:  emitter,
		customer: "cus_1",
	})

	result, err := svc.Start(context.Background(), StartInput{Username: "ada", PlanID: "price_basic"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SessionID != "cs_123" || result.CheckoutURL == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	params := stripeClient.params
	if params == nil {
		t.Fatalf("session params not captured")
	}
	if params.SubscriptionData == nil {
		t.Fatalf("subscription metadata missing")
	}
	if params.SubscriptionData.Metadata["username"] != "ada" || params.SubscriptionData.Metadata["plan_id"] != "price_basic" {
		t.Fatalf("correlation metadata missing: %+v", params.SubscriptionData.Metadata)
	}
	if len(params.LineItems) != 1 || *params.LineItems[0].Price != "price_basic" {
		t.Fatalf("line item not bound to the plan price")
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.OutboxEventCheckoutSessionOpened {
		t.Fatalf("expected checkout opened outbox event")
	}
}

func TestStartRefusesEntitledUserBeforeProcessorCall(t *testing.T) {
	user := &models.User{ID: uuid.New(), Username: "ada"}
	end := time.Now().Add(14 * 24 * time.Hour)
	current := &models.Subscription{
		UserID:           user.ID,
		Status:           enums.SubscriptionStatusTrialing,
		CurrentPeriodEnd: &end,
	}
	stripeClient := &stubCheckoutClient{}
	svc := newTestService(t, serviceStubs{
		users:    &stubUserRepo{byUsername: map[string]*models.User{"ada": user}},
		subs:     &stubSubsRepo{current: current},
		catalog:  &stubCatalog{},
		stripe:   stripeClient,
		emitter:  &recordingEmitter{},
		customer: "cus_1",
	})

	_, err := svc.Start(context.Background(), StartInput{Username: "ada", PlanID: "price_basic"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeAlreadySubscribed) {
		t.Fatalf("expected already subscribed error, got %v", err)
	}
	if stripeClient.calls != 0 {
		t.Fatalf("processor must not be contacted for an entitled user")
	}
}

func TestStartRejectsUnknownUser(t *testing.T) {
	svc := newTestService(t, serviceStubs{
		users:    &stubUserRepo{},
		subs:     &stubSubsRepo{},
		catalog:  &stubCatalog{},
		stripe:   &stubCheckoutClient{},
		emitter:  &recordingEmitter{},
		customer: "cus_1",
	})

	_, err := svc.Start(context.Background(), StartInput{Username: "ghost", PlanID: "price_basic"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStartRejectsRetiredPlan(t *testing.T) {
	user := &models.User{ID: uuid.New(), Username: "ada"}
	svc := newTestService(t, serviceStubs{
		users:    &stubUserRepo{byUsername: map[string]*models.User{"ada": user}},
		subs:     &stubSubsRepo{},
		catalog:  &stubCatalog{plan: &models.Plan{ID: "price_old", Active: false}},
		stripe:   &stubCheckoutClient{},
		emitter:  &recordingEmitter{},
		customer: "cus_1",
	})

	_, err := svc.Start(context.Background(), StartInput{Username: "ada", PlanID: "price_old"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type serviceStubs struct {
	users    users.Repository
	subs     subscriptions.Repository
	catalog  *stubCatalog
	stripe   StripeCheckoutClient
	emitter  outboxEmitter
	customer string
}

func newTestService(t *testing.T, stubs serviceStubs) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		UserRepo:          stubs.users,
		SubscriptionRepo:  stubs.subs,
		Catalog:           stubs.catalog,
		Customers:         &stubCustomers{id: stubs.customer},
		Stripe:            stubs.stripe,
		Outbox:            stubs.emitter,
		TransactionRunner: &stubTxRunner{},
		Config: config.CheckoutConfig{
			SuccessURL: "https://app.lumalearn.io/billing/success",
			CancelURL:  "https://app.lumalearn.io/billing/cancel",
		},
		Logger: logger.New(logger.Options{ServiceName: "checkout-test", Output: discard{}}),
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return svc
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type stubTxRunner struct{}

func (s *stubTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type recordingEmitter struct {
	events []outbox.DomainEvent
}

func (r *recordingEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

type stubCheckoutClient struct {
	session *stripe.CheckoutSession
	params  *stripe.CheckoutSessionParams
	calls   int
}

func (s *stubCheckoutClient) CreateSession(_ context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.calls++
	s.params = params
	return s.session, nil
}

type stubCatalog struct {
	plan *models.Plan
}

func (s *stubCatalog) List(context.Context) ([]models.Plan, error) { return nil, nil }

func (s *stubCatalog) Get(_ context.Context, id string) (*models.Plan, error) {
	if s.plan != nil && s.plan.ID == id {
		return s.plan, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
}

func (s *stubCatalog) SyncFromStripe(context.Context) (int, error) { return 0, nil }

type stubCustomers struct {
	id string
}

func (s *stubCustomers) EnsureCustomer(context.Context, uuid.UUID) (string, error) {
	return s.id, nil
}

type stubUserRepo struct {
	byUsername map[string]*models.User
}

func (s *stubUserRepo) WithTx(*gorm.DB) users.Repository { return s }

func (s *stubUserRepo) FindByID(context.Context, uuid.UUID) (*models.User, error) { return nil, nil }

func (s *stubUserRepo) FindByUsername(_ context.Context, username string) (*models.User, error) {
	return s.byUsername[username], nil
}

func (s *stubUserRepo) FindByStripeCustomerID(context.Context, string) (*models.User, error) {
	return nil, nil
}

func (s *stubUserRepo) SetStripeCustomerID(context.Context, uuid.UUID, string) error { return nil }

func (s *stubUserRepo) UpdateSubscriptionMirror(context.Context, uuid.UUID, enums.ProfileStatus, *time.Time) error {
	return nil
}

type stubSubsRepo struct {
	current *models.Subscription
}

func (s *stubSubsRepo) WithTx(*gorm.DB) subscriptions.Repository { return s }

func (s *stubSubsRepo) Create(context.Context, *models.Subscription) error { return nil }

func (s *stubSubsRepo) Update(context.Context, *models.Subscription) error { return nil }

func (s *stubSubsRepo) FindByStripeID(context.Context, string) (*models.Subscription, error) {
	return nil, nil
}

func (s *stubSubsRepo) FindCurrentForUser(context.Context, uuid.UUID) (*models.Subscription, error) {
	return s.current, nil
}

func (s *stubSubsRepo) ListForUser(context.Context, uuid.UUID) ([]models.Subscription, error) {
	return nil, nil
}

func (s *stubSubsRepo) ListStale(context.Context, int, time.Duration) ([]models.Subscription, error) {
	return nil, nil
}
