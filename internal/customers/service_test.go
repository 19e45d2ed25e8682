package customers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/lumalearn/lumalearn-billing/internal/users"
	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
	"github.com/lumalearn/lumalearn-billing/pkg/enums"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

func TestEnsureCustomerReusesExistingBinding(t *testing.T) {
	customerID := "cus_existing"
	user := &models.User{ID: uuid.New(), Username: "ada", StripeCustomerID: &customerID}
	repo := &stubUserRepo{byID: map[uuid.UUID]*models.User{user.ID: user}}
	client := &stubCustomerClient{existing: &stripe.Customer{ID: customerID}}
	svc := newTestService(t, repo, client)

	got, err := svc.EnsureCustomer(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != customerID {
		t.Fatalf("customer id = %s, want %s", got, customerID)
	}
	if client.calls != 0 {
		t.Fatalf("existing binding must not create a new customer")
	}
}

func TestEnsureCustomerRecreatesDeletedBinding(t *testing.T) {
	customerID := "cus_deleted"
	user := &models.User{ID: uuid.New(), Username: "ada", Email: "ada@example.com", StripeCustomerID: &customerID}
	repo := &stubUserRepo{byID: map[uuid.UUID]*models.User{user.ID: user}}
	client := &stubCustomerClient{
		existing: &stripe.Customer{ID: customerID, Deleted: true},
		created:  &stripe.Customer{ID: "cus_fresh"},
	}
	svc := newTestService(t, repo, client)

	got, err := svc.EnsureCustomer(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "cus_fresh" {
		t.Fatalf("customer id = %s, want cus_fresh", got)
	}
	if repo.boundCustomerID != "cus_fresh" {
		t.Fatalf("new binding not persisted")
	}
}

func TestEnsureCustomerCreatesAndPersistsBinding(t *testing.T) {
	user := &models.User{ID: uuid.New(), Username: "ada", Email: "ada@example.com"}
	repo := &stubUserRepo{byID: map[uuid.UUID]*models.User{user.ID: user}}
	client := &stubCustomerClient{created: &stripe.Customer{ID: "cus_new"}}
	svc := newTestService(t, repo, client)

	got, err := svc.EnsureCustomer(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "cus_new" {
		t.Fatalf("customer id = %s, want cus_new", got)
	}
	if client.params == nil || *client.params.Email != user.Email {
		t.Fatalf("customer params not built from the user")
	}
	if client.params.Metadata["username"] != user.Username {
		t.Fatalf("customer must be tagged with the local username")
	}
	if client.params.Metadata["user_id"] != user.ID.String() {
		t.Fatalf("user reference missing from customer metadata")
	}
	if repo.boundCustomerID != "cus_new" || repo.boundUserID != user.ID {
		t.Fatalf("binding not persisted: %s for %s", repo.boundCustomerID, repo.boundUserID)
	}
}

func TestEnsureCustomerUnknownUserIsNotFound(t *testing.T) {
	svc := newTestService(t, &stubUserRepo{byID: map[uuid.UUID]*models.User{}}, &stubCustomerClient{})

	_, err := svc.EnsureCustomer(context.Background(), uuid.New())
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func newTestService(t *testing.T, repo users.Repository, client StripeCustomerClient) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		UserRepo: repo,
		Stripe:   client,
		Logger:   logger.New(logger.Options{ServiceName: "customers-test", Output: discard{}}),
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return svc
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type stubCustomerClient struct {
	existing *stripe.Customer
	created  *stripe.Customer
	params   *stripe.CustomerParams
	calls    int
}

func (s *stubCustomerClient) Create(_ context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	s.calls++
	s.params = params
	return s.created, nil
}

func (s *stubCustomerClient) Get(context.Context, string) (*stripe.Customer, error) {
	return s.existing, nil
}

type stubUserRepo struct {
	byID            map[uuid.UUID]*models.User
	boundUserID     uuid.UUID
	boundCustomerID string
}

func (s *stubUserRepo) WithTx(*gorm.DB) users.Repository { return s }

func (s *stubUserRepo) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return s.byID[id], nil
}

func (s *stubUserRepo) FindByUsername(context.Context, string) (*models.User, error) {
	return nil, nil
}

func (s *stubUserRepo) FindByStripeCustomerID(context.Context, string) (*models.User, error) {
	return nil, nil
}

func (s *stubUserRepo) SetStripeCustomerID(_ context.Context, userID uuid.UUID, customerID string) error {
	s.boundUserID = userID
	s.boundCustomerID = customerID
	return nil
}

func (s *stubUserRepo) UpdateSubscriptionMirror(context.Context, uuid.UUID, enums.ProfileStatus, *time.Time) error {
	return nil
}
