package catalog

import (
	"context"
	"testing"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
	"github.com/lumalearn/lumalearn-billing/pkg/enums"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

func TestSyncFromStripeUpsertsAndDeactivates(t *testing.T) {
	repo := &stubRepo{active: []models.Plan{
		{ID: "price_retired", Name: "Retired", Active: true},
	}}
	client := &stubPriceClient{prices: []*stripe.Price{
		recurringPrice("price_basic", "Basic", 999, "month"),
		recurringPrice("price_pro", "Pro", 1999, "month"),
	}}
	svc := newTestService(t, repo, client)

	synced, err := svc.SyncFromStripe(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if synced != 2 {
		t.Fatalf("synced = %d, want 2", synced)
	}
	if len(repo.upserted) != 2 {
		t.Fatalf("expected two upserts, got %d", len(repo.upserted))
	}
	if len(repo.deactivated) != 1 || repo.deactivated[0] != "price_retired" {
		t.Fatalf("disappeared price must be deactivated, got %v", repo.deactivated)
	}
}

func TestSyncFromStripeSkipsNonRecurringPrices(t *testing.T) {
	repo := &stubRepo{}
	client := &stubPriceClient{prices: []*stripe.Price{
		{ID: "price_one_time", UnitAmount: 4999, Currency: stripe.CurrencyUSD},
		recurringPrice("price_basic", "Basic", 999, "month"),
	}}
	svc := newTestService(t, repo, client)

	synced, err := svc.SyncFromStripe(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if synced != 1 || len(repo.upserted) != 1 || repo.upserted[0].ID != "price_basic" {
		t.Fatalf("only the recurring price should sync, got %d upserts", len(repo.upserted))
	}
}

func TestPlanFromPriceMapsPriceFields(t *testing.T) {
	price := recurringPrice("price_pro", "", 1999, "year")
	price.Product = &stripe.Product{
		ID:   "prod_1",
		Name: "Pro",
		MarketingFeatures: []*stripe.ProductMarketingFeature{
			{Name: "Unlimited quizzes"},
			{Name: "Priority support"},
		},
	}

	plan, err := planFromPrice(price)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Name != "Pro" {
		t.Fatalf("name should fall back to the product name, got %q", plan.Name)
	}
	if plan.Price.String() != "19.99" {
		t.Fatalf("price not converted from minor units: %s", plan.Price)
	}
	if plan.Interval != enums.BillingIntervalYear {
		t.Fatalf("unexpected interval: %s", plan.Interval)
	}
	if plan.StripeProductID != "prod_1" || len(plan.Features) != 2 {
		t.Fatalf("product fields not mapped: %+v", plan)
	}
	if !plan.Active {
		t.Fatalf("synced plans must be active")
	}
}

func TestGetUnknownPlanIsNotFound(t *testing.T) {
	svc := newTestService(t, &stubRepo{}, &stubPriceClient{})

	_, err := svc.Get(context.Background(), "price_ghost")
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func recurringPrice(id, nickname string, amount int64, interval string) *stripe.Price {
	return &stripe.Price{
		ID:         id,
		Nickname:   nickname,
		UnitAmount: amount,
		Currency:   stripe.CurrencyUSD,
		Recurring:  &stripe.PriceRecurring{Interval: stripe.PriceRecurringInterval(interval)},
	}
}

func newTestService(t *testing.T, repo Repository, client StripePriceClient) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Stripe: client,
		Logger: logger.New(logger.Options{ServiceName: "catalog-test", Output: discard{}}),
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return svc
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type stubPriceClient struct {
	prices []*stripe.Price
}

func (s *stubPriceClient) ListActiveRecurring(context.Context) ([]*stripe.Price, error) {
	return s.prices, nil
}

type stubRepo struct {
	active      []models.Plan
	upserted    []*models.Plan
	deactivated []string
}

func (s *stubRepo) WithTx(*gorm.DB) Repository { return s }

func (s *stubRepo) Upsert(_ context.Context, plan *models.Plan) error {
	s.upserted = append(s.upserted, plan)
	return nil
}

func (s *stubRepo) FindByID(_ context.Context, id string) (*models.Plan, error) {
	for i := range s.active {
		if s.active[i].ID == id {
			return &s.active[i], nil
		}
	}
	return nil, nil
}

func (s *stubRepo) List(context.Context, bool) ([]models.Plan, error) {
	return s.active, nil
}

func (s *stubRepo) Deactivate(_ context.Context, id string) error {
	s.deactivated = append(s.deactivated, id)
	return nil
}
