package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
	"github.com/lumalearn/lumalearn-billing/pkg/enums"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

// Service defines the plan catalog surface.
type Service interface {
	List(ctx context.Context) ([]models.Plan, error)
	Get(ctx context.Context, id string) (*models.Plan, error)
	SyncFromStripe(ctx context.Context) (int, error)
}

// ServiceParams groups dependencies for the catalog service.
type ServiceParams struct {
	Repo   Repository
	Stripe StripePriceClient
	Logger *logger.Logger
}

type service struct {
	repo   Repository
	stripe StripePriceClient
	logg   *logger.Logger
}

// NewService builds a catalog service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("catalog repo required")
	}
	if params.Stripe == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:   params.Repo,
		stripe: params.Stripe,
		logg:   params.Logger,
	}, nil
}

// List returns the plans currently offered.
func (s *service) List(ctx context.Context) ([]models.Plan, error) {
	plans, err := s.repo.List(ctx, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list plans")
	}
	return plans, nil
}

// Get returns a single plan by its price id.
func (s *service) Get(ctx context.Context, id string) (*models.Plan, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	return plan, nil
}

// SyncFromStripe pulls the active recurring prices from Stripe and upserts the
// local catalog. Prices that disappeared upstream are deactivated, never
// deleted, because subscriptions may still reference them.
func (s *service) SyncFromStripe(ctx context.Context) (int, error) {
	prices, err := s.stripe.ListActiveRecurring(ctx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeExternal, err, "list stripe prices")
	}

	seen := map[string]bool{}
	synced := 0
	for _, p := range prices {
		plan, err := planFromPrice(p)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "price_id", p.ID), err.Error())
			continue
		}
		if err := s.repo.Upsert(ctx, plan); err != nil {
			return synced, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "upsert plan")
		}
		seen[plan.ID] = true
		synced++
	}

	existing, err := s.repo.List(ctx, true)
	if err != nil {
		return synced, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list local plans")
	}
	for _, plan := range existing {
		if seen[plan.ID] {
			continue
		}
		if err := s.repo.Deactivate(ctx, plan.ID); err != nil {
			return synced, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deactivate plan")
		}
	}

	s.logg.Info(s.logg.WithField(ctx, "plans_synced", synced), "plan catalog synced")
	return synced, nil
}

func planFromPrice(p *stripe.Price) (*models.Plan, error) {
	if p == nil || p.ID == "" {
		return nil, fmt.Errorf("price missing id")
	}
	if p.Recurring == nil {
		return nil, fmt.Errorf("price %s is not recurring", p.ID)
	}
	interval, err := enums.ParseBillingInterval(string(p.Recurring.Interval))
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", p.ID, err)
	}

	name := p.Nickname
	productID := ""
	var features []string
	if p.Product != nil {
		productID = p.Product.ID
		if name == "" {
			name = p.Product.Name
		}
		for _, f := range p.Product.MarketingFeatures {
			if f != nil && f.Name != "" {
				features = append(features, f.Name)
			}
		}
	}
	if name == "" {
		name = p.ID
	}

	return &models.Plan{
		ID:              p.ID,
		Name:            name,
		Price:           decimal.NewFromInt(p.UnitAmount).Div(decimal.NewFromInt(100)),
		Currency:        string(p.Currency),
		Interval:        interval,
		StripeProductID: productID,
		Features:        pq.StringArray(features),
		Active:          true,
	}, nil
}
