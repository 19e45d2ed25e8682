package customers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/lumalearn/lumalearn-billing/internal/users"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

// Service binds platform users to Stripe customers.
type Service interface {
	EnsureCustomer(ctx context.Context, userID uuid.UUID) (string, error)
}

// ServiceParams groups dependencies for the customer service.
type ServiceParams struct {
	UserRepo users.Repository
	Stripe   StripeCustomerClient
	Logger   *logger.Logger
}

type service struct {
	userRepo users.Repository
	stripe   StripeCustomerClient
	logg     *logger.Logger
}

// NewService builds a customer service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.UserRepo == nil {
		return nil, fmt.Errorf("user repo required")
	}
	if params.Stripe == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		userRepo: params.UserRepo,
		stripe:   params.Stripe,
		logg:     params.Logger,
	}, nil
}

// EnsureCustomer returns the Stripe customer id bound to the user, creating
// the customer on first use. An existing binding is verified upstream; a
// customer that was deleted on the Stripe side falls through to creation
// instead of failing the checkout. The binding is written before any checkout
// so a retried call reuses the same customer instead of minting duplicates.
func (s *service) EnsureCustomer(ctx context.Context, userID uuid.UUID) (string, error) {
	if userID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}
	if user == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		existing, err := s.stripe.Get(ctx, *user.StripeCustomerID)
		if err == nil && existing != nil && !existing.Deleted {
			return *user.StripeCustomerID, nil
		}
		fields := map[string]any{
			"user_id":            user.ID.String(),
			"stripe_customer_id": *user.StripeCustomerID,
		}
		s.logg.Warn(s.logg.WithFields(ctx, fields), "stored stripe customer unavailable, recreating")
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.Username),
	}
	params.AddMetadata("username", user.Username)
	params.AddMetadata("user_id", user.ID.String())

	created, err := s.stripe.Create(ctx, params)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeExternal, err, "create stripe customer")
	}

	if err := s.userRepo.SetStripeCustomerID(ctx, user.ID, created.ID); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist customer binding")
	}

	fields := map[string]any{
		"user_id":            user.ID.String(),
		"stripe_customer_id": created.ID,
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "stripe customer created")
	return created.ID, nil
}
