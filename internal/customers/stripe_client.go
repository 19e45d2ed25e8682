package customers

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"

	pkgstripe "github.com/lumalearn/lumalearn-billing/pkg/stripe"
)

// StripeCustomerClient exposes the subset of Stripe operations required to
// bind users to Stripe customers.
type StripeCustomerClient interface {
	Create(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error)
	Get(ctx context.Context, id string) (*stripe.Customer, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the provided Stripe client so the customer service can
// be tested.
func NewStripeClient(api *pkgstripe.Client) StripeCustomerClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) Create(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	if params != nil {
		params.Context = ctx
	}
	return customer.New(params)
}

func (w *stripeClientWrapper) Get(ctx context.Context, id string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	return customer.Get(id, params)
}
