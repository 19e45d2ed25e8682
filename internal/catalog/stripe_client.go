package catalog

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/price"

	pkgstripe "github.com/lumalearn/lumalearn-billing/pkg/stripe"
)

// StripePriceClient exposes the subset of Stripe operations required by the
// plan catalog.
type StripePriceClient interface {
	ListActiveRecurring(ctx context.Context) ([]*stripe.Price, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the provided Stripe client so the catalog service can
// be tested.
func NewStripeClient(api *pkgstripe.Client) StripePriceClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) ListActiveRecurring(ctx context.Context) ([]*stripe.Price, error) {
	params := &stripe.PriceListParams{
		Active: stripe.Bool(true),
		Type:   stripe.String(string(stripe.PriceTypeRecurring)),
	}
	params.Context = ctx
	params.AddExpand("data.product")

	var prices []*stripe.Price
	iter := price.List(params)
	for iter.Next() {
		prices = append(prices, iter.Price())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return prices, nil
}
