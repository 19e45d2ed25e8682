package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/lumalearn/lumalearn-billing/internal/ledger"
	"github.com/lumalearn/lumalearn-billing/internal/reconciler"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

// ServiceParams groups dependencies for the webhook dispatcher.
type ServiceParams struct {
	Reconciler reconciler.Service
	Ledger     ledger.Service
	Logger     *logger.Logger
}

// Service routes verified Stripe events to the reconciler and the ledger.
// Unrecognized event types are acknowledged without any state change.
type Service struct {
	reconciler reconciler.Service
	ledger     ledger.Service
	logg       *logger.Logger
}

// NewService builds the dispatcher with the required dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		reconciler: params.Reconciler,
		ledger:     params.Ledger,
		logg:       params.Logger,
	}, nil
}

// HandleEvent dispatches one verified event. Handled reports whether the event
// type is one this subsystem acts on.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (handled bool, err error) {
	if event == nil || event.Data == nil {
		return false, pkgerrors.New(pkgerrors.CodeInvalidPayload, "stripe event data required")
	}

	ctx = s.logg.WithEventID(ctx, event.ID)

	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated:
		sub, err := decodeSubscription(event)
		if err != nil {
			return true, err
		}
		_, err = s.reconciler.SyncSubscription(ctx, sub)
		return true, err

	case stripe.EventTypeCustomerSubscriptionDeleted:
		sub, err := decodeSubscription(event)
		if err != nil {
			return true, err
		}
		return true, s.reconciler.MarkEnded(ctx, sub)

	case stripe.EventTypeCustomerSubscriptionTrialWillEnd:
		sub, err := decodeSubscription(event)
		if err != nil {
			return true, err
		}
		s.logg.Info(s.logg.WithField(ctx, "stripe_subscription_id", sub.ID), "trial ending soon")
		return true, s.reconciler.NotifyTrialEnding(ctx, sub)

	case stripe.EventTypeInvoicePaymentSucceeded:
		invoiceEvent, err := decodeInvoice(event)
		if err != nil {
			return true, err
		}
		return true, s.ledger.RecordSucceeded(ctx, invoiceEvent)

	case stripe.EventTypeInvoicePaymentFailed:
		invoiceEvent, err := decodeInvoice(event)
		if err != nil {
			return true, err
		}
		return true, s.ledger.RecordFailed(ctx, invoiceEvent)

	default:
		s.logg.Info(s.logg.WithField(ctx, "event_type", string(event.Type)), "ignoring unhandled stripe event")
		return false, nil
	}
}

func decodeSubscription(event *stripe.Event) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInvalidPayload, err, "decode subscription event")
	}
	return &sub, nil
}

func decodeInvoice(event *stripe.Event) (ledger.InvoiceEvent, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return ledger.InvoiceEvent{}, pkgerrors.Wrap(pkgerrors.CodeInvalidPayload, err, "decode invoice event")
	}
	return ledger.InvoiceEvent{
		Invoice:         &inv,
		SubscriptionID:  invoiceSubscriptionID(event),
		PaymentIntentID: invoicePaymentIntentID(event),
	}, nil
}

// invoiceSubscriptionID digs the subscription reference out of the raw event.
// Older API versions carry it at the top level, newer ones nest it under
// parent.subscription_details.
func invoiceSubscriptionID(event *stripe.Event) string {
	if id := event.GetObjectValue("subscription"); id != "" {
		return id
	}
	return event.GetObjectValue("parent", "subscription_details", "subscription")
}

func invoicePaymentIntentID(event *stripe.Event) string {
	if id := event.GetObjectValue("payment_intent"); id != "" {
		return id
	}
	return event.GetObjectValue("payments", "data", "0", "payment", "payment_intent")
}
