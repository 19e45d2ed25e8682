package reconciler

import (
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
	"github.com/lumalearn/lumalearn-billing/pkg/enums"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
)

// BuildFromStripe maps a Stripe subscription into a new canonical row.
func BuildFromStripe(stripeSub *stripe.Subscription, userID uuid.UUID, planID *string) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeExternal, "stripe subscription is nil")
	}
	status, err := mapStatus(stripeSub.Status)
	if err != nil {
		return nil, err
	}

	start, end := periodFromSubscription(stripeSub)
	sub := &models.Subscription{
		UserID:               userID,
		StripeCustomerID:     customerID(stripeSub),
		StripeSubscriptionID: stripeSub.ID,
		PlanID:               planID,
		Status:               status,
		CurrentPeriodStart:   start,
		CurrentPeriodEnd:     end,
		TrialEnd:             toTimePtr(stripeSub.TrialEnd),
		CancelAtPeriodEnd:    stripeSub.CancelAtPeriodEnd,
		CanceledAt:           toTimePtr(stripeSub.CanceledAt),
		EndedAt:              toTimePtr(stripeSub.EndedAt),
	}
	return sub, nil
}

// ApplyStripe mutates the stored subscription with the payload's fields. The
// payload's own period fields are trusted verbatim (last-write-wins).
func ApplyStripe(target *models.Subscription, stripeSub *stripe.Subscription, planID *string) error {
	if target == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "target subscription is nil")
	}
	if stripeSub == nil {
		return pkgerrors.New(pkgerrors.CodeExternal, "stripe subscription is nil")
	}
	status, err := mapStatus(stripeSub.Status)
	if err != nil {
		return err
	}

	target.StripeSubscriptionID = stripeSub.ID
	if cid := customerID(stripeSub); cid != "" {
		target.StripeCustomerID = cid
	}
	if planID != nil {
		target.PlanID = planID
	}
	target.Status = status
	start, end := periodFromSubscription(stripeSub)
	target.CurrentPeriodStart = start
	target.CurrentPeriodEnd = end
	target.TrialEnd = toTimePtr(stripeSub.TrialEnd)
	target.CancelAtPeriodEnd = stripeSub.CancelAtPeriodEnd
	target.CanceledAt = toTimePtr(stripeSub.CanceledAt)
	target.EndedAt = toTimePtr(stripeSub.EndedAt)
	return nil
}

// MirrorFor reduces a subscription status to the denormalized profile status:
// the mirror reads active only while the processor reports active.
func MirrorFor(status enums.SubscriptionStatus) enums.ProfileStatus {
	if status == enums.SubscriptionStatusActive {
		return enums.ProfileStatusActive
	}
	return enums.ProfileStatusInactive
}

// PriceIDFrom returns the price id on the subscription's first line item.
func PriceIDFrom(stripeSub *stripe.Subscription) string {
	if stripeSub == nil || stripeSub.Items == nil || len(stripeSub.Items.Data) == 0 {
		return ""
	}
	if stripeSub.Items.Data[0].Price != nil {
		return stripeSub.Items.Data[0].Price.ID
	}
	return ""
}

func mapStatus(status stripe.SubscriptionStatus) (enums.SubscriptionStatus, error) {
	mapped, err := enums.ParseSubscriptionStatus(string(status))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeExternal, err, "unsupported stripe subscription status")
	}
	return mapped, nil
}

func customerID(stripeSub *stripe.Subscription) string {
	if stripeSub.Customer != nil {
		return stripeSub.Customer.ID
	}
	return ""
}

// periodFromSubscription reads the billing period off the first line item,
// where Stripe reports it as of API version 2025-03-31.
func periodFromSubscription(stripeSub *stripe.Subscription) (*time.Time, *time.Time) {
	if stripeSub.Items == nil || len(stripeSub.Items.Data) == 0 {
		return nil, nil
	}
	item := stripeSub.Items.Data[0]
	return toTimePtr(item.CurrentPeriodStart), toTimePtr(item.CurrentPeriodEnd)
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
