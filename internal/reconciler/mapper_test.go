package reconciler

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
	"github.com/lumalearn/lumalearn-billing/pkg/enums"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
)

func TestBuildFromStripeMapsPeriodFromFirstItem(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	userID := uuid.New()
	planID := "price_basic"

	sub, err := BuildFromStripe(&stripe.Subscription{
		ID:       "sub_1",
		Status:   stripe.SubscriptionStatusTrialing,
		Customer: &stripe.Customer{ID: "cus_1"},
		TrialEnd: end.Unix(),
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			CurrentPeriodStart: start.Unix(),
			CurrentPeriodEnd:   end.Unix(),
			Price:              &stripe.Price{ID: planID},
		}}},
	}, userID, &planID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Status != enums.SubscriptionStatusTrialing {
		t.Fatalf("unexpected status: %s", sub.Status)
	}
	if sub.CurrentPeriodStart == nil || !sub.CurrentPeriodStart.Equal(start) {
		t.Fatalf("period start not mapped")
	}
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(end) {
		t.Fatalf("period end not mapped")
	}
	if sub.StripeCustomerID != "cus_1" {
		t.Fatalf("customer binding not mapped")
	}
	if sub.TrialEnd == nil {
		t.Fatalf("trial end not mapped")
	}
}

func TestApplyStripeRejectsUnknownStatus(t *testing.T) {
	target := &models.Subscription{Status: enums.SubscriptionStatusActive}
	err := ApplyStripe(target, &stripe.Subscription{
		ID:     "sub_1",
		Status: stripe.SubscriptionStatus("paused"),
	}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported status")
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeExternal) {
		t.Fatalf("expected external error code, got %v", err)
	}
	if target.Status != enums.SubscriptionStatusActive {
		t.Fatalf("target must not change on rejected payload")
	}
}

func TestMirrorForOnlyActiveMirrorsActive(t *testing.T) {
	cases := map[enums.SubscriptionStatus]enums.ProfileStatus{
		enums.SubscriptionStatusActive:   enums.ProfileStatusActive,
		enums.SubscriptionStatusTrialing: enums.ProfileStatusInactive,
		enums.SubscriptionStatusPastDue:  enums.ProfileStatusInactive,
		enums.SubscriptionStatusUnpaid:   enums.ProfileStatusInactive,
	}
	for status, want := range cases {
		if got := MirrorFor(status); got != want {
			t.Fatalf("MirrorFor(%s) = %s, want %s", status, got, want)
		}
	}
}

func TestPriceIDFromHandlesMissingItems(t *testing.T) {
	if got := PriceIDFrom(&stripe.Subscription{}); got != "" {
		t.Fatalf("expected empty price id, got %q", got)
	}
	sub := &stripe.Subscription{Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
		Price: &stripe.Price{ID: "price_pro"},
	}}}}
	if got := PriceIDFrom(sub); got != "price_pro" {
		t.Fatalf("unexpected price id: %q", got)
	}
}
