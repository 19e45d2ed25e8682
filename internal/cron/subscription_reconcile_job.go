package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/lumalearn/lumalearn-billing/internal/reconciler"
	"github.com/lumalearn/lumalearn-billing/internal/subscriptions"
	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

const (
	defaultReconcileLimit      = 250
	defaultReconcileStaleAfter = 24 * time.Hour
)

// SubscriptionReconcileJobParams configures the drift-repair job.
type SubscriptionReconcileJobParams struct {
	Logger     *logger.Logger
	Repo       subscriptions.Repository
	Stripe     subscriptions.StripeSubscriptionClient
	Reconciler reconciler.Service
	Limit      int
	StaleAfter time.Duration
}

// NewSubscriptionReconcileJob builds a job that re-fetches stale subscriptions
// from the processor and replays them through the reconciler. Webhooks are the
// primary sync path; this covers deliveries that never arrived.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Stripe == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultReconcileStaleAfter
	}
	return &subscriptionReconcileJob{
		logg:       params.Logger,
		repo:       params.Repo,
		stripe:     params.Stripe,
		reconciler: params.Reconciler,
		limit:      limit,
		staleAfter: staleAfter,
	}, nil
}

type subscriptionReconcileJob struct {
	logg       *logger.Logger
	repo       subscriptions.Repository
	stripe     subscriptions.StripeSubscriptionClient
	reconciler reconciler.Service
	limit      int
	staleAfter time.Duration
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	stale, err := j.repo.ListStale(ctx, j.limit, j.staleAfter)
	if err != nil {
		return fmt.Errorf("list stale subscriptions: %w", err)
	}
	var errs error
	synced := 0
	for i := range stale {
		if err := j.reconcileSubscription(ctx, &stale[i]); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		synced++
	}
	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(stale),
		"synced":     synced,
	})
	j.logg.Info(reportCtx, "subscription reconcile loop complete")
	return errs
}

func (j *subscriptionReconcileJob) reconcileSubscription(ctx context.Context, sub *models.Subscription) error {
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"subscription_id":        sub.ID,
		"stripe_subscription_id": sub.StripeSubscriptionID,
	})
	stripeSub, err := j.stripe.Get(logCtx, sub.StripeSubscriptionID, nil)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", sub.StripeSubscriptionID, err)
	}
	if stripeSub == nil {
		j.logg.Info(logCtx, "subscription no longer exists upstream; skipping")
		return nil
	}
	if _, err := j.reconciler.SyncSubscription(logCtx, stripeSub); err != nil {
		return fmt.Errorf("reconcile subscription %s: %w", sub.StripeSubscriptionID, err)
	}
	return nil
}
