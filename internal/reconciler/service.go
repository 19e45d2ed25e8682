package reconciler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/lumalearn/lumalearn-billing/internal/catalog"
	"github.com/lumalearn/lumalearn-billing/internal/subscriptions"
	"github.com/lumalearn/lumalearn-billing/internal/users"
	dbpkg "github.com/lumalearn/lumalearn-billing/pkg/db"
	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
	"github.com/lumalearn/lumalearn-billing/pkg/enums"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
	"github.com/lumalearn/lumalearn-billing/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type featureGranter interface {
	EnsureGrants(ctx context.Context, userID uuid.UUID, subscriptionID *uuid.UUID, features []string) error
}

// Service projects processor subscription state onto local storage. It is a
// pure projection: it applies whatever the processor reports and keeps the
// user's denormalized mirror in step, inside one transaction.
type Service interface {
	SyncSubscription(ctx context.Context, stripeSub *stripe.Subscription) (*models.Subscription, error)
	MarkEnded(ctx context.Context, stripeSub *stripe.Subscription) error
	NotifyTrialEnding(ctx context.Context, stripeSub *stripe.Subscription) error
}

// ServiceParams groups dependencies for the reconciler.
type ServiceParams struct {
	SubscriptionRepo  subscriptions.Repository
	UserRepo          users.Repository
	CatalogRepo       catalog.Repository
	Usage             featureGranter
	Outbox            outboxEmitter
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	subsRepo    subscriptions.Repository
	userRepo    users.Repository
	catalogRepo catalog.Repository
	usage       featureGranter
	outbox      outboxEmitter
	txRunner    txRunner
	logg        *logger.Logger
}

// NewService builds a reconciler with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.SubscriptionRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.UserRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user repo required")
	}
	if params.CatalogRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "catalog repo required")
	}
	if params.Usage == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "usage service required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		subsRepo:    params.SubscriptionRepo,
		userRepo:    params.UserRepo,
		catalogRepo: params.CatalogRepo,
		usage:       params.Usage,
		outbox:      params.Outbox,
		txRunner:    params.TransactionRunner,
		logg:        params.Logger,
	}, nil
}

// SyncSubscription upserts the subscription row keyed by (user, stripe
// subscription id) and updates the user mirror in the same transaction.
// Payloads whose period end is strictly older than the stored one are skipped
// to close the out-of-order redelivery race. Events for users this subsystem
// never created are logged and dropped.
func (s *service) SyncSubscription(ctx context.Context, stripeSub *stripe.Subscription) (*models.Subscription, error) {
	if stripeSub == nil || stripeSub.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription payload is required")
	}

	var result *models.Subscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		subsRepo := s.subsRepo.WithTx(tx)
		userRepo := s.userRepo.WithTx(tx)

		stored, err := subsRepo.FindByStripeID(ctx, stripeSub.ID)
		if err != nil {
			return err
		}

		user, err := s.resolveUser(ctx, userRepo, stored, stripeSub)
		if err != nil {
			return err
		}
		if user == nil {
			fields := map[string]any{
				"stripe_subscription_id": stripeSub.ID,
				"stripe_customer_id":     customerID(stripeSub),
			}
			s.logg.Warn(s.logg.WithFields(ctx, fields), "subscription event for unknown user, skipping")
			return nil
		}

		if stale(stored, stripeSub) {
			fields := map[string]any{
				"stripe_subscription_id": stripeSub.ID,
				"stored_period_end":      stored.CurrentPeriodEnd,
			}
			s.logg.Warn(s.logg.WithFields(ctx, fields), "stale subscription payload, skipping")
			result = stored
			return nil
		}

		plan := s.resolvePlan(ctx, tx, stripeSub)
		var planID *string
		if plan != nil {
			planID = &plan.ID
		}

		if stored == nil {
			built, buildErr := BuildFromStripe(stripeSub, user.ID, planID)
			if buildErr != nil {
				return buildErr
			}
			if err := subsRepo.Create(ctx, built); err != nil {
				if dbpkg.IsUniqueViolation(err, "ux_subscriptions_user_stripe_id") {
					// concurrent delivery created the row first; re-apply on top
					existing, findErr := subsRepo.FindByStripeID(ctx, stripeSub.ID)
					if findErr != nil {
						return findErr
					}
					if existing == nil {
						return err
					}
					if applyErr := ApplyStripe(existing, stripeSub, planID); applyErr != nil {
						return applyErr
					}
					if err := subsRepo.Update(ctx, existing); err != nil {
						return err
					}
					stored = existing
				} else {
					return err
				}
			} else {
				stored = built
			}
		} else {
			if err := ApplyStripe(stored, stripeSub, planID); err != nil {
				return err
			}
			if err := subsRepo.Update(ctx, stored); err != nil {
				return err
			}
		}

		if err := userRepo.UpdateSubscriptionMirror(ctx, user.ID, MirrorFor(stored.Status), stored.CurrentPeriodEnd); err != nil {
			return err
		}

		if stored.Status.IsEntitled() && plan != nil {
			if err := s.usage.EnsureGrants(ctx, user.ID, &stored.ID, plan.Features); err != nil {
				return err
			}
		}

		result = stored
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventSubscriptionSynced,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   stored.ID,
			Data: map[string]any{
				"user_id":                stored.UserID.String(),
				"stripe_subscription_id": stored.StripeSubscriptionID,
				"status":                 stored.Status,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkEnded terminates the local record for a deleted processor subscription.
// Unknown subscriptions are a no-op: the event refers to a record this
// subsystem never created.
func (s *service) MarkEnded(ctx context.Context, stripeSub *stripe.Subscription) error {
	if stripeSub == nil || stripeSub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription payload is required")
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		subsRepo := s.subsRepo.WithTx(tx)
		userRepo := s.userRepo.WithTx(tx)

		stored, err := subsRepo.FindByStripeID(ctx, stripeSub.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			s.logg.Warn(s.logg.WithField(ctx, "stripe_subscription_id", stripeSub.ID),
				"deletion event for unknown subscription, skipping")
			return nil
		}

		now := time.Now().UTC()
		stored.Status = enums.SubscriptionStatusCanceled
		stored.EndedAt = &now
		if ts := toTimePtr(stripeSub.CanceledAt); ts != nil {
			stored.CanceledAt = ts
		} else if stored.CanceledAt == nil {
			stored.CanceledAt = &now
		}
		if err := subsRepo.Update(ctx, stored); err != nil {
			return err
		}

		if err := userRepo.UpdateSubscriptionMirror(ctx, stored.UserID, enums.ProfileStatusCanceled, stored.EndedAt); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventSubscriptionEnded,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   stored.ID,
			Data: map[string]any{
				"user_id":                stored.UserID.String(),
				"stripe_subscription_id": stored.StripeSubscriptionID,
				"ended_at":               stored.EndedAt,
			},
		})
	})
}

// NotifyTrialEnding queues a notification event without touching subscription
// state.
func (s *service) NotifyTrialEnding(ctx context.Context, stripeSub *stripe.Subscription) error {
	if stripeSub == nil || stripeSub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription payload is required")
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		stored, err := s.subsRepo.WithTx(tx).FindByStripeID(ctx, stripeSub.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			s.logg.Warn(s.logg.WithField(ctx, "stripe_subscription_id", stripeSub.ID),
				"trial notice for unknown subscription, skipping")
			return nil
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventTrialEndingSoon,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   stored.ID,
			Data: map[string]any{
				"user_id":                stored.UserID.String(),
				"stripe_subscription_id": stored.StripeSubscriptionID,
				"trial_end":              stored.TrialEnd,
			},
		})
	})
}

// resolveUser finds the owning user: the stored row wins, then the username
// the checkout session stamped into metadata, then the customer binding.
func (s *service) resolveUser(ctx context.Context, userRepo users.Repository, stored *models.Subscription, stripeSub *stripe.Subscription) (*models.User, error) {
	if stored != nil {
		return userRepo.FindByID(ctx, stored.UserID)
	}
	if username := stripeSub.Metadata["username"]; username != "" {
		user, err := userRepo.FindByUsername(ctx, username)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}
	return userRepo.FindByStripeCustomerID(ctx, customerID(stripeSub))
}

// resolvePlan maps the payload's price id to a local plan, or nil when the
// catalog has drifted. Drift is logged, not fatal: the subscription row is
// still worth keeping.
func (s *service) resolvePlan(ctx context.Context, tx *gorm.DB, stripeSub *stripe.Subscription) *models.Plan {
	priceID := PriceIDFrom(stripeSub)
	if priceID == "" {
		return nil
	}
	plan, err := s.catalogRepo.WithTx(tx).FindByID(ctx, priceID)
	if err != nil {
		s.logg.Error(ctx, "plan lookup failed", err)
		return nil
	}
	if plan == nil {
		s.logg.Warn(s.logg.WithField(ctx, "price_id", priceID), "no local plan for stripe price")
		return nil
	}
	return plan
}

// stale reports whether the payload's period end is strictly older than what
// is already stored, which happens when redelivered events arrive out of
// order.
func stale(stored *models.Subscription, stripeSub *stripe.Subscription) bool {
	if stored == nil || stored.CurrentPeriodEnd == nil {
		return false
	}
	_, incomingEnd := periodFromSubscription(stripeSub)
	if incomingEnd == nil {
		return false
	}
	return incomingEnd.Before(*stored.CurrentPeriodEnd)
}
