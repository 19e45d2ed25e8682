package usage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
	"github.com/lumalearn/lumalearn-billing/pkg/enums"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

// Service tracks metered feature consumption against plan quotas.
type Service interface {
	Grant(ctx context.Context, grant Grant) error
	EnsureGrants(ctx context.Context, userID uuid.UUID, subscriptionID *uuid.UUID, features []string) error
	CanUse(ctx context.Context, userID uuid.UUID, feature string) (bool, error)
	Increment(ctx context.Context, userID uuid.UUID, feature string) (bool, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.FeatureUsage, error)
}

// Grant provisions (or re-provisions) a user's quota for a feature. A nil
// Limit means unlimited.
type Grant struct {
	UserID         uuid.UUID
	SubscriptionID *uuid.UUID
	Feature        string
	Limit          *int64
	ResetPeriod    enums.ResetPeriod
}

// ServiceParams groups dependencies for the usage service.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewService builds a usage service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "usage repo required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		repo: params.Repo,
		logg: params.Logger,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Grant provisions the quota row for a user/feature pair.
func (s *service) Grant(ctx context.Context, grant Grant) error {
	if grant.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	feature := strings.TrimSpace(grant.Feature)
	if feature == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "feature is required")
	}
	period := grant.ResetPeriod
	if period == "" {
		period = enums.ResetPeriodNever
	}
	if !period.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid reset period")
	}
	record := &models.FeatureUsage{
		UserID:         grant.UserID,
		SubscriptionID: grant.SubscriptionID,
		Feature:        feature,
		UsageLimit:     grant.Limit,
		ResetPeriod:    period,
		LastResetAt:    s.now(),
	}
	return s.repo.Upsert(ctx, record)
}

// EnsureGrants provisions quota rows for the features the user's plan names,
// skipping features that already have a grant so operator-tuned limits
// survive webhook redelivery. New grants start unlimited with no reset
// window.
func (s *service) EnsureGrants(ctx context.Context, userID uuid.UUID, subscriptionID *uuid.UUID, features []string) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	for _, feature := range features {
		feature = strings.TrimSpace(feature)
		if feature == "" {
			continue
		}
		existing, err := s.repo.Find(ctx, userID, feature)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := s.Grant(ctx, Grant{
			UserID:         userID,
			SubscriptionID: subscriptionID,
			Feature:        feature,
		}); err != nil {
			return err
		}
	}
	return nil
}

// CanUse reports whether the user has quota left for the feature, lazily
// resetting the window first.
func (s *service) CanUse(ctx context.Context, userID uuid.UUID, feature string) (bool, error) {
	record, err := s.load(ctx, userID, feature)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, pkgerrors.New(pkgerrors.CodeNotFound, "no usage grant for feature")
	}
	if record, err = s.resetIfNeeded(ctx, record); err != nil {
		return false, err
	}
	if record.UsageLimit == nil {
		return true, nil
	}
	return record.UsageCount < *record.UsageLimit, nil
}

// Increment consumes one unit of quota. It returns false without mutation
// when the limit is exhausted.
func (s *service) Increment(ctx context.Context, userID uuid.UUID, feature string) (bool, error) {
	record, err := s.load(ctx, userID, feature)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, pkgerrors.New(pkgerrors.CodeNotFound, "no usage grant for feature")
	}
	if _, err = s.resetIfNeeded(ctx, record); err != nil {
		return false, err
	}
	allowed, err := s.repo.IncrementIfAllowed(ctx, userID, record.Feature)
	if err != nil {
		return false, err
	}
	if !allowed {
		fields := map[string]any{
			"user_id": userID.String(),
			"feature": record.Feature,
		}
		s.logg.Warn(s.logg.WithFields(ctx, fields), "usage limit reached")
	}
	return allowed, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.FeatureUsage, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.repo.ListForUser(ctx, userID)
}

func (s *service) load(ctx context.Context, userID uuid.UUID, feature string) (*models.FeatureUsage, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	feature = strings.TrimSpace(feature)
	if feature == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "feature is required")
	}
	return s.repo.Find(ctx, userID, feature)
}

// resetIfNeeded zeroes the counter when the reset window has elapsed since
// last_reset_at.
func (s *service) resetIfNeeded(ctx context.Context, record *models.FeatureUsage) (*models.FeatureUsage, error) {
	cutoff, resets := cutoffFor(record.ResetPeriod, s.now())
	if !resets || !record.LastResetAt.Before(cutoff) {
		return record, nil
	}
	now := s.now()
	if err := s.repo.Reset(ctx, record.ID, now); err != nil {
		return nil, err
	}
	record.UsageCount = 0
	record.LastResetAt = now
	return record, nil
}

func cutoffFor(period enums.ResetPeriod, now time.Time) (time.Time, bool) {
	switch period {
	case enums.ResetPeriodDaily:
		return now.AddDate(0, 0, -1), true
	case enums.ResetPeriodWeekly:
		return now.AddDate(0, 0, -7), true
	case enums.ResetPeriodMonthly:
		return now.AddDate(0, -1, 0), true
	default:
		return time.Time{}, false
	}
}
