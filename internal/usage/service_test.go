package usage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
	"github.com/lumalearn/lumalearn-billing/pkg/enums"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

func TestIncrementStopsAtLimit(t *testing.T) {
	userID := uuid.New()
	limit := int64(3)
	repo := newFakeRepo(&models.FeatureUsage{
		ID:          uuid.New(),
		UserID:      userID,
		Feature:     "quiz_attempts",
		UsageLimit:  &limit,
		ResetPeriod: enums.ResetPeriodNever,
		LastResetAt: time.Now().UTC(),
	})
	svc := newTestService(t, repo, nil)

	for i := int64(0); i < limit; i++ {
		allowed, err := svc.Increment(context.Background(), userID, "quiz_attempts")
		if err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
		if !allowed {
			t.Fatalf("increment %d should be allowed", i)
		}
	}

	allowed, err := svc.Increment(context.Background(), userID, "quiz_attempts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("increment past the limit must be refused")
	}
	if got := repo.records[0].UsageCount; got != limit {
		t.Fatalf("count overran the limit: %d", got)
	}
}

func TestIncrementUnlimitedNeverRefuses(t *testing.T) {
	userID := uuid.New()
	repo := newFakeRepo(&models.FeatureUsage{
		ID:          uuid.New(),
		UserID:      userID,
		Feature:     "course_views",
		ResetPeriod: enums.ResetPeriodNever,
		LastResetAt: time.Now().UTC(),
	})
	svc := newTestService(t, repo, nil)

	for i := 0; i < 10; i++ {
		allowed, err := svc.Increment(context.Background(), userID, "course_views")
		if err != nil || !allowed {
			t.Fatalf("unlimited grant refused at %d: allowed=%v err=%v", i, allowed, err)
		}
	}
}

func TestCanUseResetsElapsedWindow(t *testing.T) {
	userID := uuid.New()
	limit := int64(2)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo(&models.FeatureUsage{
		ID:          uuid.New(),
		UserID:      userID,
		Feature:     "quiz_attempts",
		UsageCount:  2,
		UsageLimit:  &limit,
		ResetPeriod: enums.ResetPeriodDaily,
		LastResetAt: now.Add(-25 * time.Hour),
	})
	svc := newTestService(t, repo, func() time.Time { return now })

	ok, err := svc.CanUse(context.Background(), userID, "quiz_attempts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("elapsed window should reset and allow usage")
	}
	if repo.records[0].UsageCount != 0 {
		t.Fatalf("counter not reset: %d", repo.records[0].UsageCount)
	}
	if !repo.records[0].LastResetAt.Equal(now) {
		t.Fatalf("reset timestamp not advanced")
	}
}

func TestCanUseKeepsWindowWhenFresh(t *testing.T) {
	userID := uuid.New()
	limit := int64(2)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo(&models.FeatureUsage{
		ID:          uuid.New(),
		UserID:      userID,
		Feature:     "quiz_attempts",
		UsageCount:  2,
		UsageLimit:  &limit,
		ResetPeriod: enums.ResetPeriodDaily,
		LastResetAt: now.Add(-2 * time.Hour),
	})
	svc := newTestService(t, repo, func() time.Time { return now })

	ok, err := svc.CanUse(context.Background(), userID, "quiz_attempts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("exhausted quota inside the window must refuse")
	}
	if repo.records[0].UsageCount != 2 {
		t.Fatalf("fresh window must not reset")
	}
}

func TestCanUseWithoutGrantReturnsNotFound(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), nil)

	_, err := svc.CanUse(context.Background(), uuid.New(), "quiz_attempts")
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGrantDefaultsResetPeriod(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, nil)

	err := svc.Grant(context.Background(), Grant{
		UserID:  uuid.New(),
		Feature: "course_views",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.upserted) != 1 || repo.upserted[0].ResetPeriod != enums.ResetPeriodNever {
		t.Fatalf("expected never reset period default")
	}
}

func TestEnsureGrantsProvisionsMissingOnly(t *testing.T) {
	userID := uuid.New()
	subscriptionID := uuid.New()
	limit := int64(5)
	repo := newFakeRepo(&models.FeatureUsage{
		ID:          uuid.New(),
		UserID:      userID,
		Feature:     "quiz_attempts",
		UsageCount:  3,
		UsageLimit:  &limit,
		ResetPeriod: enums.ResetPeriodDaily,
		LastResetAt: time.Now().UTC(),
	})
	svc := newTestService(t, repo, nil)

	err := svc.EnsureGrants(context.Background(), userID, &subscriptionID, []string{"quiz_attempts", "ai_tutor", " "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.upserted) != 1 {
		t.Fatalf("only the missing feature should be provisioned, got %d upserts", len(repo.upserted))
	}
	created := repo.upserted[0]
	if created.Feature != "ai_tutor" {
		t.Fatalf("wrong feature provisioned: %s", created.Feature)
	}
	if created.SubscriptionID == nil || *created.SubscriptionID != subscriptionID {
		t.Fatalf("new grant not linked to the subscription")
	}
	if created.UsageLimit != nil {
		t.Fatalf("new grants start unlimited")
	}
	existing, _ := repo.Find(context.Background(), userID, "quiz_attempts")
	if existing.UsageLimit == nil || *existing.UsageLimit != limit || existing.UsageCount != 3 {
		t.Fatalf("existing grant must survive re-provisioning untouched")
	}
}

func TestEnsureGrantsRequiresUser(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), nil)

	err := svc.EnsureGrants(context.Background(), uuid.Nil, nil, []string{"ai_tutor"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func newTestService(t *testing.T, repo Repository, now func() time.Time) *service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Logger: logger.New(logger.Options{ServiceName: "usage-test", Output: discard{}}),
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	impl := svc.(*service)
	if now != nil {
		impl.now = now
	}
	return impl
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type fakeRepo struct {
	records  []*models.FeatureUsage
	upserted []*models.FeatureUsage
}

func newFakeRepo(records ...*models.FeatureUsage) *fakeRepo {
	return &fakeRepo{records: records}
}

func (f *fakeRepo) WithTx(*gorm.DB) Repository { return f }

func (f *fakeRepo) Upsert(_ context.Context, record *models.FeatureUsage) error {
	f.upserted = append(f.upserted, record)
	f.records = append(f.records, record)
	return nil
}

func (f *fakeRepo) Find(_ context.Context, userID uuid.UUID, feature string) (*models.FeatureUsage, error) {
	for _, record := range f.records {
		if record.UserID == userID && record.Feature == feature {
			return record, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListForUser(_ context.Context, userID uuid.UUID) ([]models.FeatureUsage, error) {
	var out []models.FeatureUsage
	for _, record := range f.records {
		if record.UserID == userID {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (f *fakeRepo) Reset(_ context.Context, id uuid.UUID, at time.Time) error {
	for _, record := range f.records {
		if record.ID == id {
			record.UsageCount = 0
			record.LastResetAt = at
		}
	}
	return nil
}

func (f *fakeRepo) IncrementIfAllowed(_ context.Context, userID uuid.UUID, feature string) (bool, error) {
	for _, record := range f.records {
		if record.UserID != userID || record.Feature != feature {
			continue
		}
		if record.UsageLimit != nil && record.UsageCount >= *record.UsageLimit {
			return false, nil
		}
		record.UsageCount++
		return true, nil
	}
	return false, nil
}
