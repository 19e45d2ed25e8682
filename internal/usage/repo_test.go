package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lumalearn/lumalearn-billing/pkg/db/models"
	"github.com/lumalearn/lumalearn-billing/pkg/enums"
)

func setupUsageTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// one connection so concurrent writers queue instead of opening
	// separate in-memory databases
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ddl := `
CREATE TABLE IF NOT EXISTS feature_usages (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  subscription_id TEXT,
  feature TEXT NOT NULL,
  usage_count INTEGER NOT NULL DEFAULT 0,
  usage_limit INTEGER,
  reset_period TEXT NOT NULL DEFAULT 'never',
  last_reset_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_feature_usages_user_feature ON feature_usages(user_id, feature);`
	require.NoError(t, db.Exec(ddl).Error)
	return db
}

func featureGrant(userID uuid.UUID, feature string, limit *int64) *models.FeatureUsage {
	return &models.FeatureUsage{
		ID:          uuid.New(),
		UserID:      userID,
		Feature:     feature,
		UsageLimit:  limit,
		ResetPeriod: enums.ResetPeriodNever,
		LastResetAt: time.Now().UTC(),
	}
}

func TestRepositoryIncrementStopsAtLimit(t *testing.T) {
	repo := NewRepository(setupUsageTestDB(t))
	userID := uuid.New()
	limit := int64(3)
	require.NoError(t, repo.Upsert(context.Background(), featureGrant(userID, "ai_tutor", &limit)))

	for i := int64(0); i < limit; i++ {
		allowed, err := repo.IncrementIfAllowed(context.Background(), userID, "ai_tutor")
		require.NoError(t, err)
		assert.True(t, allowed, "increment %d should be within the limit", i+1)
	}

	allowed, err := repo.IncrementIfAllowed(context.Background(), userID, "ai_tutor")
	require.NoError(t, err)
	assert.False(t, allowed, "increment past the limit must be refused")

	record, err := repo.Find(context.Background(), userID, "ai_tutor")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, limit, record.UsageCount)
}

func TestRepositoryConcurrentIncrementsNeverOverrun(t *testing.T) {
	repo := NewRepository(setupUsageTestDB(t))
	userID := uuid.New()
	limit := int64(5)
	require.NoError(t, repo.Upsert(context.Background(), featureGrant(userID, "ai_tutor", &limit)))

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, err := repo.IncrementIfAllowed(context.Background(), userID, "ai_tutor")
			if err != nil {
				t.Error(err)
				return
			}
			results <- allowed
		}()
	}
	wg.Wait()
	close(results)

	var granted int64
	for allowed := range results {
		if allowed {
			granted++
		}
	}
	assert.Equal(t, limit, granted, "exactly limit increments may win")

	record, err := repo.Find(context.Background(), userID, "ai_tutor")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, limit, record.UsageCount, "counter must never exceed the limit")
}

func TestRepositoryIncrementUnlimitedAlwaysAllowed(t *testing.T) {
	repo := NewRepository(setupUsageTestDB(t))
	userID := uuid.New()
	require.NoError(t, repo.Upsert(context.Background(), featureGrant(userID, "ai_tutor", nil)))

	for i := 0; i < 4; i++ {
		allowed, err := repo.IncrementIfAllowed(context.Background(), userID, "ai_tutor")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	record, err := repo.Find(context.Background(), userID, "ai_tutor")
	require.NoError(t, err)
	assert.Equal(t, int64(4), record.UsageCount)
}

func TestRepositoryUpsertKeepsCounterOnRegrant(t *testing.T) {
	repo := NewRepository(setupUsageTestDB(t))
	userID := uuid.New()
	limit := int64(10)
	require.NoError(t, repo.Upsert(context.Background(), featureGrant(userID, "ai_tutor", &limit)))

	allowed, err := repo.IncrementIfAllowed(context.Background(), userID, "ai_tutor")
	require.NoError(t, err)
	require.True(t, allowed)

	bumped := int64(20)
	require.NoError(t, repo.Upsert(context.Background(), featureGrant(userID, "ai_tutor", &bumped)))

	record, err := repo.Find(context.Background(), userID, "ai_tutor")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(1), record.UsageCount, "re-granting must not reset consumption")
	require.NotNil(t, record.UsageLimit)
	assert.Equal(t, bumped, *record.UsageLimit)
}

func TestRepositoryResetZeroesCounter(t *testing.T) {
	repo := NewRepository(setupUsageTestDB(t))
	userID := uuid.New()
	limit := int64(2)
	grant := featureGrant(userID, "ai_tutor", &limit)
	require.NoError(t, repo.Upsert(context.Background(), grant))

	for i := 0; i < 2; i++ {
		_, err := repo.IncrementIfAllowed(context.Background(), userID, "ai_tutor")
		require.NoError(t, err)
	}

	resetAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.Reset(context.Background(), grant.ID, resetAt))

	record, err := repo.Find(context.Background(), userID, "ai_tutor")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(0), record.UsageCount)

	allowed, err := repo.IncrementIfAllowed(context.Background(), userID, "ai_tutor")
	require.NoError(t, err)
	assert.True(t, allowed, "quota is usable again after a reset")
}
