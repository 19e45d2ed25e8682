package cron

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

func TestOutboxRetentionJobDeletesWithConfiguredCutoff(t *testing.T) {
	repo := &fakeRetentionRepo{deleted: 12}
	now := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:      testLogger(),
		DB:          &stubTxRunner{},
		Repository:  repo,
		Retention:   7,
		MinAttempts: 3,
	})
	if err != nil {
		t.Fatalf("failed to construct job: %v", err)
	}
	job.(*outboxRetentionJob).now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantCutoff := now.Add(-7 * 24 * time.Hour)
	if !repo.cutoff.Equal(wantCutoff) {
		t.Fatalf("cutoff = %v, want %v", repo.cutoff, wantCutoff)
	}
	if repo.minAttempts != 3 {
		t.Fatalf("min attempts = %d, want 3", repo.minAttempts)
	}
}

func TestOutboxRetentionJobDefaults(t *testing.T) {
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     testLogger(),
		DB:         &stubTxRunner{},
		Repository: &fakeRetentionRepo{},
	})
	if err != nil {
		t.Fatalf("failed to construct job: %v", err)
	}
	impl := job.(*outboxRetentionJob)
	if impl.retention != outboxRetentionDays || impl.minAttempts != outboxMinAttempts {
		t.Fatalf("defaults not applied: retention=%d minAttempts=%d", impl.retention, impl.minAttempts)
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: discard{}})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type stubTxRunner struct{}

func (s *stubTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeRetentionRepo struct {
	deleted     int64
	cutoff      time.Time
	minAttempts int
}

func (f *fakeRetentionRepo) DeletePublishedBefore(_ *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	f.cutoff = cutoff
	f.minAttempts = minAttemptCount
	return f.deleted, nil
}
