package stripewebhook

import (
	"context"
	"testing"
	"time"
)

func TestCheckAndMarkOnlyFirstDeliveryWins(t *testing.T) {
	store := newFakeStore()
	guard, err := NewIdempotencyGuard(store, time.Hour, "stripe")
	if err != nil {
		t.Fatalf("failed to construct guard: %v", err)
	}

	dup, err := guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Fatalf("first delivery must not be a duplicate")
	}

	dup, err = guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dup {
		t.Fatalf("second delivery must be flagged as a duplicate")
	}
}

func TestDeleteAllowsRedeliveryAfterFailure(t *testing.T) {
	store := newFakeStore()
	guard, err := NewIdempotencyGuard(store, time.Hour, "stripe")
	if err != nil {
		t.Fatalf("failed to construct guard: %v", err)
	}

	if _, err := guard.CheckAndMark(context.Background(), "evt_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := guard.Delete(context.Background(), "evt_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dup, err := guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Fatalf("cleared mark must allow the redelivery through")
	}
}

func TestGuardRequiresEventID(t *testing.T) {
	guard, err := NewIdempotencyGuard(newFakeStore(), time.Hour, "stripe")
	if err != nil {
		t.Fatalf("failed to construct guard: %v", err)
	}
	if _, err := guard.CheckAndMark(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty event id")
	}
}

type fakeStore struct {
	keys map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: map[string]bool{}}
}

func (f *fakeStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "ll:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}
