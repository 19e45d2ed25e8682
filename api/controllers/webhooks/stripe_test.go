package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

const testSigningSecret = "whsec_test_secret"

func TestStripeWebhookDispatchesVerifiedEvent(t *testing.T) {
	svc := &stubService{handled: true}
	guard := &stubGuard{}
	handler := StripeWebhook(svc, stubClient{}, guard, nil, testLogger())

	payload := eventPayload("evt_1", `{"id":"sub_1"}`)
	req := signedRequest(t, payload)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(svc.events) != 1 || svc.events[0].ID != "evt_1" {
		t.Fatalf("event not dispatched: %+v", svc.events)
	}
	if len(guard.marked) != 1 || guard.marked[0] != "evt_1" {
		t.Fatalf("idempotency mark missing: %+v", guard.marked)
	}
	if len(guard.deleted) != 0 {
		t.Fatalf("successful handling must keep the mark")
	}
}

func TestStripeWebhookRejectsTamperedPayload(t *testing.T) {
	svc := &stubService{}
	guard := &stubGuard{}
	handler := StripeWebhook(svc, stubClient{}, guard, nil, testLogger())

	req := signedRequest(t, eventPayload("evt_1", `{}`))
	tampered := strings.NewReader(eventPayload("evt_evil", `{}`))
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", tampered)
	req2.Header.Set("Stripe-Signature", req.Header.Get("Stripe-Signature"))

	rec := httptest.NewRecorder()
	handler(rec, req2)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(svc.events) != 0 {
		t.Fatalf("tampered payload must not reach the dispatcher")
	}
	if len(guard.marked) != 0 {
		t.Fatalf("tampered payload must not touch the idempotency guard")
	}
}

func TestStripeWebhookRejectsMissingSignature(t *testing.T) {
	svc := &stubService{}
	handler := StripeWebhook(svc, stubClient{}, &stubGuard{}, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(svc.events) != 0 {
		t.Fatalf("unsigned payload must not reach the dispatcher")
	}
}

func TestStripeWebhookAcknowledgesDuplicate(t *testing.T) {
	svc := &stubService{}
	guard := &stubGuard{duplicate: true}
	handler := StripeWebhook(svc, stubClient{}, guard, nil, testLogger())

	rec := httptest.NewRecorder()
	handler(rec, signedRequest(t, eventPayload("evt_1", `{}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate must be acknowledged with 200, got %d", rec.Code)
	}
	if len(svc.events) != 0 {
		t.Fatalf("duplicate must not be reprocessed")
	}
}

func TestStripeWebhookReleasesMarkOnHandlerFailure(t *testing.T) {
	svc := &stubService{err: fmt.Errorf("downstream unavailable")}
	guard := &stubGuard{}
	handler := StripeWebhook(svc, stubClient{}, guard, nil, testLogger())

	rec := httptest.NewRecorder()
	handler(rec, signedRequest(t, eventPayload("evt_1", `{}`)))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if len(guard.deleted) != 1 || guard.deleted[0] != "evt_1" {
		t.Fatalf("failed handling must release the idempotency mark")
	}
}

// eventPayload builds an event body carrying the SDK's pinned API version so
// ConstructEvent's version check passes.
func eventPayload(id, object string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","api_version":%q,"type":"customer.subscription.updated","data":{"object":%s}}`,
		id, stripe.APIVersion, object)
}

// signedRequest signs the payload the way Stripe does: an HMAC-SHA256 of
// "<timestamp>.<payload>" carried in the Stripe-Signature header.
func signedRequest(t *testing.T, payload string) *http.Request {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	header := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	return req
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "webhook-test", Output: discard{}})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type stubClient struct{}

func (stubClient) SigningSecret() string { return testSigningSecret }

type stubService struct {
	handled bool
	err     error
	events  []*stripe.Event
}

func (s *stubService) HandleEvent(_ context.Context, event *stripe.Event) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.events = append(s.events, event)
	return s.handled, nil
}

type stubGuard struct {
	duplicate bool
	marked    []string
	deleted   []string
}

func (g *stubGuard) CheckAndMark(_ context.Context, eventID string) (bool, error) {
	if g.duplicate {
		return true, nil
	}
	g.marked = append(g.marked, eventID)
	return false, nil
}

func (g *stubGuard) Delete(_ context.Context, eventID string) error {
	g.deleted = append(g.deleted, eventID)
	return nil
}
