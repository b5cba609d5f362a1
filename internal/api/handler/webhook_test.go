package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yoyaba/gtmdocs/internal/observability"
	"github.com/yoyaba/gtmdocs/internal/openai"
)

type fakeVerifier struct {
	event *openai.Event
	err   error
}

func (f *fakeVerifier) Unwrap([]byte, http.Header) (*openai.Event, error) {
	return f.event, f.err
}

type fakeEnqueuer struct {
	events []*openai.Event
	full   bool
}

func (f *fakeEnqueuer) TryEnqueue(event *openai.Event) bool {
	if f.full {
		return false
	}
	f.events = append(f.events, event)
	return true
}

func newWebhookHandler(verifier EventVerifier, enqueuer EventEnqueuer) http.HandlerFunc {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewWebhookHandler(verifier, enqueuer, metrics, logger)
}

func postWebhook(h http.HandlerFunc) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/openai", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandler_AcceptsCompletionEvent(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	h := newWebhookHandler(&fakeVerifier{event: &openai.Event{
		ID:   "evt_1",
		Type: openai.EventTypeResponseCompleted,
		Data: openai.EventData{ID: "resp_1"},
	}}, enqueuer)

	rec := postWebhook(h)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if len(enqueuer.events) != 1 || enqueuer.events[0].ID != "evt_1" {
		t.Errorf("event not enqueued: %v", enqueuer.events)
	}
}

func TestWebhookHandler_InvalidSignature(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	h := newWebhookHandler(&fakeVerifier{err: openai.ErrInvalidSignature}, enqueuer)

	rec := postWebhook(h)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if len(enqueuer.events) != 0 {
		t.Error("unverified delivery must not be enqueued")
	}
}

func TestWebhookHandler_IgnoresOtherEventTypes(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	h := newWebhookHandler(&fakeVerifier{event: &openai.Event{
		ID:   "evt_1",
		Type: "response.failed",
		Data: openai.EventData{ID: "resp_1"},
	}}, enqueuer)

	rec := postWebhook(h)
	if rec.Code != http.StatusOK {
		t.Fatalf("ignored events still get a 200, got %d", rec.Code)
	}
	if len(enqueuer.events) != 0 {
		t.Error("non-completion event must not be enqueued")
	}
}

func TestWebhookHandler_QueueFullStillAcknowledges(t *testing.T) {
	h := newWebhookHandler(&fakeVerifier{event: &openai.Event{
		ID:   "evt_1",
		Type: openai.EventTypeResponseCompleted,
		Data: openai.EventData{ID: "resp_1"},
	}}, &fakeEnqueuer{full: true})

	rec := postWebhook(h)
	if rec.Code != http.StatusOK {
		t.Errorf("queue-full must still acknowledge with 200, got %d", rec.Code)
	}
}
