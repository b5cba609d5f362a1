package docgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yoyaba/gtmdocs/internal/idempotency"
	"github.com/yoyaba/gtmdocs/internal/jobs"
	"github.com/yoyaba/gtmdocs/internal/observability"
	"github.com/yoyaba/gtmdocs/internal/openai"
	"github.com/yoyaba/gtmdocs/internal/retry"
	"github.com/yoyaba/gtmdocs/pkg/models"
)

// fakeResearch scripts the provider: one submit ID and a sequence of
// retrieve outcomes.
type fakeResearch struct {
	mu            sync.Mutex
	submitID      string
	submitErr     error
	submitted     []string
	retrieveErrs  []error
	response      *openai.Response
	retrieveCalls int
}

func (f *fakeResearch) SubmitResearch(_ context.Context, input string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, input)
	return f.submitID, nil
}

func (f *fakeResearch) RetrieveResponse(context.Context, string) (*openai.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieveCalls++
	if len(f.retrieveErrs) > 0 {
		err := f.retrieveErrs[0]
		f.retrieveErrs = f.retrieveErrs[1:]
		return nil, err
	}
	return f.response, nil
}

// fakeMaterializer creates a fresh document per MaterializeDocument call, so
// duplicate processing shows up as extra documents.
type fakeMaterializer struct {
	mu        sync.Mutex
	folders   map[string]string
	docs      []string
	snapshots map[string]int
	ensureErr error
	docErr    error
	snapErr   error
}

func newFakeMaterializer() *fakeMaterializer {
	return &fakeMaterializer{
		folders:   map[string]string{},
		snapshots: map[string]int{},
	}
}

func (f *fakeMaterializer) EnsureFolder(_ context.Context, companyID, domain string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ensureErr != nil {
		return "", f.ensureErr
	}
	name := companyID + "-" + domain
	if id, ok := f.folders[name]; ok {
		return id, nil
	}
	id := fmt.Sprintf("folder-%d", len(f.folders)+1)
	f.folders[name] = id
	return id, nil
}

func (f *fakeMaterializer) MaterializeDocument(_ context.Context, _, docName string, _ models.ResearchResult) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docErr != nil {
		return "", "", f.docErr
	}
	docID := fmt.Sprintf("doc-%d", len(f.docs)+1)
	f.docs = append(f.docs, docName)
	return docID, "rev-1", nil
}

func (f *fakeMaterializer) PersistSnapshot(_ context.Context, _, docID string, _ models.ResearchResult, _ map[string]any) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapErr != nil {
		return 0, f.snapErr
	}
	f.snapshots[docID]++
	return f.snapshots[docID], nil
}

type serviceFixture struct {
	service      *Service
	jobs         jobs.Store
	keys         idempotency.Store
	research     *fakeResearch
	materializer *fakeMaterializer
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()

	research := &fakeResearch{
		submitID: "resp_1",
		response: &openai.Response{
			ID:         "resp_1",
			Status:     openai.ResponseStatusCompleted,
			OutputText: `{"DOC_TITLE":"Acme GTM","INTRO":"Acme builds anvils."}`,
		},
	}
	materializer := newFakeMaterializer()
	jobStore := jobs.NewMemoryStore()
	keys := idempotency.NewMemoryStore(time.Hour)

	policy := retry.DefaultPolicy()
	policy.SleepFunc = func(context.Context, time.Duration) error { return nil }

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	service := NewService(jobStore, keys, research, materializer, policy,
		metrics, logger, "o3-deep-research", 2*time.Hour)

	return &serviceFixture{
		service:      service,
		jobs:         jobStore,
		keys:         keys,
		research:     research,
		materializer: materializer,
	}
}

func testInput() models.ResearchInput {
	return models.ResearchInput{
		Company: map[string]any{
			"id":     "acme-123",
			"name":   "Acme Corp",
			"domain": "acme.com",
		},
		EnrichedData: map[string]any{"industry": "anvils"},
	}
}

func completionEvent(eventID string) *openai.Event {
	return &openai.Event{
		ID:   eventID,
		Type: openai.EventTypeResponseCompleted,
		Data: openai.EventData{ID: "resp_1"},
	}
}

func TestSubmit_RegistersJob(t *testing.T) {
	f := newFixture(t)

	job, err := f.service.Submit(context.Background(), testInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.ID != "resp_1" {
		t.Errorf("unexpected job id: %s", job.ID)
	}
	if job.Status != models.JobStatusSubmitted {
		t.Errorf("unexpected status: %s", job.Status)
	}
	if job.InputTokens == 0 {
		t.Error("input tokens should be estimated")
	}

	stored, err := f.jobs.Get(context.Background(), "resp_1")
	if err != nil {
		t.Fatalf("job not registered: %v", err)
	}
	if stored.CompanyID != "acme-123" || stored.CompanyDomain != "acme.com" {
		t.Errorf("company identity not captured: %+v", stored)
	}
	if stored.RawInput == nil {
		t.Error("raw input not captured for completion-time materialization")
	}
}

func TestSubmit_RejectedCreatesNoJob(t *testing.T) {
	f := newFixture(t)
	f.research.submitErr = fmt.Errorf("%w: status 400", openai.ErrRejected)

	_, err := f.service.Submit(context.Background(), testInput())
	if !errors.Is(err, ErrSubmissionRejected) {
		t.Fatalf("expected ErrSubmissionRejected, got %v", err)
	}
	if _, err := f.jobs.Get(context.Background(), "resp_1"); !errors.Is(err, jobs.ErrNotFound) {
		t.Error("no job record should exist after rejection")
	}
}

func TestSubmit_InvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Submit(context.Background(), models.ResearchInput{
		Company: map[string]any{"name": "No ID Corp"},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(f.research.submitted) != 0 {
		t.Error("invalid input must not reach the provider")
	}
}

func TestHandleEvent_CompletesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Submit(ctx, testInput()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.service.HandleEvent(ctx, completionEvent("evt_1")); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	job, err := f.jobs.Get(ctx, "resp_1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("unexpected status: %s", job.Status)
	}
	if job.Result == nil {
		t.Fatal("completed job must carry a result")
	}
	if job.Result.DocID != "doc-1" || job.Result.SnapshotVersion != 1 {
		t.Errorf("unexpected result: %+v", job.Result)
	}
	if job.Result.TokenUsage.TotalTokens != job.InputTokens+job.Result.TokenUsage.OutputTokens {
		t.Errorf("token usage does not add up: %+v", job.Result.TokenUsage)
	}
	if job.CompletedAt == nil {
		t.Error("completion time not recorded")
	}
}

func TestHandleEvent_DoubleDeliveryProducesOneDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Submit(ctx, testInput()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Same event twice: the second is suppressed by the idempotency claim.
	if err := f.service.HandleEvent(ctx, completionEvent("evt_1")); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.service.HandleEvent(ctx, completionEvent("evt_1")); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	// A fresh event ID for the same job bypasses the key store and is caught
	// by the terminal-state check.
	if err := f.service.HandleEvent(ctx, completionEvent("evt_2")); err != nil {
		t.Fatalf("distinct event: %v", err)
	}

	if len(f.materializer.docs) != 1 {
		t.Errorf("expected exactly one document, got %d", len(f.materializer.docs))
	}
	if f.research.retrieveCalls != 1 {
		t.Errorf("expected exactly one retrieval, got %d", f.research.retrieveCalls)
	}
}

func TestHandleEvent_TransientFailuresThenSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.research.retrieveErrs = []error{
		fmt.Errorf("%w: status 503", openai.ErrUnavailable),
		fmt.Errorf("%w: status 429", openai.ErrRateLimited),
	}

	if _, err := f.service.Submit(ctx, testInput()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.service.HandleEvent(ctx, completionEvent("evt_1")); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	job, _ := f.jobs.Get(ctx, "resp_1")
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("unexpected status: %s", job.Status)
	}
	if job.Result.SnapshotVersion != 1 {
		t.Errorf("expected snapshot version 1, got %d", job.Result.SnapshotVersion)
	}
	if f.research.retrieveCalls != 3 {
		t.Errorf("expected 3 retrieve attempts, got %d", f.research.retrieveCalls)
	}
}

func TestHandleEvent_FatalFailureFailsJobAndReleasesKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.research.retrieveErrs = []error{fmt.Errorf("%w: status 400", openai.ErrRejected)}

	if _, err := f.service.Submit(ctx, testInput()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.service.HandleEvent(ctx, completionEvent("evt_1")); err == nil {
		t.Fatal("expected processing error")
	}

	job, _ := f.jobs.Get(ctx, "resp_1")
	if job.Status != models.JobStatusFailed {
		t.Fatalf("unexpected status: %s", job.Status)
	}
	if job.ErrorMessage == nil || *job.ErrorMessage == "" {
		t.Error("failure must record an error message")
	}

	// The claim was released; the key is free again.
	claimed, err := f.keys.TryClaim(ctx, "evt_1")
	if err != nil {
		t.Fatalf("try claim: %v", err)
	}
	if !claimed {
		t.Error("idempotency key should be released after failure")
	}
}

func TestHandleEvent_SnapshotFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.materializer.snapErr = errors.New("upload quota exceeded")

	if _, err := f.service.Submit(ctx, testInput()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.service.HandleEvent(ctx, completionEvent("evt_1")); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	job, _ := f.jobs.Get(ctx, "resp_1")
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("unexpected status: %s", job.Status)
	}
	if job.Result.SnapshotVersion != 0 {
		t.Errorf("expected snapshot version 0, got %d", job.Result.SnapshotVersion)
	}
}

func TestHandleEvent_UnknownJobIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event := &openai.Event{
		ID:   "evt_1",
		Type: openai.EventTypeResponseCompleted,
		Data: openai.EventData{ID: "resp_unknown"},
	}
	if err := f.service.HandleEvent(ctx, event); err != nil {
		t.Fatalf("unknown job should be ignored, got %v", err)
	}

	// The claim was released so a redelivery after registration can process.
	claimed, err := f.keys.TryClaim(ctx, "evt_1")
	if err != nil {
		t.Fatalf("try claim: %v", err)
	}
	if !claimed {
		t.Error("claim for unknown job should be released")
	}
}

func TestHandleEvent_UnparsableOutputFailsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.research.response.OutputText = "the model returned prose instead of JSON"

	if _, err := f.service.Submit(ctx, testInput()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	err := f.service.HandleEvent(ctx, completionEvent("evt_1"))
	if !errors.Is(err, ErrUnparsableOutput) {
		t.Fatalf("expected ErrUnparsableOutput, got %v", err)
	}

	job, _ := f.jobs.Get(ctx, "resp_1")
	if job.Status != models.JobStatusFailed {
		t.Errorf("unexpected status: %s", job.Status)
	}
}

func TestStatus_StaleFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Submit(ctx, testInput()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, stale, err := f.service.Status(ctx, "resp_1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if stale {
		t.Error("fresh job must not be stale")
	}

	f.service.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	_, stale, err = f.service.Status(ctx, "resp_1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !stale {
		t.Error("non-terminal job past the horizon must be stale")
	}
}

func TestStatus_TerminalNeverStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Submit(ctx, testInput()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.service.HandleEvent(ctx, completionEvent("evt_1")); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	f.service.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	_, stale, err := f.service.Status(ctx, "resp_1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if stale {
		t.Error("terminal job must never be stale")
	}
}

func TestStatus_NotFound(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.service.Status(context.Background(), "resp_missing")
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
