// Package docgen coordinates the research job lifecycle: submission to the
// provider, correlation of completion webhooks, and idempotent
// materialization of the resulting documents.
package docgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yoyaba/gtmdocs/internal/drive"
	"github.com/yoyaba/gtmdocs/internal/idempotency"
	"github.com/yoyaba/gtmdocs/internal/jobs"
	"github.com/yoyaba/gtmdocs/internal/observability"
	"github.com/yoyaba/gtmdocs/internal/openai"
	"github.com/yoyaba/gtmdocs/internal/retry"
	"github.com/yoyaba/gtmdocs/pkg/models"
	"github.com/yoyaba/gtmdocs/pkg/prompt"
)

var (
	// ErrInvalidInput means the submission payload is missing required
	// company identity fields.
	ErrInvalidInput = errors.New("invalid research input")
	// ErrSubmissionRejected means the provider refused the job; no local
	// state was created.
	ErrSubmissionRejected = errors.New("research submission rejected")
)

// Materializer is the artifact side of completion processing; implemented by
// drive.Materializer.
type Materializer interface {
	EnsureFolder(ctx context.Context, companyID, domain string) (string, error)
	MaterializeDocument(ctx context.Context, folderID, docName string, content models.ResearchResult) (docID, revisionID string, err error)
	PersistSnapshot(ctx context.Context, folderID, docID string, content models.ResearchResult, contextData map[string]any) (int, error)
}

// Service implements the job lifecycle. All methods are safe for concurrent
// use; the duplicate-suppression guarantees come from the idempotency claim
// plus the job store's terminal-state check, not from any locking here.
type Service struct {
	jobs         jobs.Store
	keys         idempotency.Store
	research     openai.Client
	materializer Materializer
	builder      prompt.Builder
	policy       retry.Policy
	metrics      *observability.Metrics
	logger       *slog.Logger
	model        string
	staleAfter   time.Duration
	now          func() time.Time
}

func NewService(
	jobStore jobs.Store,
	keys idempotency.Store,
	research openai.Client,
	materializer Materializer,
	policy retry.Policy,
	metrics *observability.Metrics,
	logger *slog.Logger,
	model string,
	staleAfter time.Duration,
) *Service {
	return &Service{
		jobs:         jobStore,
		keys:         keys,
		research:     research,
		materializer: materializer,
		policy:       policy,
		metrics:      metrics,
		logger:       logger,
		model:        model,
		staleAfter:   staleAfter,
		now:          time.Now,
	}
}

// Submit validates the payload, sends a background research job to the
// provider, and registers it under the provider-assigned ID. When the
// provider rejects the submission no job record is created.
func (s *Service) Submit(ctx context.Context, input models.ResearchInput) (*models.Job, error) {
	companyID := stringField(input.Company, "id")
	companyName := stringField(input.Company, "name")
	domain := stringField(input.Company, "domain")
	if companyID == "" || domain == "" {
		return nil, fmt.Errorf("%w: company id and domain are required", ErrInvalidInput)
	}

	text := s.builder.BuildResearchInput(input)
	inputTokens := prompt.EstimateTokens(text)

	jobID, err := s.research.SubmitResearch(ctx, text)
	if err != nil {
		if errors.Is(err, openai.ErrRejected) {
			return nil, fmt.Errorf("%w: %v", ErrSubmissionRejected, err)
		}
		return nil, fmt.Errorf("submitting research: %w", err)
	}

	inputCopy := input
	job := &models.Job{
		ID:            jobID,
		Status:        models.JobStatusSubmitted,
		CompanyID:     companyID,
		CompanyName:   companyName,
		CompanyDomain: domain,
		InputTokens:   inputTokens,
		RawInput:      &inputCopy,
		SubmittedAt:   s.now().UTC(),
	}
	if err := s.jobs.Register(ctx, job); err != nil {
		// The provider accepted the job but we lost its record; surface the
		// ID so the caller can still correlate the eventual webhook.
		return nil, fmt.Errorf("registering job %s: %w", jobID, err)
	}

	s.metrics.JobsSubmitted.Inc()
	s.logger.Info("research job submitted",
		"job_id", jobID, "company_id", companyID, "domain", domain, "input_tokens", inputTokens)
	return job, nil
}

// Status returns the job snapshot and whether it looks stale: still
// non-terminal past the configured staleness horizon, which usually means the
// completion webhook was lost.
func (s *Service) Status(ctx context.Context, jobID string) (*models.Job, bool, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	stale := !models.TerminalStatus(job.Status) &&
		s.staleAfter > 0 &&
		s.now().Sub(job.SubmittedAt) > s.staleAfter
	return job, stale, nil
}

// HandleEvent processes one verified completion event. Safe to call any
// number of times with the same event: the first call materializes, every
// later call converges on the recorded result.
func (s *Service) HandleEvent(ctx context.Context, event *openai.Event) error {
	jobID := event.Data.ID
	logger := s.logger.With("job_id", jobID, "event_id", event.ID)

	key := eventKey(event)
	claimed, err := s.keys.TryClaim(ctx, key)
	if err != nil {
		// The terminal-state check below still prevents duplicate artifacts,
		// so a degraded key store does not stop processing.
		logger.Warn("idempotency claim failed, processing anyway", "error", err)
		claimed = true
	}
	if !claimed {
		s.metrics.DuplicateEvents.Inc()
		logger.Info("duplicate event suppressed", "key", key)
		return nil
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			// Unknown job: release the claim so a redelivery after the job
			// record shows up is not suppressed.
			s.releaseClaim(ctx, key, logger)
			logger.Warn("event for unknown job ignored")
			return nil
		}
		s.releaseClaim(ctx, key, logger)
		return fmt.Errorf("loading job %s: %w", jobID, err)
	}
	if models.TerminalStatus(job.Status) {
		logger.Info("event for terminal job ignored", "status", job.Status)
		return nil
	}

	if err := s.jobs.MarkProcessing(ctx, jobID); err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			// A concurrent delivery finished first.
			logger.Info("job completed concurrently")
			return nil
		}
		logger.Warn("could not mark job processing", "error", err)
	}

	started := s.now()
	result, err := s.process(ctx, job, logger)
	if err != nil {
		s.fail(ctx, job.ID, key, err, logger)
		return err
	}

	if err := s.jobs.TransitionToCompleted(ctx, job.ID, *result); err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			logger.Info("job completed concurrently")
			return nil
		}
		s.releaseClaim(ctx, key, logger)
		return fmt.Errorf("recording completion of %s: %w", job.ID, err)
	}

	s.metrics.JobsCompleted.Inc()
	s.metrics.ProcessingSeconds.Observe(s.now().Sub(started).Seconds())
	logger.Info("job completed",
		"doc_id", result.DocID, "revision_id", result.RevisionID,
		"snapshot_version", result.SnapshotVersion)
	return nil
}

// process fetches the output and materializes the artifacts for one job.
func (s *Service) process(ctx context.Context, job *models.Job, logger *slog.Logger) (*models.CompletionResult, error) {
	resp, err := retry.Do(ctx, s.policy, func(ctx context.Context) (*openai.Response, error) {
		return s.research.RetrieveResponse(ctx, job.ID)
	}, openai.Classify)
	if err != nil {
		return nil, fmt.Errorf("retrieving response: %w", err)
	}
	if resp.Status != openai.ResponseStatusCompleted {
		return nil, fmt.Errorf("response in state %q, expected %q", resp.Status, openai.ResponseStatusCompleted)
	}

	content, err := ParseResearchResult(resp.OutputText)
	if err != nil {
		return nil, err
	}

	folderID, err := s.materializer.EnsureFolder(ctx, job.CompanyID, job.CompanyDomain)
	if err != nil {
		return nil, fmt.Errorf("ensuring folder: %w", err)
	}

	docName := drive.DocumentName(job.CompanyID, job.CompanyDomain)
	docID, revisionID, err := s.materializer.MaterializeDocument(ctx, folderID, docName, content)
	if err != nil {
		return nil, fmt.Errorf("materializing document: %w", err)
	}

	// Snapshot persistence is best effort; the document is the artifact of
	// record.
	snapshotVersion, err := s.materializer.PersistSnapshot(ctx, folderID, docID, content, snapshotContext(job))
	if err != nil {
		logger.Warn("snapshot persistence failed", "doc_id", docID, "error", err)
		snapshotVersion = 0
	}

	outputTokens := prompt.EstimateTokens(resp.OutputText)
	return &models.CompletionResult{
		DocID:           docID,
		DocURL:          drive.DocumentURL(docID),
		RevisionID:      revisionID,
		SnapshotVersion: snapshotVersion,
		TokenUsage: models.TokenUsage{
			Model:        s.model,
			InputTokens:  job.InputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  job.InputTokens + outputTokens,
		},
	}, nil
}

// fail records the terminal failure and releases the idempotency claim so a
// later redelivery can retry the whole flow.
func (s *Service) fail(ctx context.Context, jobID, key string, cause error, logger *slog.Logger) {
	if err := s.jobs.TransitionToFailed(ctx, jobID, cause.Error()); err != nil {
		if !errors.Is(err, jobs.ErrInvalidTransition) {
			logger.Error("could not record job failure", "error", err)
		}
	} else {
		s.metrics.JobsFailed.Inc()
	}
	s.releaseClaim(ctx, key, logger)
	logger.Error("job processing failed", "error", cause)
}

func (s *Service) releaseClaim(ctx context.Context, key string, logger *slog.Logger) {
	if err := s.keys.ReleaseOnFailure(ctx, key); err != nil {
		logger.Warn("could not release idempotency key", "key", key, "error", err)
	}
}

// eventKey picks the deduplication key for a delivery: the provider's event
// ID when present, else a deterministic composite of job ID and event type.
func eventKey(event *openai.Event) string {
	if event.ID != "" {
		return event.ID
	}
	return event.Data.ID + ":" + event.Type
}

func snapshotContext(job *models.Job) map[string]any {
	if job.RawInput == nil {
		return nil
	}
	return map[string]any{
		"company":       job.RawInput.Company,
		"enriched_data": job.RawInput.EnrichedData,
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
