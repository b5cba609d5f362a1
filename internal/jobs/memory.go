package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/yoyaba/gtmdocs/pkg/models"
)

// MemoryStore implements Store with a mutex-guarded map. This is the default
// backend; job state does not survive a restart, which the design accepts (the
// Postgres backend exists for deployments that cannot).
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Job),
		now:  time.Now,
	}
}

func (s *MemoryStore) Register(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return ErrDuplicateJob
	}

	stored := *job
	if stored.Status == "" {
		stored.Status = models.JobStatusSubmitted
	}
	if stored.SubmittedAt.IsZero() {
		stored.SubmittedAt = s.now().UTC()
	}
	s.jobs[job.ID] = &stored
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	snapshot := *job
	return &snapshot, nil
}

func (s *MemoryStore) MarkProcessing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if models.TerminalStatus(job.Status) {
		return ErrInvalidTransition
	}
	job.Status = models.JobStatusProcessing
	return nil
}

func (s *MemoryStore) TransitionToCompleted(_ context.Context, id string, result models.CompletionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if models.TerminalStatus(job.Status) {
		return ErrInvalidTransition
	}

	now := s.now().UTC()
	job.Status = models.JobStatusCompleted
	job.Result = &result
	job.CompletedAt = &now
	return nil
}

func (s *MemoryStore) TransitionToFailed(_ context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if models.TerminalStatus(job.Status) {
		return ErrInvalidTransition
	}

	now := s.now().UTC()
	job.Status = models.JobStatusFailed
	job.ErrorMessage = &errMsg
	job.CompletedAt = &now
	return nil
}

var _ Store = (*MemoryStore)(nil)
