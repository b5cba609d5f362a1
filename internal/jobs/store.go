// Package jobs is the authoritative state machine for submitted research jobs.
//
// A job moves submitted → processing → {completed, failed}. The terminal
// transition is a check-and-set: once a job is completed or failed its
// result/error are immutable and every further transition fails with
// ErrInvalidTransition. That makes repeated webhook delivery safe at the
// state layer, independently of the idempotency key store.
package jobs

import (
	"context"
	"errors"

	"github.com/yoyaba/gtmdocs/pkg/models"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrDuplicateJob      = errors.New("job already registered")
	ErrInvalidTransition = errors.New("job already in terminal state")
)

// Store owns Job records exclusively; all access goes through the atomic
// register/transition contract, never direct field mutation.
type Store interface {
	// Register adds a new job in the submitted state. Fails with
	// ErrDuplicateJob if the ID is already present; no partial mutation
	// occurs in that case.
	Register(ctx context.Context, job *models.Job) error

	// Get returns a snapshot of the job, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Job, error)

	// MarkProcessing moves a submitted job to processing. This only makes
	// in-flight work observable; it does not gate correctness. Terminal jobs
	// return ErrInvalidTransition.
	MarkProcessing(ctx context.Context, id string) error

	// TransitionToCompleted records the result and moves the job to its
	// terminal completed state. ErrInvalidTransition if already terminal.
	TransitionToCompleted(ctx context.Context, id string, result models.CompletionResult) error

	// TransitionToFailed records the error and moves the job to its terminal
	// failed state. ErrInvalidTransition if already terminal.
	TransitionToFailed(ctx context.Context, id string, errMsg string) error
}
