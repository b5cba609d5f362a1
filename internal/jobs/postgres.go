package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yoyaba/gtmdocs/pkg/models"
)

// PostgresStore implements Store using pgx/v5. Terminal transitions are
// conditional UPDATEs, so the check-and-set happens in the database and holds
// across multiple service instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Register(ctx context.Context, job *models.Job) error {
	status := job.Status
	if status == "" {
		status = models.JobStatusSubmitted
	}

	rawInput, err := marshalNullable(job.RawInput)
	if err != nil {
		return fmt.Errorf("encode raw input: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, company_id, company_name, company_domain, input_tokens, raw_input, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		job.ID, status, job.CompanyID, job.CompanyName, job.CompanyDomain,
		job.InputTokens, rawInput, job.SubmittedAt)
	if err != nil {
		return fmt.Errorf("register job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateJob
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	var (
		job      models.Job
		rawInput []byte
		result   []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, company_id, company_name, company_domain, input_tokens,
		        raw_input, submitted_at, result, error_message, completed_at
		 FROM jobs WHERE id = $1`, id,
	).Scan(&job.ID, &job.Status, &job.CompanyID, &job.CompanyName, &job.CompanyDomain,
		&job.InputTokens, &rawInput, &job.SubmittedAt, &result, &job.ErrorMessage, &job.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	if rawInput != nil {
		job.RawInput = &models.ResearchInput{}
		if err := json.Unmarshal(rawInput, job.RawInput); err != nil {
			return nil, fmt.Errorf("decode raw input: %w", err)
		}
	}
	if result != nil {
		job.Result = &models.CompletionResult{}
		if err := json.Unmarshal(result, job.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	return &job, nil
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2 WHERE id = $1 AND status = $3`,
		id, models.JobStatusProcessing, models.JobStatusSubmitted)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.classifyMiss(ctx, id)
}

func (s *PostgresStore) TransitionToCompleted(ctx context.Context, id string, result models.CompletionResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, result = $3, completed_at = NOW()
		 WHERE id = $1 AND status NOT IN ($4, $5)`,
		id, models.JobStatusCompleted, encoded,
		models.JobStatusCompleted, models.JobStatusFailed)
	if err != nil {
		return fmt.Errorf("transition to completed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.classifyMiss(ctx, id)
}

func (s *PostgresStore) TransitionToFailed(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, error_message = $3, completed_at = NOW()
		 WHERE id = $1 AND status NOT IN ($4, $5)`,
		id, models.JobStatusFailed, errMsg,
		models.JobStatusCompleted, models.JobStatusFailed)
	if err != nil {
		return fmt.Errorf("transition to failed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.classifyMiss(ctx, id)
}

// classifyMiss distinguishes "no such job" from "already terminal" after a
// conditional update matched zero rows. MarkProcessing can also miss because
// a concurrent worker already moved the job to processing; that is a no-op.
func (s *PostgresStore) classifyMiss(ctx context.Context, id string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inspect job: %w", err)
	}
	if models.TerminalStatus(status) {
		return ErrInvalidTransition
	}
	return nil
}

func marshalNullable(v *models.ResearchInput) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

var _ Store = (*PostgresStore)(nil)
