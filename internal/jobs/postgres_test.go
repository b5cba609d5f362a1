package jobs_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/yoyaba/gtmdocs/internal/jobs"
	"github.com/yoyaba/gtmdocs/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gtmdocs_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = jobs.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func pgJob(id string) *models.Job {
	return &models.Job{
		ID:            id,
		CompanyID:     "4471",
		CompanyName:   "Acme Analytics",
		CompanyDomain: "acme.io",
		InputTokens:   1200,
		RawInput: &models.ResearchInput{
			Company:      map[string]any{"name": "Acme Analytics", "domain": "acme.io"},
			EnrichedData: map[string]any{"total_funding": "12M"},
		},
		SubmittedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPostgresRegisterGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := jobs.NewPostgresStore(pool)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, pgJob("resp_1")))

	job, err := s.Get(ctx, "resp_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSubmitted, job.Status)
	assert.Equal(t, "Acme Analytics", job.CompanyName)
	require.NotNil(t, job.RawInput)
	assert.Equal(t, "acme.io", job.RawInput.Company["domain"])
	assert.Nil(t, job.Result)
	assert.Nil(t, job.CompletedAt)
}

func TestPostgresRegister_Duplicate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := jobs.NewPostgresStore(pool)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, pgJob("resp_1")))

	err := s.Register(ctx, pgJob("resp_1"))
	assert.ErrorIs(t, err, jobs.ErrDuplicateJob)
}

func TestPostgresGet_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := jobs.NewPostgresStore(pool)

	_, err := s.Get(context.Background(), "resp_missing")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestPostgresTerminalTransitions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := jobs.NewPostgresStore(pool)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, pgJob("resp_1")))
	require.NoError(t, s.MarkProcessing(ctx, "resp_1"))

	result := models.CompletionResult{
		DocID:           "doc_9",
		DocURL:          "https://docs.google.com/document/d/doc_9/edit",
		RevisionID:      "rev_3",
		SnapshotVersion: 1,
		TokenUsage:      models.TokenUsage{Model: "o3-deep-research", InputTokens: 1200, OutputTokens: 800, TotalTokens: 2000},
	}
	require.NoError(t, s.TransitionToCompleted(ctx, "resp_1", result))

	// Terminal state is immutable.
	err := s.TransitionToCompleted(ctx, "resp_1", models.CompletionResult{DocID: "doc_other"})
	assert.ErrorIs(t, err, jobs.ErrInvalidTransition)
	err = s.TransitionToFailed(ctx, "resp_1", "late failure")
	assert.ErrorIs(t, err, jobs.ErrInvalidTransition)
	err = s.MarkProcessing(ctx, "resp_1")
	assert.ErrorIs(t, err, jobs.ErrInvalidTransition)

	job, err := s.Get(ctx, "resp_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "doc_9", job.Result.DocID)
	assert.Equal(t, 2000, job.Result.TokenUsage.TotalTokens)
	assert.Nil(t, job.ErrorMessage)
	assert.NotNil(t, job.CompletedAt)
}

func TestPostgresTransitionToFailed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := jobs.NewPostgresStore(pool)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, pgJob("resp_1")))
	require.NoError(t, s.TransitionToFailed(ctx, "resp_1", "materialization failed"))

	job, err := s.Get(ctx, "resp_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "materialization failed", *job.ErrorMessage)
}

func TestPostgresTransition_UnknownJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := jobs.NewPostgresStore(pool)
	ctx := context.Background()

	err := s.TransitionToCompleted(ctx, "resp_x", models.CompletionResult{})
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestPostgresMarkProcessing_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := jobs.NewPostgresStore(pool)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, pgJob("resp_1")))
	require.NoError(t, s.MarkProcessing(ctx, "resp_1"))
	// Second worker marking the same job is a no-op, not an error.
	require.NoError(t, s.MarkProcessing(ctx, "resp_1"))

	job, err := s.Get(ctx, "resp_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
}
