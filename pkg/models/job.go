package models

import (
	"time"
)

const (
	JobStatusSubmitted  = "submitted"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// TerminalStatus reports whether a job status permits no further transitions.
func TerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// Job tracks one background research job submitted to the provider. The job ID
// is assigned by the provider at submit time; webhook deliveries carry only
// this ID, so everything needed at completion time is captured here.
type Job struct {
	ID            string            `db:"id"             json:"id"`
	Status        string            `db:"status"         json:"status"`
	CompanyID     string            `db:"company_id"     json:"company_id"`
	CompanyName   string            `db:"company_name"   json:"company_name"`
	CompanyDomain string            `db:"company_domain" json:"company_domain"`
	InputTokens   int               `db:"input_tokens"   json:"input_tokens"`
	RawInput      *ResearchInput    `db:"raw_input"      json:"raw_input,omitempty"`
	SubmittedAt   time.Time         `db:"submitted_at"   json:"submitted_at"`
	Result        *CompletionResult `db:"result"         json:"result,omitempty"`
	ErrorMessage  *string           `db:"error_message"  json:"error_message,omitempty"`
	CompletedAt   *time.Time        `db:"completed_at"   json:"completed_at,omitempty"`
}

// ResearchInput is the submission payload snapshot kept for completion-time
// materialization. The provider does not echo the original request back.
type ResearchInput struct {
	Company      map[string]any `json:"company"`
	EnrichedData map[string]any `json:"enriched_data"`
}

// CompletionResult is set at most once, when a job reaches its terminal
// completed state.
type CompletionResult struct {
	DocID           string     `json:"doc_id"`
	DocURL          string     `json:"doc_url"`
	RevisionID      string     `json:"revision_id"`
	SnapshotVersion int        `json:"snapshot_version"`
	TokenUsage      TokenUsage `json:"token_usage"`
}

// TokenUsage records estimated token consumption for one research job.
type TokenUsage struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalTokens  int    `json:"total_tokens"`
}
