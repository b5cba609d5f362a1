package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yoyaba/gtmdocs/internal/api/response"
	"github.com/yoyaba/gtmdocs/internal/jobs"
	"github.com/yoyaba/gtmdocs/pkg/models"
)

// JobReader defines the interface the status handler depends on.
type JobReader interface {
	Status(ctx context.Context, jobID string) (*models.Job, bool, error)
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewStatusHandler(svc JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if jobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job ID is required", nil)
			return
		}

		job, stale, err := svc.Status(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown job ID", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load job", nil)
			return
		}

		response.JSON(w, jobResponse{
			JobID:         job.ID,
			Status:        job.Status,
			CompanyID:     job.CompanyID,
			CompanyName:   job.CompanyName,
			CompanyDomain: job.CompanyDomain,
			SubmittedAt:   job.SubmittedAt,
			CompletedAt:   job.CompletedAt,
			Result:        job.Result,
			ErrorMessage:  job.ErrorMessage,
			Stale:         stale,
		})
	}
}

type jobResponse struct {
	JobID         string                   `json:"job_id"`
	Status        string                   `json:"status"`
	CompanyID     string                   `json:"company_id"`
	CompanyName   string                   `json:"company_name,omitempty"`
	CompanyDomain string                   `json:"company_domain"`
	SubmittedAt   time.Time                `json:"submitted_at"`
	CompletedAt   *time.Time               `json:"completed_at,omitempty"`
	Result        *models.CompletionResult `json:"result,omitempty"`
	ErrorMessage  *string                  `json:"error_message,omitempty"`
	Stale         bool                     `json:"stale"`
}
