package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/yoyaba/gtmdocs/internal/api/response"
	"github.com/yoyaba/gtmdocs/internal/docgen"
	"github.com/yoyaba/gtmdocs/pkg/models"
)

// ResearchSubmitter defines the interface the generate handler depends on.
type ResearchSubmitter interface {
	Submit(ctx context.Context, input models.ResearchInput) (*models.Job, error)
}

// NewGenerateHandler returns an http.HandlerFunc for POST /api/v1/generate.
// The handler acknowledges with 202 as soon as the provider accepts the job;
// the document materializes later, driven by the completion webhook.
func NewGenerateHandler(svc ResearchSubmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Company      map[string]any `json:"company"`
			EnrichedData map[string]any `json:"enriched_data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(req.Company) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "company is required", nil)
			return
		}

		job, err := svc.Submit(r.Context(), models.ResearchInput{
			Company:      req.Company,
			EnrichedData: req.EnrichedData,
		})
		if err != nil {
			switch {
			case errors.Is(err, docgen.ErrInvalidInput):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			case errors.Is(err, docgen.ErrSubmissionRejected):
				response.Error(w, http.StatusUnprocessableEntity, "SUBMISSION_REJECTED",
					"The research provider rejected the request", nil)
			default:
				response.Error(w, http.StatusBadGateway, "PROVIDER_ERROR",
					"Failed to submit research job", nil)
			}
			return
		}

		response.Accepted(w, submitResponse{
			JobID:       job.ID,
			Status:      job.Status,
			CompanyID:   job.CompanyID,
			InputTokens: job.InputTokens,
			SubmittedAt: job.SubmittedAt,
		})
	}
}

type submitResponse struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	CompanyID   string    `json:"company_id"`
	InputTokens int       `json:"input_tokens"`
	SubmittedAt time.Time `json:"submitted_at"`
}
