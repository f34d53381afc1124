package jobapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/remedy/internal/remediation"
)

// submitResponse is the wire shape of a submission result.
type submitResponse struct {
	Status        string `json:"status"` // "accepted" or "duplicate"
	JobID         string `json:"job_id,omitempty"`
	ExistingJobID string `json:"existing_job_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload remediation.SubmitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	result, err := a.svc.Submit(r.Context(), &payload)
	if err != nil {
		var verr *remediation.ValidationError
		var rle *remediation.RateLimitError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Error())
		case errors.As(err, &rle):
			w.Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, rle.Error())
		default:
			a.logger.Error(r.Context(), err, "submit failed", "host", payload.Host)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("remedy.job.id", result.Job.ID),
		attribute.String("remedy.job.host", result.Job.Host),
		attribute.Bool("remedy.job.duplicate", result.Duplicate),
	)

	w.Header().Set("X-Correlation-Id", result.Job.CorrelationID)

	if result.Duplicate {
		writeJSON(w, http.StatusOK, submitResponse{
			Status:        "duplicate",
			ExistingJobID: result.Job.ID,
			CorrelationID: result.Job.CorrelationID,
		})
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		Status:        "accepted",
		JobID:         result.Job.ID,
		CorrelationID: result.Job.CorrelationID,
	})
}
