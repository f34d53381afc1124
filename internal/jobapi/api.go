// Package jobapi exposes the remediation orchestrator over HTTP: submission,
// job listing/lookup, cancellation, administrative delete, and health.
package jobapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/remedy/internal/remediation"
)

// JobService defines the business operations jobapi needs.
type JobService interface {
	Submit(ctx context.Context, p *remediation.SubmitPayload) (*remediation.SubmitResult, error)
	Get(ctx context.Context, id string) (*remediation.Job, bool, error)
	List(ctx context.Context, f remediation.Filter) ([]*remediation.Job, error)
	Cancel(ctx context.Context, id string) (*remediation.Job, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (remediation.Stats, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    JobService
}

// New creates a new API handler.
func New(logger log.Logger, svc JobService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("job service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/remediations", a.handleSubmit)
		r.Get("/remediations", a.handleList)
		r.Get("/remediations/{id}", a.handleGet)
		r.Delete("/remediations/{id}", a.handleDelete)
		r.Post("/remediations/{id}/cancel", a.handleCancel)
		r.Get("/health", a.handleHealth)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors to HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	var conflict *remediation.ConflictError
	switch {
	case errors.Is(err, remediation.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	default:
		a.logger.Error(r.Context(), err, "request failed", "op", op)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
