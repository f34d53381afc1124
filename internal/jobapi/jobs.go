package jobapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/remedy/internal/remediation"
)

// maxListLimit caps one listing response regardless of the requested limit.
const maxListLimit = 500

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("remedy.job.id", id))

	job, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get job", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	span.SetAttributes(attribute.String("remedy.job.state", string(job.State)))
	writeJSON(w, http.StatusOK, job)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := a.svc.List(r.Context(), f)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list jobs")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if jobs == nil {
		jobs = []*remediation.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := a.svc.Delete(r.Context(), id); err != nil {
		a.writeServiceError(w, r, err, "delete")
		return
	}

	a.logger.Info(r.Context(), "job deleted", "id", id)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := a.svc.Cancel(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "cancel")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.Stats(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to collect stats")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_jobs": stats.ActiveJobs,
		"queue_depth": stats.QueueDepth,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// filterFromQuery parses list query parameters: state (comma-separated),
// host, since/until (RFC 3339), limit.
func filterFromQuery(r *http.Request) (remediation.Filter, error) {
	var f remediation.Filter
	q := r.URL.Query()

	if raw := q.Get("state"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := remediation.State(strings.TrimSpace(s))
			switch st {
			case remediation.StatePending, remediation.StateRunning, remediation.StateSucceeded,
				remediation.StateFailed, remediation.StateRetrying, remediation.StateCancelled:
				f.States = append(f.States, st)
			default:
				return f, &remediation.ValidationError{Field: "state", Reason: "unknown state " + string(st)}
			}
		}
	}

	f.Host = q.Get("host")

	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, &remediation.ValidationError{Field: "since", Reason: "must be RFC 3339"}
		}
		f.Since = t
	}
	if raw := q.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, &remediation.ValidationError{Field: "until", Reason: "must be RFC 3339"}
		}
		f.Until = t
	}

	f.Limit = 100
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, &remediation.ValidationError{Field: "limit", Reason: "must be a positive integer"}
		}
		f.Limit = n
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}

	return f, nil
}
