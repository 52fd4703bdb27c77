package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/48ix/stats/pkg/jobs"
	"github.com/48ix/stats/pkg/statserr"
)

const (
	defaultPolicyWait = 1
	maxListLimit      = 1000
)

func (a *API) submit(w http.ResponseWriter, r *http.Request, action jobs.Action) {
	job, err := a.cfg.Jobs.Submit(r.Context(), RequestorFromContext(r.Context()), action)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// PostUpdatePolicy starts a routing policy rebuild and returns the new job.
func (a *API) PostUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	a.submit(w, r, jobs.UpdatePolicy(defaultPolicyWait))
}

// PostUpdateACLs starts a switch ACL push and returns the new job.
func (a *API) PostUpdateACLs(w http.ResponseWriter, r *http.Request) {
	a.submit(w, r, jobs.UpdateACLs())
}

func (a *API) GetJob(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "job_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		a.writeError(w, r, statserr.InvalidInput("job id must be an integer, got %q", raw))
		return
	}
	job, err := a.cfg.Jobs.Status(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobs returns the most recent jobs, newest first.
func (a *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := a.cfg.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.writeError(w, r, statserr.InvalidInput("limit must be a positive integer, got %q", raw))
			return
		}
		limit = min(n, maxListLimit)
	}
	list, err := a.cfg.Jobs.List(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
