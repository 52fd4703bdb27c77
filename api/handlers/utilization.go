package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/48ix/stats/pkg/statserr"
	"github.com/48ix/stats/pkg/utilization"
)

// parseWindow reads period, start and end. A start selects an absolute range
// and period is ignored; otherwise period (hours) or the service default applies.
func parseWindow(r *http.Request) (utilization.Window, error) {
	q := r.URL.Query()
	if start := q.Get("start"); start != "" {
		return utilization.Range(start, q.Get("end")), nil
	}
	period := 0
	if raw := q.Get("period"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return utilization.Window{}, statserr.InvalidInput("period must be a positive number of hours, got %q", raw)
		}
		period = n
	}
	return utilization.LastHours(period), nil
}

// GetPortUtilization returns the ingress and egress series and averages for one port.
func (a *API) GetPortUtilization(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.cfg.Utilization.PortUtilizationResponse(r.Context(), chi.URLParam(r, "port_id"), window)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOverallUtilization returns the IX-wide series, averages and ingress peak.
func (a *API) GetOverallUtilization(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.cfg.Utilization.OverallUtilizationResponse(r.Context(), window)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
