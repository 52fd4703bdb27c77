package handlers

import (
	"context"
	"net/http"
	"time"
)

const readinessTimeout = 5 * time.Second

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz checks the time-series backend and PostgreSQL. It fails immediately
// once shutdown has started.
func (a *API) Readyz(w http.ResponseWriter, r *http.Request) {
	if a.shuttingDown.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	if err := a.cfg.Utilization.Ping(ctx); err != nil {
		a.log.Warn("api: readiness check failed", "component", "timeseries", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("time-series database unavailable"))
		return
	}
	if a.cfg.Postgres != nil {
		if err := a.cfg.Postgres.Ping(ctx); err != nil {
			a.log.Warn("api: readiness check failed", "component", "postgres", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database connection failed"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
