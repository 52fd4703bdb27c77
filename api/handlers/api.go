package handlers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/48ix/stats/pkg/jobs"
	"github.com/48ix/stats/pkg/utilization"
)

// Route names checked against a user's grants.
const (
	RoutePolicyUpdate = "/policy/update/"
	RouteACLUpdate    = "/acls/update/"
	RouteJobs         = "/job/*"
)

type UtilizationService interface {
	PortUtilizationResponse(ctx context.Context, portID string, w utilization.Window) (*utilization.PortUtilization, error)
	OverallUtilizationResponse(ctx context.Context, w utilization.Window) (*utilization.OverallUtilization, error)
	Ping(ctx context.Context) error
}

type JobTracker interface {
	Submit(ctx context.Context, requestor string, action jobs.Action) (*jobs.Job, error)
	Status(ctx context.Context, id int64) (*jobs.Job, error)
	List(ctx context.Context, limit int) ([]jobs.Job, error)
}

// Verifier checks API credentials and the user's grant for a route.
type Verifier interface {
	Verify(ctx context.Context, username, password, route string) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Logger       *slog.Logger
	Utilization  UtilizationService
	Jobs         JobTracker
	Auth         Verifier
	Postgres     Pinger
	Title        string
	Description  string
	DefaultLimit int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Utilization == nil {
		return errors.New("utilization service is required")
	}
	if cfg.Jobs == nil {
		return errors.New("job tracker is required")
	}
	if cfg.Auth == nil {
		return errors.New("auth verifier is required")
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = jobs.DefaultListLimit
	}
	return nil
}

// API serves the HTTP endpoints.
type API struct {
	log          *slog.Logger
	cfg          Config
	shuttingDown atomic.Bool
}

func New(cfg Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &API{log: cfg.Logger, cfg: cfg}, nil
}

// SetShuttingDown makes the readiness probe fail from now on.
func (a *API) SetShuttingDown() {
	a.shuttingDown.Store(true)
}

// Mount registers every endpoint on r.
func (a *API) Mount(r chi.Router) {
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Readyz)
	r.Get("/api/version", a.GetVersion)

	r.Get("/utilization/all", a.GetOverallUtilization)
	r.Get("/utilization/{port_id}", a.GetPortUtilization)

	r.With(a.RequireRoute(RoutePolicyUpdate)).Post("/policy/update/", a.PostUpdatePolicy)
	r.With(a.RequireRoute(RouteACLUpdate)).Post("/acls/update/", a.PostUpdateACLs)

	r.Group(func(r chi.Router) {
		r.Use(a.RequireRoute(RouteJobs))
		r.Get("/job/{job_id}", a.GetJob)
		r.Get("/policy/update/{job_id}", a.GetJob)
		r.Get("/jobs", a.ListJobs)
	})
}
