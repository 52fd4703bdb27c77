package apitesting

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/48ix/stats/api/handlers"
	"github.com/48ix/stats/api/metrics"
	"github.com/48ix/stats/pkg/auth"
	"github.com/48ix/stats/pkg/influx"
	"github.com/48ix/stats/pkg/jobs"
	pgtesting "github.com/48ix/stats/pkg/postgres/testing"
	"github.com/48ix/stats/pkg/utilization"
	statstesting "github.com/48ix/stats/utils/pkg/testing"
)

// Cheap hashing keeps user setup fast.
var testHashParams = auth.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type StackConfig struct {
	Executor influx.Executor
	Caller   jobs.Caller
	Clock    clockwork.Clock
}

// Stack is the full API wired to a per-test PostgreSQL database and served over httptest.
type Stack struct {
	Pool    *pgxpool.Pool
	Auth    *auth.Store
	Jobs    *jobs.PGStore
	Tracker *jobs.Tracker
	API     *handlers.API
	Server  *httptest.Server
}

func NewStack(t *testing.T, db *pgtesting.DB, cfg StackConfig) *Stack {
	t.Helper()
	log := statstesting.NewLogger()
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewFakeClockAt(time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC))
	}

	pool := pgtesting.NewTestPool(t, db)

	authStore, err := auth.NewStore(auth.StoreConfig{Logger: log, Pool: pool, HashParams: testHashParams})
	require.NoError(t, err)

	jobStore, err := jobs.NewPGStore(jobs.PGStoreConfig{Logger: log, Pool: pool, Clock: cfg.Clock})
	require.NoError(t, err)

	runner, err := jobs.NewRunner(jobs.RunnerConfig{Logger: log, Caller: cfg.Caller, Store: jobStore, Clock: cfg.Clock})
	require.NoError(t, err)

	tracker, err := jobs.NewTracker(jobs.TrackerConfig{Logger: log, Store: jobStore, Runner: runner})
	require.NoError(t, err)

	svc, err := utilization.NewService(utilization.ServiceConfig{Logger: log, Executor: cfg.Executor, Clock: cfg.Clock})
	require.NoError(t, err)

	api, err := handlers.New(handlers.Config{
		Logger:      log,
		Utilization: svc,
		Jobs:        tracker,
		Auth:        authStore,
		Postgres:    pool,
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	api.Mount(r)
	server := httptest.NewServer(r)

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = tracker.Wait(ctx)
	})

	return &Stack{Pool: pool, Auth: authStore, Jobs: jobStore, Tracker: tracker, API: api, Server: server}
}

// CreateUser adds a user and grants it routes, creating any route that does not exist yet.
func (s *Stack) CreateUser(t *testing.T, username, password string, routes ...string) {
	t.Helper()
	ctx := t.Context()
	require.NoError(t, s.Auth.CreateUser(ctx, username, password))
	existing, err := s.Auth.ListRoutes(ctx)
	require.NoError(t, err)
	for _, route := range routes {
		found := false
		for _, e := range existing {
			if e == route {
				found = true
				break
			}
		}
		if !found {
			require.NoError(t, s.Auth.CreateRoute(ctx, route))
			existing = append(existing, route)
		}
	}
	if len(routes) > 0 {
		require.NoError(t, s.Auth.AssociateRoute(ctx, username, routes...))
	}
}

// Do sends a request with optional API credentials and returns the status and body.
func (s *Stack) Do(t *testing.T, method, path, username, password string) (int, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, s.Server.URL+path, nil)
	require.NoError(t, err)
	if username != "" {
		req.Header.Set(handlers.HeaderAPIUser, username)
	}
	if password != "" {
		req.Header.Set(handlers.HeaderAPIKey, password)
	}
	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, strings.TrimSpace(string(body))
}
