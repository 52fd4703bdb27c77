package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/48ix/stats/api/handlers"
	"github.com/48ix/stats/pkg/jobs"
	"github.com/48ix/stats/pkg/statserr"
	"github.com/48ix/stats/pkg/utilization"
	statstesting "github.com/48ix/stats/utils/pkg/testing"
)

type fakeUtilization struct {
	PortFunc    func(ctx context.Context, portID string, w utilization.Window) (*utilization.PortUtilization, error)
	OverallFunc func(ctx context.Context, w utilization.Window) (*utilization.OverallUtilization, error)
	PingFunc    func(ctx context.Context) error
}

func (f *fakeUtilization) PortUtilizationResponse(ctx context.Context, portID string, w utilization.Window) (*utilization.PortUtilization, error) {
	return f.PortFunc(ctx, portID, w)
}

func (f *fakeUtilization) OverallUtilizationResponse(ctx context.Context, w utilization.Window) (*utilization.OverallUtilization, error) {
	return f.OverallFunc(ctx, w)
}

func (f *fakeUtilization) Ping(ctx context.Context) error {
	if f.PingFunc != nil {
		return f.PingFunc(ctx)
	}
	return nil
}

type fakeTracker struct {
	SubmitFunc func(ctx context.Context, requestor string, action jobs.Action) (*jobs.Job, error)
	StatusFunc func(ctx context.Context, id int64) (*jobs.Job, error)
	ListFunc   func(ctx context.Context, limit int) ([]jobs.Job, error)
}

func (f *fakeTracker) Submit(ctx context.Context, requestor string, action jobs.Action) (*jobs.Job, error) {
	return f.SubmitFunc(ctx, requestor, action)
}

func (f *fakeTracker) Status(ctx context.Context, id int64) (*jobs.Job, error) {
	return f.StatusFunc(ctx, id)
}

func (f *fakeTracker) List(ctx context.Context, limit int) ([]jobs.Job, error) {
	return f.ListFunc(ctx, limit)
}

// fakeVerifier accepts ops/hunter2 for any route in grants.
type fakeVerifier struct {
	mu     sync.Mutex
	grants map[string]bool
	routes []string
}

func (f *fakeVerifier) Verify(ctx context.Context, username, password, route string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, route)
	if username != "ops" || password != "hunter2" || !f.grants[route] {
		return statserr.AuthFailure("Authentication or authorization failed for user '%s'", username)
	}
	return nil
}

func (f *fakeVerifier) checked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.routes...)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type testAPI struct {
	api     *handlers.API
	router  chi.Router
	util    *fakeUtilization
	tracker *fakeTracker
	auth    *fakeVerifier
}

func newTestAPI(t *testing.T, pg handlers.Pinger) *testAPI {
	t.Helper()
	ta := &testAPI{
		util:    &fakeUtilization{},
		tracker: &fakeTracker{},
		auth: &fakeVerifier{grants: map[string]bool{
			handlers.RoutePolicyUpdate: true,
			handlers.RouteJobs:         true,
		}},
	}
	api, err := handlers.New(handlers.Config{
		Logger:      statstesting.NewLogger(),
		Utilization: ta.util,
		Jobs:        ta.tracker,
		Auth:        ta.auth,
		Postgres:    pg,
		Title:       "Stats API",
		Description: "IX Statistics",
	})
	require.NoError(t, err)
	r := chi.NewRouter()
	api.Mount(r)
	ta.api, ta.router = api, r
	return ta
}

func (ta *testAPI) do(method, target string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if authed {
		req.Header.Set(handlers.HeaderAPIUser, "ops")
		req.Header.Set(handlers.HeaderAPIKey, "hunter2")
	}
	rr := httptest.NewRecorder()
	ta.router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handlers.ErrorResponse {
	t.Helper()
	var body handlers.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

func TestStats_Handlers_PortUtilization(t *testing.T) {
	t.Parallel()

	t.Run("window parameters", func(t *testing.T) {
		t.Parallel()
		ta := newTestAPI(t, nil)
		var got utilization.Window
		ta.util.PortFunc = func(ctx context.Context, portID string, w utilization.Window) (*utilization.PortUtilization, error) {
			got = w
			return &utilization.PortUtilization{PortID: portID, Ingress: [][]any{}, Egress: [][]any{}}, nil
		}

		rr := ta.do(http.MethodGet, "/utilization/loc1.12.3?period=4", false)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, utilization.LastHours(4), got)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

		rr = ta.do(http.MethodGet, "/utilization/loc1.12.3", false)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, utilization.Window{}, got)

		rr = ta.do(http.MethodGet, "/utilization/loc1.12.3?period=4&start=2020-05-01T10:00:00Z&end=2020-05-01T11:00:00Z", false)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, utilization.Range("2020-05-01T10:00:00Z", "2020-05-01T11:00:00Z"), got)
	})

	t.Run("bad period is rejected before querying", func(t *testing.T) {
		t.Parallel()
		ta := newTestAPI(t, nil)
		ta.util.PortFunc = func(ctx context.Context, portID string, w utilization.Window) (*utilization.PortUtilization, error) {
			t.Error("service should not be called")
			return nil, nil
		}
		for _, period := range []string{"abc", "0", "-3"} {
			rr := ta.do(http.MethodGet, "/utilization/loc1.12.3?period="+period, false)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "warning", decodeError(t, rr).Level)
		}
	})

	t.Run("error kinds map to status codes", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			err    error
			status int
			msg    string
			level  string
		}{
			{statserr.InvalidInput("port id must have the form location.participant.port"), http.StatusBadRequest, "port id must have the form location.participant.port", "warning"},
			{statserr.BackendUnavailable("database is not running", errors.New("dial tcp: connection refused")), http.StatusServiceUnavailable, "database is not running", "critical"},
			{statserr.QueryFailed("query failed: shard not found", nil), http.StatusBadGateway, "query failed: shard not found", "warning"},
			{errors.New("postgres://stats:secret@db:5432 exploded"), http.StatusInternalServerError, "internal server error", "critical"},
		}
		for _, tt := range tests {
			ta := newTestAPI(t, nil)
			ta.util.PortFunc = func(ctx context.Context, portID string, w utilization.Window) (*utilization.PortUtilization, error) {
				return nil, tt.err
			}
			rr := ta.do(http.MethodGet, "/utilization/loc1.12.3", false)
			require.Equal(t, tt.status, rr.Code)
			body := decodeError(t, rr)
			assert.Equal(t, tt.msg, body.Error)
			assert.Equal(t, tt.level, body.Level)
		}
	})
}

func TestStats_Handlers_OverallUtilization(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, nil)
	ta.util.OverallFunc = func(ctx context.Context, w utilization.Window) (*utilization.OverallUtilization, error) {
		assert.Equal(t, utilization.LastHours(2), w)
		return &utilization.OverallUtilization{
			Ingress:        [][]any{{"2020-05-01T10:00:00Z", int64(101)}},
			Egress:         [][]any{},
			IngressAverage: 5001,
			EgressAverage:  4001,
			IngressPeak:    9001,
		}, nil
	}
	ta.util.PortFunc = func(ctx context.Context, portID string, w utilization.Window) (*utilization.PortUtilization, error) {
		t.Error("/utilization/all must not be treated as a port id")
		return nil, nil
	}

	rr := ta.do(http.MethodGet, "/utilization/all?period=2", false)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{
		"ingress": [["2020-05-01T10:00:00Z", 101]],
		"egress": [],
		"ingress_average": 5001,
		"egress_average": 4001,
		"ingress_peak": 9001
	}`, rr.Body.String())
}

func TestStats_Handlers_SubmitJobs(t *testing.T) {
	t.Parallel()

	job := &jobs.Job{ID: 7, InProgress: true, Requestor: "ops"}

	t.Run("policy update returns the accepted job", func(t *testing.T) {
		t.Parallel()
		ta := newTestAPI(t, nil)
		var gotRequestor string
		var gotAction jobs.Action
		ta.tracker.SubmitFunc = func(ctx context.Context, requestor string, action jobs.Action) (*jobs.Job, error) {
			gotRequestor, gotAction = requestor, action
			return job, nil
		}

		rr := ta.do(http.MethodPost, "/policy/update/", true)
		require.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, "ops", gotRequestor)
		assert.Equal(t, jobs.UpdatePolicy(1), gotAction)
		assert.Equal(t, []string{handlers.RoutePolicyUpdate}, ta.auth.checked())

		var got jobs.Job
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, int64(7), got.ID)
		assert.True(t, got.InProgress)
		assert.Nil(t, got.Detail)
	})

	t.Run("missing or wrong credentials are rejected", func(t *testing.T) {
		t.Parallel()
		ta := newTestAPI(t, nil)
		ta.tracker.SubmitFunc = func(ctx context.Context, requestor string, action jobs.Action) (*jobs.Job, error) {
			t.Error("no job should be created")
			return nil, nil
		}

		rr := ta.do(http.MethodPost, "/policy/update/", false)
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		body := decodeError(t, rr)
		assert.Equal(t, "Authentication or authorization failed for user ''", body.Error)
		assert.Equal(t, "critical", body.Level)

		req := httptest.NewRequest(http.MethodPost, "/policy/update/", nil)
		req.Header.Set(handlers.HeaderAPIUser, "ops")
		req.Header.Set(handlers.HeaderAPIKey, "wrong")
		wrong := httptest.NewRecorder()
		ta.router.ServeHTTP(wrong, req)
		require.Equal(t, http.StatusUnauthorized, wrong.Code)
	})

	t.Run("acl update needs its own grant", func(t *testing.T) {
		t.Parallel()
		ta := newTestAPI(t, nil)
		ta.tracker.SubmitFunc = func(ctx context.Context, requestor string, action jobs.Action) (*jobs.Job, error) {
			assert.Equal(t, jobs.UpdateACLs(), action)
			return job, nil
		}

		rr := ta.do(http.MethodPost, "/acls/update/", true)
		require.Equal(t, http.StatusUnauthorized, rr.Code)

		ta.auth.mu.Lock()
		ta.auth.grants[handlers.RouteACLUpdate] = true
		ta.auth.mu.Unlock()

		rr = ta.do(http.MethodPost, "/acls/update/", true)
		require.Equal(t, http.StatusAccepted, rr.Code)
	})

	t.Run("unknown requestor surfaces as not found", func(t *testing.T) {
		t.Parallel()
		ta := newTestAPI(t, nil)
		ta.tracker.SubmitFunc = func(ctx context.Context, requestor string, action jobs.Action) (*jobs.Job, error) {
			return nil, statserr.NotFound("user '%s' does not exist", requestor)
		}
		rr := ta.do(http.MethodPost, "/policy/update/", true)
		require.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestStats_Handlers_JobStatus(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, nil)
	detail := "Policy updated"
	ta.tracker.StatusFunc = func(ctx context.Context, id int64) (*jobs.Job, error) {
		if id != 7 {
			return nil, statserr.NotFound("Job %d does not exist.", id)
		}
		return &jobs.Job{ID: 7, Detail: &detail, Requestor: "ops"}, nil
	}

	for _, path := range []string{"/job/7", "/policy/update/7"} {
		rr := ta.do(http.MethodGet, path, true)
		require.Equal(t, http.StatusOK, rr.Code, path)
		var got jobs.Job
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		require.NotNil(t, got.Detail)
		assert.Equal(t, detail, *got.Detail)
	}

	rr := ta.do(http.MethodGet, "/job/8", true)
	require.Equal(t, http.StatusNotFound, rr.Code)
	body := decodeError(t, rr)
	assert.Equal(t, "Job 8 does not exist.", body.Error)
	assert.Equal(t, "info", body.Level)

	rr = ta.do(http.MethodGet, "/job/seven", true)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ta.do(http.MethodGet, "/job/7", false)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	for _, route := range ta.auth.checked() {
		assert.Equal(t, handlers.RouteJobs, route)
	}
}

func TestStats_Handlers_ListJobs(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, nil)
	var gotLimit int
	ta.tracker.ListFunc = func(ctx context.Context, limit int) ([]jobs.Job, error) {
		gotLimit = limit
		return []jobs.Job{}, nil
	}

	rr := ta.do(http.MethodGet, "/jobs", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, jobs.DefaultListLimit, gotLimit)
	assert.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))

	rr = ta.do(http.MethodGet, "/jobs?limit=5", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, gotLimit)

	rr = ta.do(http.MethodGet, "/jobs?limit=50000", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1000, gotLimit)

	rr = ta.do(http.MethodGet, "/jobs?limit=lots", true)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStats_Handlers_Health(t *testing.T) {
	t.Parallel()

	t.Run("healthz always succeeds", func(t *testing.T) {
		t.Parallel()
		ta := newTestAPI(t, nil)
		rr := ta.do(http.MethodGet, "/healthz", false)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "ok", rr.Body.String())
	})

	t.Run("readyz checks both backends", func(t *testing.T) {
		t.Parallel()
		ta := newTestAPI(t, fakePinger{})
		assert.Equal(t, http.StatusOK, ta.do(http.MethodGet, "/readyz", false).Code)

		ta.util.PingFunc = func(ctx context.Context) error { return errors.New("influx down") }
		assert.Equal(t, http.StatusServiceUnavailable, ta.do(http.MethodGet, "/readyz", false).Code)

		ta = newTestAPI(t, fakePinger{err: errors.New("pg down")})
		rr := ta.do(http.MethodGet, "/readyz", false)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, "database connection failed", rr.Body.String())
	})

	t.Run("readyz fails once shutting down", func(t *testing.T) {
		t.Parallel()
		ta := newTestAPI(t, fakePinger{})
		ta.api.SetShuttingDown()
		rr := ta.do(http.MethodGet, "/readyz", false)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, "shutting down", rr.Body.String())
	})
}

func TestStats_Handlers_Version(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, nil)
	rr := ta.do(http.MethodGet, "/api/version", false)
	require.Equal(t, http.StatusOK, rr.Code)

	var got handlers.VersionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "Stats API", got.Title)
	assert.Equal(t, "IX Statistics", got.Description)
	assert.NotEmpty(t, got.Version)
}

func TestStats_Handlers_Config_Validate(t *testing.T) {
	t.Parallel()

	cfg := handlers.Config{Logger: statstesting.NewLogger()}
	require.Error(t, cfg.Validate())

	cfg.Utilization = &fakeUtilization{}
	cfg.Jobs = &fakeTracker{}
	cfg.Auth = &fakeVerifier{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, jobs.DefaultListLimit, cfg.DefaultLimit)
}
