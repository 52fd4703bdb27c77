package influx

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/48ix/stats/pkg/metrics"
	"github.com/48ix/stats/pkg/statserr"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 64 << 20
)

// Executor runs queries against a time-series backend.
type Executor interface {
	// Ping checks that the backend is up.
	Ping(ctx context.Context) error
	// Execute builds and runs q, returning the first series of the first result.
	Execute(ctx context.Context, q Query) (Series, error)
}

// ClientConfig configures an InfluxDB 1.x HTTP API client.
type ClientConfig struct {
	Logger     *slog.Logger
	BaseURL    string
	Database   string
	Username   string
	Password   string
	UserAgent  string
	VerifySSL  bool
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (cfg *ClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseURL == "" {
		return errors.New("base url is required")
	}
	if cfg.Database == "" {
		return errors.New("database is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "48-IX-Stats"
	}
	return nil
}

// Client talks to the InfluxDB 1.x HTTP API (/ping and /query).
type Client struct {
	log      *slog.Logger
	cfg      ClientConfig
	http     *http.Client
	baseURL  *url.URL
	database string
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	u, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if !cfg.VerifySSL {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		httpClient = &http.Client{Transport: transport, Timeout: cfg.Timeout}
	}

	return &Client{
		log:      cfg.Logger,
		cfg:      cfg,
		http:     httpClient,
		baseURL:  u,
		database: CleanKeyName(cfg.Database),
	}, nil
}

// Database returns the sanitized database name queries run against.
func (c *Client) Database() string {
	return c.database
}

func (c *Client) endpoint(path string, params url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if params != nil {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, params), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	return req, nil
}

// Ping checks the backend's /ping endpoint. Only 200 and 204 count as healthy.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, "/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.InfluxPingFailuresTotal.WithLabelValues("v1").Inc()
		return statserr.BackendUnavailable("database is not running", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		metrics.InfluxPingFailuresTotal.WithLabelValues("v1").Inc()
		return statserr.BackendUnavailable(fmt.Sprintf("database is not running (status %d)", resp.StatusCode), nil)
	}
	return nil
}

// Execute checks liveness, builds q and runs it.
func (c *Client) Execute(ctx context.Context, q Query) (Series, error) {
	if err := c.Ping(ctx); err != nil {
		return EmptySeries(), err
	}
	raw, err := q.Build()
	if err != nil {
		return EmptySeries(), err
	}
	return c.query(ctx, raw)
}

// ExecuteRaw checks liveness and runs a pre-built InfluxQL string.
func (c *Client) ExecuteRaw(ctx context.Context, raw string) (Series, error) {
	if err := c.Ping(ctx); err != nil {
		return EmptySeries(), err
	}
	return c.query(ctx, raw)
}

func (c *Client) query(ctx context.Context, raw string) (series Series, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.InfluxQueryDuration.WithLabelValues("v1", status).Observe(time.Since(start).Seconds())
	}()

	c.log.Debug("influx: executing query", "db", c.database, "query", raw)

	req, err := c.newRequest(ctx, "/query", url.Values{"q": {raw}, "db": {c.database}})
	if err != nil {
		return EmptySeries(), err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return EmptySeries(), statserr.BackendUnavailable("failed to query database", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return EmptySeries(), statserr.BackendUnavailable("failed to read query response", err)
	}

	series, msg := decodeResponse(body)
	if msg != nil {
		c.log.Error("influx: query returned an error", "error", *msg, "query", raw)
		return EmptySeries(), statserr.QueryFailed(*msg, nil)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return EmptySeries(), statserr.QueryFailed(fmt.Sprintf("query failed with status %d", resp.StatusCode), nil)
	}
	return series, nil
}
