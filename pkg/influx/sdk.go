package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/48ix/stats/pkg/metrics"
	"github.com/48ix/stats/pkg/statserr"
)

const measurementColumn = "iox::measurement"

// SDKClientConfig configures an InfluxDB 3 client that runs InfluxQL over Flight.
type SDKClientConfig struct {
	Logger   *slog.Logger
	Host     string
	Token    string
	Database string
}

func (cfg *SDKClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Host == "" {
		return errors.New("host is required")
	}
	if cfg.Database == "" {
		return errors.New("database is required")
	}
	return nil
}

// SDKClient implements Executor using the official InfluxDB 3 Go SDK.
type SDKClient struct {
	log    *slog.Logger
	client *influxdb3.Client
}

func NewSDKClient(cfg SDKClientConfig) (*SDKClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     cfg.Host,
		Token:    cfg.Token,
		Database: CleanKeyName(cfg.Database),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}
	return &SDKClient{log: cfg.Logger, client: client}, nil
}

// Ping runs a trivial metadata query; the Flight API has no /ping.
func (c *SDKClient) Ping(ctx context.Context) error {
	if _, err := c.rows(ctx, "SHOW MEASUREMENTS LIMIT 1"); err != nil {
		metrics.InfluxPingFailuresTotal.WithLabelValues("v3").Inc()
		return statserr.BackendUnavailable("database is not running", err)
	}
	return nil
}

func (c *SDKClient) Execute(ctx context.Context, q Query) (series Series, err error) {
	if err := c.Ping(ctx); err != nil {
		return EmptySeries(), err
	}
	raw, err := q.Build()
	if err != nil {
		return EmptySeries(), err
	}

	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.InfluxQueryDuration.WithLabelValues("v3", status).Observe(time.Since(start).Seconds())
	}()

	c.log.Debug("influx: executing query", "query", raw)
	rows, err := c.rows(ctx, raw)
	if err != nil {
		return EmptySeries(), classifyQueryError(err)
	}
	return seriesFromRows(rows), nil
}

// classifyQueryError maps a lost Flight connection to BackendUnavailable, the
// way the 1.x client treats transport errors. Everything else is QueryFailed.
func classifyQueryError(err error) error {
	if st, ok := status.FromError(err); ok && st.Code() == codes.Unavailable {
		return statserr.BackendUnavailable("database is not running", err)
	}
	return statserr.QueryFailed("failed to execute query", err)
}

func (c *SDKClient) rows(ctx context.Context, raw string) ([]map[string]any, error) {
	iterator, err := c.client.Query(ctx, raw, influxdb3.WithQueryType(influxdb3.InfluxQL))
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	var rows []map[string]any
	for iterator.Next() {
		row := make(map[string]any)
		for k, v := range iterator.Value() {
			row[k] = v
		}
		rows = append(rows, row)
	}
	if err := iterator.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return rows, nil
}

func (c *SDKClient) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	if err != nil && isExpectedCloseError(err) {
		return nil
	}
	return err
}

func isExpectedCloseError(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "connection is closing") ||
		strings.Contains(errStr, "code = Canceled")
}

// seriesFromRows reshapes row maps into the same [time, fields...] matrix the
// 1.x API returns. String columns other than time are treated as tags.
func seriesFromRows(rows []map[string]any) Series {
	if len(rows) == 0 {
		return EmptySeries()
	}

	s := EmptySeries()
	tags := map[string]string{}
	var fields []string
	for k, v := range rows[0] {
		switch {
		case k == "time":
		case k == measurementColumn:
			if name, ok := v.(string); ok {
				s.Name = name
			}
		default:
			if str, ok := v.(string); ok {
				tags[k] = str
				continue
			}
			fields = append(fields, k)
		}
	}
	slices.Sort(fields)
	if len(tags) > 0 {
		s.Tags = tags
	}
	s.Columns = append([]string{"time"}, fields...)

	sort.SliceStable(rows, func(i, j int) bool {
		ti, _ := rows[i]["time"].(time.Time)
		tj, _ := rows[j]["time"].(time.Time)
		return ti.Before(tj)
	})
	for _, row := range rows {
		values := make([]any, 0, len(s.Columns))
		if t, ok := row["time"].(time.Time); ok {
			values = append(values, t.UTC().Format(time.RFC3339Nano))
		} else {
			values = append(values, row["time"])
		}
		for _, f := range fields {
			values = append(values, row[f])
		}
		s.Values = append(s.Values, values)
	}
	return s
}
