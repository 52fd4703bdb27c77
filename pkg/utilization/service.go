package utilization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/48ix/stats/pkg/influx"
	"github.com/48ix/stats/pkg/statserr"
)

const (
	DefaultMeasurement = "interfaces"
	DefaultPeriodHours = 8

	averageGranularity = time.Minute
)

// Direction selects the traffic counter a query reads.
type Direction string

const (
	Ingress Direction = "in"
	Egress  Direction = "out"
)

// ParseDirection accepts "in" or "out".
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Ingress, Egress:
		return Direction(s), nil
	default:
		return "", statserr.InvalidInput("direction must be %q or %q, got %q", Ingress, Egress, s)
	}
}

func (d Direction) counter() string {
	if d == Egress {
		return "bytesOut"
	}
	return "bytesIn"
}

// bitRate is the per-second rate of the byte counter, in bits.
func (d Direction) bitRate() string {
	return fmt.Sprintf("derivative(max(%s), 1s) * 8 AS bps", d.counter())
}

// Window is either a relative period in hours or an absolute [Start, End] range.
// The zero value means the service default period.
type Window struct {
	Hours int
	Start string
	End   string
}

// LastHours returns a relative window covering the last n hours.
func LastHours(n int) Window {
	return Window{Hours: n}
}

// Range returns an absolute window. An empty end means now.
func Range(start, end string) Window {
	return Window{Start: start, End: end}
}

func (w Window) apply(q influx.Query, defaultPeriod int) influx.Query {
	if w.Start != "" {
		return q.Between(w.Start, w.End)
	}
	hours := w.Hours
	if hours <= 0 {
		hours = defaultPeriod
	}
	return q.Last(hours)
}

type ServiceConfig struct {
	Logger        *slog.Logger
	Executor      influx.Executor
	Clock         clockwork.Clock
	Measurement   string
	DefaultPeriod int
}

func (cfg *ServiceConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Executor == nil {
		return errors.New("executor is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Measurement == "" {
		cfg.Measurement = DefaultMeasurement
	}
	if cfg.DefaultPeriod <= 0 {
		cfg.DefaultPeriod = DefaultPeriodHours
	}
	return nil
}

// Service assembles utilization queries and shapes their results.
type Service struct {
	log  *slog.Logger
	cfg  ServiceConfig
	exec influx.Executor
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{log: cfg.Logger, cfg: cfg, exec: cfg.Executor}, nil
}

func (s *Service) source(w Window) influx.Query {
	q := influx.NewQuery().WithClock(s.cfg.Clock).From(s.cfg.Measurement)
	return w.apply(q, s.cfg.DefaultPeriod)
}

func portFilter(port PortID) map[string]string {
	return map[string]string{"port_id": port.String()}
}

// PortUtilizationQuery is the per-port bit rate at the default granularity.
func (s *Service) PortUtilizationQuery(port PortID, dir Direction, w Window) influx.Query {
	return s.source(w).
		Select(dir.bitRate()).
		Where(portFilter(port)).
		GroupBy("port_id", "participant_id").
		Fill(influx.FillNone)
}

// PortAverageQuery is the mean per-port bit rate over one-minute buckets.
func (s *Service) PortAverageQuery(port PortID, dir Direction, w Window) influx.Query {
	inner := s.source(w).
		Select(dir.bitRate()).
		Where(portFilter(port)).
		GroupBy("port_id", "participant_id").
		Granularity(averageGranularity).
		Fill(influx.FillPrevious)
	return influx.NewQuery().Select("mean(bps) AS bps").FromQuery(inner)
}

// OverallUtilizationQuery is the IX-wide bit rate at the default granularity.
func (s *Service) OverallUtilizationQuery(dir Direction, w Window) influx.Query {
	return s.source(w).
		Select(dir.bitRate()).
		GroupBy().
		Fill(influx.FillNone)
}

func (s *Service) overallAggregateQuery(fn string, dir Direction, w Window) influx.Query {
	inner := s.source(w).
		Select(dir.bitRate()).
		GroupBy().
		Granularity(averageGranularity).
		Fill(influx.FillPrevious)
	return influx.NewQuery().Select(fmt.Sprintf("%s(bps) AS bps", fn)).FromQuery(inner)
}

// OverallAverageQuery is the mean IX-wide bit rate over one-minute buckets.
func (s *Service) OverallAverageQuery(dir Direction, w Window) influx.Query {
	return s.overallAggregateQuery("mean", dir, w)
}

// OverallPeakQuery is the highest IX-wide one-minute bit rate.
func (s *Service) OverallPeakQuery(dir Direction, w Window) influx.Query {
	return s.overallAggregateQuery("max", dir, w)
}

func (s *Service) PortUtilization(ctx context.Context, port PortID, dir Direction, w Window) (influx.Series, error) {
	return s.exec.Execute(ctx, s.PortUtilizationQuery(port, dir, w))
}

func (s *Service) PortAverage(ctx context.Context, port PortID, dir Direction, w Window) (influx.Series, error) {
	return s.exec.Execute(ctx, s.PortAverageQuery(port, dir, w))
}

func (s *Service) OverallUtilization(ctx context.Context, dir Direction, w Window) (influx.Series, error) {
	return s.exec.Execute(ctx, s.OverallUtilizationQuery(dir, w))
}

func (s *Service) OverallAverage(ctx context.Context, dir Direction, w Window) (influx.Series, error) {
	return s.exec.Execute(ctx, s.OverallAverageQuery(dir, w))
}

func (s *Service) OverallPeak(ctx context.Context, dir Direction, w Window) (influx.Series, error) {
	return s.exec.Execute(ctx, s.OverallPeakQuery(dir, w))
}

// Ping checks the time-series backend.
func (s *Service) Ping(ctx context.Context) error {
	return s.exec.Ping(ctx)
}

// PortUtilizationResponse runs the ingress and egress series and averages for one port.
func (s *Service) PortUtilizationResponse(ctx context.Context, portID string, w Window) (*PortUtilization, error) {
	port, err := ParsePortID(portID)
	if err != nil {
		return nil, err
	}

	var in, out, avgIn, avgOut influx.Series
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		in, err = s.PortUtilization(ctx, port, Ingress, w)
		return err
	})
	g.Go(func() (err error) {
		out, err = s.PortUtilization(ctx, port, Egress, w)
		return err
	})
	g.Go(func() (err error) {
		avgIn, err = s.PortAverage(ctx, port, Ingress, w)
		return err
	})
	g.Go(func() (err error) {
		avgOut, err = s.PortAverage(ctx, port, Egress, w)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resp := &PortUtilization{
		Ingress:        CeilValues(in.Values),
		Egress:         CeilValues(out.Values),
		ParticipantID:  port.ParticipantID,
		Location:       port.Location,
		PortID:         portID,
		IngressAverage: firstValueCeil(avgIn),
		EgressAverage:  firstValueCeil(avgOut),
	}
	s.log.Debug("utilization: port response", "port_id", portID, "ingress_rows", len(resp.Ingress), "egress_rows", len(resp.Egress))
	return resp, nil
}

// OverallUtilizationResponse runs the IX-wide series, averages and ingress peak.
func (s *Service) OverallUtilizationResponse(ctx context.Context, w Window) (*OverallUtilization, error) {
	var in, out, avgIn, avgOut, peakIn influx.Series
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		in, err = s.OverallUtilization(ctx, Ingress, w)
		return err
	})
	g.Go(func() (err error) {
		out, err = s.OverallUtilization(ctx, Egress, w)
		return err
	})
	g.Go(func() (err error) {
		avgIn, err = s.OverallAverage(ctx, Ingress, w)
		return err
	})
	g.Go(func() (err error) {
		avgOut, err = s.OverallAverage(ctx, Egress, w)
		return err
	})
	g.Go(func() (err error) {
		peakIn, err = s.OverallPeak(ctx, Ingress, w)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &OverallUtilization{
		Ingress:        CeilValues(in.Values),
		Egress:         CeilValues(out.Values),
		IngressAverage: firstValueCeil(avgIn),
		EgressAverage:  firstValueCeil(avgOut),
		IngressPeak:    firstValueCeil(peakIn),
	}, nil
}
