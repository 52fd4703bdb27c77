package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/48ix/stats/pkg/auth"
	"github.com/48ix/stats/pkg/influx"
	"github.com/48ix/stats/pkg/jobs"
	"github.com/48ix/stats/pkg/statserr"
	"github.com/48ix/stats/pkg/utilization"
)

type UserStore interface {
	CreateUser(ctx context.Context, username, password string) error
	DeleteUser(ctx context.Context, username string) error
	SetPassword(ctx context.Context, username, password string) error
	ListUsers(ctx context.Context) ([]auth.User, error)
	CreateRoute(ctx context.Context, name string) error
	DeleteRoute(ctx context.Context, name string) error
	ListRoutes(ctx context.Context) ([]string, error)
	AssociateRoute(ctx context.Context, username string, routes ...string) error
	DisassociateRoute(ctx context.Context, username string, routes ...string) error
}

type PortQuerier interface {
	PortUtilization(ctx context.Context, port utilization.PortID, dir utilization.Direction, w utilization.Window) (influx.Series, error)
	PortAverage(ctx context.Context, port utilization.PortID, dir utilization.Direction, w utilization.Window) (influx.Series, error)
}

type JobTracker interface {
	Submit(ctx context.Context, requestor string, action jobs.Action) (*jobs.Job, error)
	Status(ctx context.Context, id int64) (*jobs.Job, error)
	Wait(ctx context.Context) error
}

type Config struct {
	Logger *slog.Logger
	Out    io.Writer
	Users  UserStore
	Ports  PortQuerier
	Jobs   JobTracker
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Out == nil {
		return errors.New("output writer is required")
	}
	return nil
}

// Admin runs operator commands and prints their results as JSON.
type Admin struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Admin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Admin{log: cfg.Logger, cfg: cfg}, nil
}

func (a *Admin) printJSON(v any) error {
	enc := json.NewEncoder(a.cfg.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (a *Admin) users() (UserStore, error) {
	if a.cfg.Users == nil {
		return nil, errors.New("user store is not configured")
	}
	return a.cfg.Users, nil
}

func (a *Admin) CreateUser(ctx context.Context, username, password string, routes []string) error {
	store, err := a.users()
	if err != nil {
		return err
	}
	if err := store.CreateUser(ctx, username, password); err != nil {
		return err
	}
	if len(routes) > 0 {
		if err := store.AssociateRoute(ctx, username, routes...); err != nil {
			return err
		}
	}
	fmt.Fprintf(a.cfg.Out, "Added user %s\n", username)
	return nil
}

func (a *Admin) DeleteUser(ctx context.Context, username string) error {
	store, err := a.users()
	if err != nil {
		return err
	}
	if err := store.DeleteUser(ctx, username); err != nil {
		return err
	}
	fmt.Fprintf(a.cfg.Out, "Deleted user %s\n", username)
	return nil
}

func (a *Admin) SetPassword(ctx context.Context, username, password string) error {
	store, err := a.users()
	if err != nil {
		return err
	}
	if err := store.SetPassword(ctx, username, password); err != nil {
		return err
	}
	fmt.Fprintf(a.cfg.Out, "Updated password for %s\n", username)
	return nil
}

func (a *Admin) ListUsers(ctx context.Context) error {
	store, err := a.users()
	if err != nil {
		return err
	}
	users, err := store.ListUsers(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(users)
}

func (a *Admin) CreateRoute(ctx context.Context, name string) error {
	store, err := a.users()
	if err != nil {
		return err
	}
	if err := store.CreateRoute(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(a.cfg.Out, "Added route %s\n", name)
	return nil
}

func (a *Admin) DeleteRoute(ctx context.Context, name string) error {
	store, err := a.users()
	if err != nil {
		return err
	}
	if err := store.DeleteRoute(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(a.cfg.Out, "Deleted route %s\n", name)
	return nil
}

func (a *Admin) ListRoutes(ctx context.Context) error {
	store, err := a.users()
	if err != nil {
		return err
	}
	routes, err := store.ListRoutes(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(routes)
}

func (a *Admin) Associate(ctx context.Context, username string, routes []string) error {
	store, err := a.users()
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		return statserr.InvalidInput("at least one route is required")
	}
	if err := store.AssociateRoute(ctx, username, routes...); err != nil {
		return err
	}
	fmt.Fprintf(a.cfg.Out, "Granted %s to %s\n", strings.Join(routes, ", "), username)
	return nil
}

func (a *Admin) Disassociate(ctx context.Context, username string, routes []string) error {
	store, err := a.users()
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		return statserr.InvalidInput("at least one route is required")
	}
	if err := store.DisassociateRoute(ctx, username, routes...); err != nil {
		return err
	}
	fmt.Fprintf(a.cfg.Out, "Revoked %s from %s\n", strings.Join(routes, ", "), username)
	return nil
}

func (a *Admin) portArgs(portID, direction string) (utilization.PortID, utilization.Direction, error) {
	if a.cfg.Ports == nil {
		return utilization.PortID{}, "", errors.New("time-series backend is not configured")
	}
	port, err := utilization.ParsePortID(portID)
	if err != nil {
		return utilization.PortID{}, "", err
	}
	dir, err := utilization.ParseDirection(strings.ToLower(direction))
	if err != nil {
		return utilization.PortID{}, "", err
	}
	return port, dir, nil
}

// PortUtilization prints the raw bit-rate series for one port and direction.
func (a *Admin) PortUtilization(ctx context.Context, portID, direction string, hours int) error {
	port, dir, err := a.portArgs(portID, direction)
	if err != nil {
		return err
	}
	series, err := a.cfg.Ports.PortUtilization(ctx, port, dir, utilization.LastHours(hours))
	if err != nil {
		return err
	}
	return a.printJSON(series)
}

// PortAverage prints the average bit rate for one port and direction.
func (a *Admin) PortAverage(ctx context.Context, portID, direction string, hours int) error {
	port, dir, err := a.portArgs(portID, direction)
	if err != nil {
		return err
	}
	series, err := a.cfg.Ports.PortAverage(ctx, port, dir, utilization.LastHours(hours))
	if err != nil {
		return err
	}
	return a.printJSON(series)
}

// RunAction submits a remote action as requestor, waits for it and prints the final job.
func (a *Admin) RunAction(ctx context.Context, requestor, name string) error {
	if a.cfg.Jobs == nil {
		return errors.New("job tracker is not configured")
	}
	action, err := jobs.ActionByName(name)
	if err != nil {
		return err
	}
	job, err := a.cfg.Jobs.Submit(ctx, requestor, action)
	if err != nil {
		return err
	}
	a.log.Info("admin: waiting for job", "job_id", job.ID, "action", name)
	if err := a.cfg.Jobs.Wait(ctx); err != nil {
		return fmt.Errorf("failed waiting for job %d: %w", job.ID, err)
	}
	final, err := a.cfg.Jobs.Status(ctx, job.ID)
	if err != nil {
		return err
	}
	return a.printJSON(final)
}
