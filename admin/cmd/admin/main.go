package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/48ix/stats/admin/internal/admin"
	"github.com/48ix/stats/api/config"
	"github.com/48ix/stats/pkg/auth"
	"github.com/48ix/stats/pkg/influx"
	"github.com/48ix/stats/pkg/jobs"
	"github.com/48ix/stats/pkg/policy"
	"github.com/48ix/stats/pkg/postgres"
	"github.com/48ix/stats/pkg/utilization"
	"github.com/48ix/stats/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	configFlag := flag.String("config", "stats.yaml", "Path to the YAML config file (or set STATS_CONFIG env var)")
	postgresURLFlag := flag.String("postgres-url", "", "PostgreSQL connection URL (or set STATS_POSTGRES_URL env var)")

	// Commands
	migrateFlag := flag.Bool("migrate", false, "Run PostgreSQL migrations using goose")
	migrateStatusFlag := flag.Bool("migrate-status", false, "Show PostgreSQL migration status")
	userCreateFlag := flag.String("user-create", "", "Create an API user (requires --password)")
	userDeleteFlag := flag.String("user-delete", "", "Delete an API user")
	userListFlag := flag.Bool("user-list", false, "List API users and their routes")
	userSetPasswordFlag := flag.String("user-set-password", "", "Set an API user's password (requires --password)")
	routeCreateFlag := flag.String("route-create", "", "Create an API route")
	routeDeleteFlag := flag.String("route-delete", "", "Delete an API route")
	routeListFlag := flag.Bool("route-list", false, "List API routes")
	associateFlag := flag.String("associate", "", "Grant --routes to a user")
	disassociateFlag := flag.String("disassociate", "", "Revoke --routes from a user")
	portUtilizationFlag := flag.String("port-utilization", "", "Print the utilization series for a port ID")
	portAverageFlag := flag.String("port-average", "", "Print the average utilization for a port ID")
	runActionFlag := flag.String("run-action", "", "Run a remote action (update_policy, update_acls) and wait for it")

	// Command options
	passwordFlag := flag.String("password", "", "Password for --user-create and --user-set-password (or set STATS_ADMIN_PASSWORD env var)")
	routesFlag := flag.StringSlice("routes", nil, "Routes for --user-create, --associate and --disassociate")
	directionFlag := flag.StringP("direction", "d", "in", "Traffic direction for port queries (in or out)")
	timeFlag := flag.IntP("time", "t", 1, "Number of previous hours for port queries")
	requestorFlag := flag.String("requestor", "", "API user recorded as the requestor of --run-action")

	flag.Parse()

	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if envConfig := os.Getenv("STATS_CONFIG"); envConfig != "" && !flag.CommandLine.Changed("config") {
		*configFlag = envConfig
	}
	if envPostgresURL := os.Getenv("STATS_POSTGRES_URL"); envPostgresURL != "" && *postgresURLFlag == "" {
		*postgresURLFlag = envPostgresURL
	}
	if envPassword := os.Getenv("STATS_ADMIN_PASSWORD"); envPassword != "" && *passwordFlag == "" {
		*passwordFlag = envPassword
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Port queries only need the time-series backend.
	if *portUtilizationFlag != "" || *portAverageFlag != "" {
		params, err := config.Load(*configFlag)
		if err != nil {
			return err
		}
		svc, closeExecutor, err := newUtilizationService(log, params)
		if err != nil {
			return err
		}
		defer closeExecutor()
		a, err := admin.New(admin.Config{Logger: log, Out: os.Stdout, Ports: svc})
		if err != nil {
			return err
		}
		if *portUtilizationFlag != "" {
			return a.PortUtilization(ctx, *portUtilizationFlag, *directionFlag, *timeFlag)
		}
		return a.PortAverage(ctx, *portAverageFlag, *directionFlag, *timeFlag)
	}

	var params *config.Params
	if *postgresURLFlag == "" || *runActionFlag != "" {
		p, err := config.Load(*configFlag)
		if err != nil {
			return fmt.Errorf("--postgres-url is required when no config file is usable: %w", err)
		}
		params = p
		if *postgresURLFlag == "" {
			*postgresURLFlag = params.Postgres.URL
		}
	}

	pool, err := postgres.NewPool(ctx, log, *postgresURLFlag)
	if err != nil {
		return err
	}
	defer pool.Close()

	if *migrateFlag {
		return postgres.RunMigrations(ctx, log, pool)
	}
	if *migrateStatusFlag {
		return postgres.MigrationStatus(ctx, log, pool)
	}

	users, err := auth.NewStore(auth.StoreConfig{Logger: log, Pool: pool})
	if err != nil {
		return err
	}
	cfg := admin.Config{Logger: log, Out: os.Stdout, Users: users}
	if *runActionFlag != "" {
		tracker, err := newTracker(log, params, pool)
		if err != nil {
			return err
		}
		cfg.Jobs = tracker
	}
	a, err := admin.New(cfg)
	if err != nil {
		return err
	}

	switch {
	case *userCreateFlag != "":
		return a.CreateUser(ctx, *userCreateFlag, *passwordFlag, *routesFlag)
	case *userDeleteFlag != "":
		return a.DeleteUser(ctx, *userDeleteFlag)
	case *userListFlag:
		return a.ListUsers(ctx)
	case *userSetPasswordFlag != "":
		return a.SetPassword(ctx, *userSetPasswordFlag, *passwordFlag)
	case *routeCreateFlag != "":
		return a.CreateRoute(ctx, *routeCreateFlag)
	case *routeDeleteFlag != "":
		return a.DeleteRoute(ctx, *routeDeleteFlag)
	case *routeListFlag:
		return a.ListRoutes(ctx)
	case *associateFlag != "":
		return a.Associate(ctx, *associateFlag, *routesFlag)
	case *disassociateFlag != "":
		return a.Disassociate(ctx, *disassociateFlag, *routesFlag)
	case *runActionFlag != "":
		if *requestorFlag == "" {
			return errors.New("--requestor is required for --run-action")
		}
		return a.RunAction(ctx, *requestorFlag, *runActionFlag)
	}

	flag.Usage()
	return errors.New("no command specified")
}

func newUtilizationService(log *slog.Logger, params *config.Params) (*utilization.Service, func(), error) {
	var executor influx.Executor
	closeExecutor := func() {}
	if params.DB.Backend == config.BackendSDK {
		client, err := influx.NewSDKClient(influx.SDKClientConfig{
			Logger:   log,
			Host:     params.DB.URL(),
			Token:    params.DB.Token,
			Database: params.DB.Database,
		})
		if err != nil {
			return nil, nil, err
		}
		executor = client
		closeExecutor = func() { _ = client.Close() }
	} else {
		client, err := influx.NewClient(influx.ClientConfig{
			Logger:    log,
			BaseURL:   params.DB.URL(),
			Database:  params.DB.Database,
			Username:  params.DB.Username,
			Password:  params.DB.Password,
			VerifySSL: params.DB.VerifySSL,
		})
		if err != nil {
			return nil, nil, err
		}
		executor = client
	}
	svc, err := utilization.NewService(utilization.ServiceConfig{
		Logger:        log,
		Executor:      executor,
		DefaultPeriod: params.API.DefaultPeriod,
	})
	if err != nil {
		closeExecutor()
		return nil, nil, err
	}
	return svc, closeExecutor, nil
}

func newTracker(log *slog.Logger, params *config.Params, pool *pgxpool.Pool) (*jobs.Tracker, error) {
	policyClient, err := policy.NewClient(policy.ClientConfig{
		Logger:      log,
		Host:        params.PolicyServer.Host,
		Port:        params.PolicyServer.Port,
		CallTimeout: params.PolicyServer.Timeout,
	})
	if err != nil {
		return nil, err
	}
	store, err := jobs.NewPGStore(jobs.PGStoreConfig{Logger: log, Pool: pool})
	if err != nil {
		return nil, err
	}
	runner, err := jobs.NewRunner(jobs.RunnerConfig{Logger: log, Caller: policyClient, Store: store})
	if err != nil {
		return nil, err
	}
	return jobs.NewTracker(jobs.TrackerConfig{Logger: log, Store: store, Runner: runner})
}
