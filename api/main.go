package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/48ix/stats/api/config"
	"github.com/48ix/stats/api/handlers"
	"github.com/48ix/stats/api/metrics"
	"github.com/48ix/stats/pkg/auth"
	"github.com/48ix/stats/pkg/influx"
	"github.com/48ix/stats/pkg/jobs"
	"github.com/48ix/stats/pkg/policy"
	"github.com/48ix/stats/pkg/postgres"
	"github.com/48ix/stats/pkg/utilization"
	"github.com/48ix/stats/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultMetricsAddr = "0.0.0.0:0"
	defaultConfigPath  = "stats.yaml"
	shutdownTimeout    = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	configFlag := flag.String("config", defaultConfigPath, "Path to the YAML config file (or set STATS_CONFIG env var)")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	migrationsEnableFlag := flag.Bool("migrations-enable", false, "run PostgreSQL migrations on startup")
	flag.Parse()

	// godotenv does not override existing env vars, so process env takes precedence.
	_ = godotenv.Load()

	if envConfig := os.Getenv("STATS_CONFIG"); envConfig != "" && !flag.CommandLine.Changed("config") {
		*configFlag = envConfig
	}

	params, err := config.Load(*configFlag)
	if err != nil {
		return err
	}
	if flag.CommandLine.Changed("metrics-addr") || params.MetricsAddr == "" {
		params.MetricsAddr = *metricsAddrFlag
	}

	log := logger.New(*verboseFlag || params.Debug)
	log.Info("api: starting", "version", version, "commit", commit, "date", date, "listen", params.ListenAddr(), "backend", params.DB.Backend)
	handlers.SetBuildInfo(version, commit, date)

	sentryEnabled := initSentry(log, params)
	if sentryEnabled {
		defer sentry.Flush(2 * time.Second)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigCh
		log.Info("api: received signal", "signal", sig.String())
		cancel()
	}()

	pool, err := postgres.NewPool(ctx, log, params.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if *migrationsEnableFlag {
		if err := postgres.RunMigrations(ctx, log, pool); err != nil {
			return err
		}
	}

	executor, closeExecutor, err := newExecutor(log, params)
	if err != nil {
		return err
	}
	defer closeExecutor()

	api, tracker, err := newAPI(log, params, pool, executor)
	if err != nil {
		return err
	}

	metricsServer := startMetricsServer(log, params.MetricsAddr)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	if sentryEnabled {
		sentryHandler := sentryhttp.New(sentryhttp.Options{
			Repanic: true, // Recoverer below handles the panic after capture
		})
		r.Use(sentryHandler.Handle)
	}
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   params.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", handlers.HeaderAPIUser, handlers.HeaderAPIKey},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	api.Mount(r)

	server := &http.Server{
		Addr:              params.ListenAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		log.Info("api: listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErrCh:
		return fmt.Errorf("server error: %w", err)
	}

	api.SetShuttingDown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("api: graceful shutdown failed", "error", err)
	}
	// Background policy runs still hold the pool.
	if err := tracker.Wait(shutdownCtx); err != nil {
		log.Warn("api: background jobs still running at exit", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("api: metrics server shutdown failed", "error", err)
		}
	}
	log.Info("api: stopped")
	return nil
}

func initSentry(log *slog.Logger, params *config.Params) bool {
	if params.SentryDSN == "" {
		return false
	}
	release := version
	if commit != "none" {
		release = version + "-" + commit
	}
	tracesSampleRate := 0.1
	if params.SentryEnvironment == "development" {
		tracesSampleRate = 1.0
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              params.SentryDSN,
		Environment:      params.SentryEnvironment,
		Release:          release,
		EnableTracing:    true,
		TracesSampleRate: tracesSampleRate,
	})
	if err != nil {
		log.Warn("api: sentry initialization failed", "error", err)
		return false
	}
	log.Info("api: sentry initialized", "environment", params.SentryEnvironment, "release", release)
	return true
}

// newExecutor builds the time-series backend selected by db.backend.
func newExecutor(log *slog.Logger, params *config.Params) (influx.Executor, func(), error) {
	switch params.DB.Backend {
	case config.BackendSDK:
		client, err := influx.NewSDKClient(influx.SDKClientConfig{
			Logger:   log,
			Host:     params.DB.URL(),
			Token:    params.DB.Token,
			Database: params.DB.Database,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, func() {
			if err := client.Close(); err != nil {
				log.Warn("api: failed to close influx client", "error", err)
			}
		}, nil
	default:
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
		return client, func() {}, nil
	}
}

func newAPI(log *slog.Logger, params *config.Params, pool *pgxpool.Pool, executor influx.Executor) (*handlers.API, *jobs.Tracker, error) {
	svc, err := utilization.NewService(utilization.ServiceConfig{
		Logger:        log,
		Executor:      executor,
		DefaultPeriod: params.API.DefaultPeriod,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create utilization service: %w", err)
	}

	policyClient, err := policy.NewClient(policy.ClientConfig{
		Logger:      log,
		Host:        params.PolicyServer.Host,
		Port:        params.PolicyServer.Port,
		CallTimeout: params.PolicyServer.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create policy client: %w", err)
	}

	jobStore, err := jobs.NewPGStore(jobs.PGStoreConfig{Logger: log, Pool: pool})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create job store: %w", err)
	}
	runner, err := jobs.NewRunner(jobs.RunnerConfig{Logger: log, Caller: policyClient, Store: jobStore})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create job runner: %w", err)
	}
	tracker, err := jobs.NewTracker(jobs.TrackerConfig{Logger: log, Store: jobStore, Runner: runner})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create job tracker: %w", err)
	}

	authStore, err := auth.NewStore(auth.StoreConfig{Logger: log, Pool: pool})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create auth store: %w", err)
	}

	api, err := handlers.New(handlers.Config{
		Logger:       log,
		Utilization:  svc,
		Jobs:         tracker,
		Auth:         authStore,
		Postgres:     pool,
		Title:        params.API.Title,
		Description:  params.API.Description,
		DefaultLimit: params.API.DefaultLimit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create api: %w", err)
	}
	return api, tracker, nil
}

func startMetricsServer(log *slog.Logger, addr string) *http.Server {
	if addr == "" {
		return nil
	}
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("api: failed to start prometheus metrics server listener", "error", err)
		return nil
	}
	log.Info("api: prometheus metrics server listening", "address", listener.Addr().String())
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api: metrics server error", "error", err)
		}
	}()
	return server
}
