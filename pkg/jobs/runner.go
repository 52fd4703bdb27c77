package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/48ix/stats/pkg/metrics"
	"github.com/48ix/stats/pkg/policy"
	"github.com/48ix/stats/pkg/statserr"
)

const storeTimeout = 10 * time.Second

// Caller invokes a method on the remote policy server.
type Caller interface {
	Call(ctx context.Context, method string, args any) (any, error)
}

type RunnerConfig struct {
	Logger *slog.Logger
	Caller Caller
	Store  Store
	Clock  clockwork.Clock
}

func (cfg *RunnerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Caller == nil {
		return errors.New("caller is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Runner performs one remote action and records the outcome on its job.
type Runner struct {
	log    *slog.Logger
	caller Caller
	store  Store
	clock  clockwork.Clock
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{log: cfg.Logger, caller: cfg.Caller, store: cfg.Store, clock: cfg.Clock}, nil
}

// Run calls the action's remote method and writes the result to the job.
//
// On success the joined reply becomes the job detail. If the server cannot be
// reached the job is marked failed and a BackendUnavailable error is returned.
// A timeout also marks the job failed but returns nil. The job is completed in
// every case, including the error paths.
func (r *Runner) Run(ctx context.Context, jobID int64, action Action) (err error) {
	if err := action.validate(); err != nil {
		return err
	}
	log := r.log.With("job_id", jobID, "action", action.Name)
	log.Info("jobs: starting remote action", "method", action.Method)

	// Job writes must land even if the caller's context has been cancelled.
	storeCtx := context.WithoutCancel(ctx)

	start := r.clock.Now()
	metrics.JobsInFlight.Inc()
	outcome := "ok"
	defer func() {
		metrics.JobsInFlight.Dec()
		metrics.JobRunsTotal.WithLabelValues(action.Name, outcome).Inc()
		metrics.JobRunDuration.WithLabelValues(action.Name).Observe(r.clock.Since(start).Seconds())

		completeCtx, cancel := context.WithTimeout(storeCtx, storeTimeout)
		defer cancel()
		if cerr := r.store.Complete(completeCtx, jobID); cerr != nil {
			log.Error("jobs: failed to complete job", "error", cerr)
			if err == nil {
				err = cerr
			}
			return
		}
		log.Info("jobs: completed remote action", "outcome", outcome, "duration", r.clock.Since(start))
	}()

	reply, callErr := r.caller.Call(ctx, action.Method, action.Args)
	switch {
	case callErr == nil:
		detail := policy.FormatResult(reply)
		if err := r.update(storeCtx, jobID, Update{Detail: &detail}); err != nil {
			outcome = "store_error"
			return err
		}
		return nil

	case policy.IsConnectionFailure(callErr):
		outcome = "unreachable"
		log.Error("jobs: policy server unreachable", "error", callErr)
		r.markFailed(storeCtx, log, jobID, callErr)
		return statserr.BackendUnavailable("policy server unreachable", callErr)

	case policy.IsTimeout(callErr):
		// Unlike an unreachable server, a timeout is recorded on the job but not
		// returned. Whether it should be is still undecided.
		outcome = "timeout"
		log.Error("jobs: policy server call timed out", "error", callErr)
		r.markFailed(storeCtx, log, jobID, callErr)
		return nil

	default:
		outcome = "error"
		log.Error("jobs: policy server call failed", "error", callErr)
		r.markFailed(storeCtx, log, jobID, callErr)
		return fmt.Errorf("remote action %s failed: %w", action.Name, callErr)
	}
}

func (r *Runner) update(ctx context.Context, jobID int64, u Update) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := r.store.Update(ctx, jobID, u); err != nil {
		return fmt.Errorf("failed to update job %d: %w", jobID, err)
	}
	return nil
}

func (r *Runner) markFailed(ctx context.Context, log *slog.Logger, jobID int64, cause error) {
	inProgress := false
	detail := cause.Error()
	if err := r.update(ctx, jobID, Update{InProgress: &inProgress, Detail: &detail}); err != nil {
		log.Error("jobs: failed to record failure", "error", err)
	}
}
