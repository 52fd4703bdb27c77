package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/48ix/stats/pkg/statserr"
)

const DefaultListLimit = 100

type TrackerConfig struct {
	Logger *slog.Logger
	Store  Store
	Runner *Runner
}

func (cfg *TrackerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Runner == nil {
		return errors.New("runner is required")
	}
	return nil
}

// Tracker creates jobs and runs their actions in the background.
type Tracker struct {
	log    *slog.Logger
	store  Store
	runner *Runner
	wg     sync.WaitGroup
}

func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{log: cfg.Logger, store: cfg.Store, runner: cfg.Runner}, nil
}

// Submit records a new job for requestor and starts action without waiting for it.
// The returned job is the state at creation. Errors from the run only reach the
// job's detail and the log.
func (t *Tracker) Submit(ctx context.Context, requestor string, action Action) (*Job, error) {
	if err := action.validate(); err != nil {
		return nil, err
	}
	job, err := t.store.Create(ctx, requestor)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	runCtx := context.WithoutCancel(ctx)
	t.log.Info("jobs: submitted", "job_id", job.ID, "run_id", runID, "action", action.Name, "requestor", requestor)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.runner.Run(runCtx, job.ID, action); err != nil {
			statserr.Log(runCtx, t.log, "jobs: background run failed", err, "job_id", job.ID, "run_id", runID)
		}
	}()
	return job, nil
}

// Status returns the current state of a job.
func (t *Tracker) Status(ctx context.Context, id int64) (*Job, error) {
	return t.store.Get(ctx, id)
}

// List returns up to limit recent jobs. Non-positive limits use DefaultListLimit.
func (t *Tracker) List(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return t.store.List(ctx, limit)
}

// Wait blocks until all background runs have finished or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
