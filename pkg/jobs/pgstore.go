package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/48ix/stats/pkg/statserr"
)

type PGStoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Clock  clockwork.Clock
}

func (cfg *PGStoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// PGStore is a Store backed by the api_jobs table.
type PGStore struct {
	log   *slog.Logger
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

func NewPGStore(cfg PGStoreConfig) (*PGStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PGStore{log: cfg.Logger, pool: cfg.Pool, clock: cfg.Clock}, nil
}

// now matches PostgreSQL's microsecond timestamp precision.
func (s *PGStore) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

const jobColumns = `j.id, j.in_progress, j.detail, j.request_time, j.complete_time, u.username`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	if err := row.Scan(&j.ID, &j.InProgress, &j.Detail, &j.RequestTime, &j.CompleteTime, &j.Requestor); err != nil {
		return nil, err
	}
	j.RequestTime = j.RequestTime.UTC()
	if j.CompleteTime != nil {
		t := j.CompleteTime.UTC()
		j.CompleteTime = &t
	}
	return &j, nil
}

// Create inserts an in-progress job for requestor.
func (s *PGStore) Create(ctx context.Context, requestor string) (*Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`WITH j AS (
			INSERT INTO api_jobs (requestor_id, request_time, in_progress)
			SELECT id, $2, TRUE FROM api_users WHERE username = $1
			RETURNING id, in_progress, detail, request_time, complete_time, requestor_id
		)
		SELECT `+jobColumns+` FROM j JOIN api_users u ON u.id = j.requestor_id`,
		requestor, s.now(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, statserr.NotFound("user '%s' does not exist", requestor)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	s.log.Debug("jobs: created", "job_id", job.ID, "requestor", requestor)
	return job, nil
}

func (s *PGStore) Get(ctx context.Context, id int64) (*Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM api_jobs j JOIN api_users u ON u.id = j.requestor_id WHERE j.id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, statserr.NotFound("Job %d does not exist.", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *PGStore) Update(ctx context.Context, id int64, u Update) error {
	cmdTag, err := s.pool.Exec(ctx,
		`UPDATE api_jobs SET
			in_progress = COALESCE($2, in_progress),
			detail = COALESCE($3, detail)
		 WHERE id = $1`,
		id, u.InProgress, u.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return statserr.NotFound("Job %d does not exist.", id)
	}
	return nil
}

// Complete clears in_progress and stamps complete_time.
func (s *PGStore) Complete(ctx context.Context, id int64) error {
	cmdTag, err := s.pool.Exec(ctx,
		`UPDATE api_jobs SET in_progress = FALSE, complete_time = $2 WHERE id = $1`,
		id, s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return statserr.NotFound("Job %d does not exist.", id)
	}
	return nil
}

// List returns the most recent jobs first.
func (s *PGStore) List(ctx context.Context, limit int) ([]Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM api_jobs j JOIN api_users u ON u.id = j.requestor_id
		 ORDER BY j.request_time DESC, j.id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
