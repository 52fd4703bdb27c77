package jobs

import (
	"context"
	"time"
)

// Job is a persisted record of one background remote action.
type Job struct {
	ID           int64      `json:"id"`
	InProgress   bool       `json:"in_progress"`
	Detail       *string    `json:"detail"`
	RequestTime  time.Time  `json:"request_time"`
	CompleteTime *time.Time `json:"complete_time"`
	Requestor    string     `json:"requestor"`
}

// Update holds the fields to change on a job. Nil fields are left as they are.
type Update struct {
	InProgress *bool
	Detail     *string
}

// Store persists jobs. Updates are last-writer-wins by id.
type Store interface {
	Create(ctx context.Context, requestor string) (*Job, error)
	Get(ctx context.Context, id int64) (*Job, error)
	Update(ctx context.Context, id int64, u Update) error
	Complete(ctx context.Context, id int64) error
	List(ctx context.Context, limit int) ([]Job, error)
}
