package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/48ix/stats/pkg/statserr"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	jobs      map[int64]*Job
	nextID    int64
	updates   []Update
	completed []int64

	CompleteFunc func(ctx context.Context, id int64) error
}

func newMemStore(clock clockwork.Clock) *memStore {
	return &memStore{clock: clock, jobs: map[int64]*Job{}}
}

func (s *memStore) Create(_ context.Context, requestor string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if requestor == "" {
		return nil, statserr.NotFound("user '%s' does not exist", requestor)
	}
	s.nextID++
	job := &Job{ID: s.nextID, InProgress: true, RequestTime: s.clock.Now(), Requestor: requestor}
	s.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

func (s *memStore) Get(_ context.Context, id int64) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, statserr.NotFound("Job %d does not exist.", id)
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) Update(_ context.Context, id int64, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return statserr.NotFound("Job %d does not exist.", id)
	}
	s.updates = append(s.updates, u)
	if u.InProgress != nil {
		job.InProgress = *u.InProgress
	}
	if u.Detail != nil {
		d := *u.Detail
		job.Detail = &d
	}
	return nil
}

func (s *memStore) Complete(ctx context.Context, id int64) error {
	if s.CompleteFunc != nil {
		if err := s.CompleteFunc(ctx, id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return statserr.NotFound("Job %d does not exist.", id)
	}
	s.completed = append(s.completed, id)
	now := s.clock.Now()
	job.InProgress = false
	job.CompleteTime = &now
	return nil
}

func (s *memStore) List(_ context.Context, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) completedIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.completed...)
}

func (s *memStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

type mockCaller struct {
	CallFunc func(ctx context.Context, method string, args any) (any, error)
}

func (m *mockCaller) Call(ctx context.Context, method string, args any) (any, error) {
	return m.CallFunc(ctx, method, args)
}

var testEpoch = time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)
