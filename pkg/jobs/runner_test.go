package jobs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/48ix/stats/pkg/policy"
	"github.com/48ix/stats/pkg/statserr"
	statstesting "github.com/48ix/stats/utils/pkg/testing"
)

func newTestRunner(t *testing.T, store Store, call func(ctx context.Context, method string, args any) (any, error)) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerConfig{
		Logger: statstesting.NewLogger(),
		Caller: &mockCaller{CallFunc: call},
		Store:  store,
		Clock:  clockwork.NewFakeClockAt(testEpoch),
	})
	require.NoError(t, err)
	return r
}

func refusedErr() error {
	return fmt.Errorf("failed to connect to policy server: %w",
		&net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)})
}

func TestStats_Jobs_Runner_Run(t *testing.T) {
	t.Parallel()

	t.Run("success writes the joined reply and completes", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(clockwork.NewFakeClockAt(testEpoch))
		job, err := store.Create(context.Background(), "ops")
		require.NoError(t, err)

		var gotMethod string
		var gotArgs any
		r := newTestRunner(t, store, func(ctx context.Context, method string, args any) (any, error) {
			gotMethod, gotArgs = method, args
			return []any{"Policy updated", "3 peers"}, nil
		})

		require.NoError(t, r.Run(context.Background(), job.ID, UpdatePolicy(1)))
		assert.Equal(t, policy.MethodUpdatePolicy, gotMethod)
		assert.Equal(t, 1, gotArgs)

		got, err := store.Get(context.Background(), job.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Detail)
		assert.Equal(t, "Policy updated, 3 peers", *got.Detail)
		assert.False(t, got.InProgress)
		require.NotNil(t, got.CompleteTime)
		assert.Equal(t, []int64{job.ID}, store.completedIDs())
	})

	t.Run("connection refused marks failed, completes and returns backend unavailable", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(clockwork.NewFakeClockAt(testEpoch))
		job, err := store.Create(context.Background(), "ops")
		require.NoError(t, err)

		r := newTestRunner(t, store, func(ctx context.Context, method string, args any) (any, error) {
			return nil, refusedErr()
		})

		err = r.Run(context.Background(), job.ID, UpdatePolicy(1))
		require.ErrorIs(t, err, statserr.ErrBackendUnavailable)

		got, err := store.Get(context.Background(), job.ID)
		require.NoError(t, err)
		assert.False(t, got.InProgress)
		require.NotNil(t, got.Detail)
		assert.Contains(t, *got.Detail, "connection refused")
		assert.Equal(t, []int64{job.ID}, store.completedIDs())
	})

	t.Run("dns failure is treated like a refused connection", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(clockwork.NewFakeClockAt(testEpoch))
		job, err := store.Create(context.Background(), "ops")
		require.NoError(t, err)

		r := newTestRunner(t, store, func(ctx context.Context, method string, args any) (any, error) {
			return nil, &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{Err: "no such host", Name: "policy.invalid"}}
		})

		err = r.Run(context.Background(), job.ID, UpdateACLs())
		require.ErrorIs(t, err, statserr.ErrBackendUnavailable)
		assert.Equal(t, []int64{job.ID}, store.completedIDs())
	})

	t.Run("timeout marks failed, completes and is swallowed", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(clockwork.NewFakeClockAt(testEpoch))
		job, err := store.Create(context.Background(), "ops")
		require.NoError(t, err)

		r := newTestRunner(t, store, func(ctx context.Context, method string, args any) (any, error) {
			return nil, fmt.Errorf("policy server call: %w", os.ErrDeadlineExceeded)
		})

		require.NoError(t, r.Run(context.Background(), job.ID, UpdatePolicy(1)))

		got, err := store.Get(context.Background(), job.ID)
		require.NoError(t, err)
		assert.False(t, got.InProgress)
		require.NotNil(t, got.Detail)
		assert.Contains(t, *got.Detail, "i/o timeout")
		assert.Equal(t, []int64{job.ID}, store.completedIDs())
	})

	t.Run("other remote errors are returned", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(clockwork.NewFakeClockAt(testEpoch))
		job, err := store.Create(context.Background(), "ops")
		require.NoError(t, err)

		r := newTestRunner(t, store, func(ctx context.Context, method string, args any) (any, error) {
			return nil, errors.New("switch unreachable")
		})

		err = r.Run(context.Background(), job.ID, UpdateACLs())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "switch unreachable")
		assert.Equal(t, []int64{job.ID}, store.completedIDs())
	})

	t.Run("unknown action never calls out", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(clockwork.NewFakeClockAt(testEpoch))
		called := false
		r := newTestRunner(t, store, func(ctx context.Context, method string, args any) (any, error) {
			called = true
			return nil, nil
		})

		err := r.Run(context.Background(), 1, Action{Name: "reboot_everything"})
		require.ErrorIs(t, err, statserr.ErrInvalidInput)
		assert.False(t, called)
		assert.Empty(t, store.completedIDs())
	})

	t.Run("completion failure is reported", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(clockwork.NewFakeClockAt(testEpoch))
		store.CompleteFunc = func(ctx context.Context, id int64) error { return errors.New("db down") }
		job, err := store.Create(context.Background(), "ops")
		require.NoError(t, err)

		r := newTestRunner(t, store, func(ctx context.Context, method string, args any) (any, error) {
			return "ok", nil
		})

		err = r.Run(context.Background(), job.ID, UpdatePolicy(1))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db down")
	})

	t.Run("cancelled context still records the outcome", func(t *testing.T) {
		t.Parallel()
		store := newMemStore(clockwork.NewFakeClockAt(testEpoch))
		job, err := store.Create(context.Background(), "ops")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		r := newTestRunner(t, store, func(ctx context.Context, method string, args any) (any, error) {
			cancel()
			return nil, fmt.Errorf("policy server call: %w", context.DeadlineExceeded)
		})

		require.NoError(t, r.Run(ctx, job.ID, UpdatePolicy(1)))
		assert.Equal(t, 1, store.updateCount())
		assert.Equal(t, []int64{job.ID}, store.completedIDs())
	})
}

func TestStats_Jobs_ActionByName(t *testing.T) {
	t.Parallel()

	a, err := ActionByName("update_policy")
	require.NoError(t, err)
	assert.Equal(t, UpdatePolicy(1), a)

	a, err = ActionByName("update_acls")
	require.NoError(t, err)
	assert.Equal(t, policy.MethodUpdateSwitchACL, a.Method)

	_, err = ActionByName("nope")
	require.ErrorIs(t, err, statserr.ErrInvalidInput)
}
