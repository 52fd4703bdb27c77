package policy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	statstesting "github.com/48ix/stats/utils/pkg/testing"
)

type PolicyServer struct {
	delay time.Duration
}

func (s *PolicyServer) UpdatePolicy(wait int, reply *[]string) error {
	time.Sleep(s.delay)
	*reply = []string{"policy updated", fmt.Sprintf("waited %ds", wait)}
	return nil
}

func (s *PolicyServer) UpdateSwitchACL(_ struct{}, reply *[]string) error {
	return errors.New("switch unreachable")
}

func startPolicyServer(t *testing.T, srv *PolicyServer) (string, int) {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("PolicyServer", srv))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func newTestClient(t *testing.T, host string, port int, callTimeout time.Duration) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		Logger:      statstesting.NewLogger(),
		Host:        host,
		Port:        port,
		CallTimeout: callTimeout,
	})
	require.NoError(t, err)
	return c
}

func TestStats_Policy_Client_Call(t *testing.T) {
	t.Parallel()

	host, port := startPolicyServer(t, &PolicyServer{})
	c := newTestClient(t, host, port, time.Second)

	reply, err := c.Call(context.Background(), MethodUpdatePolicy, 1)
	require.NoError(t, err)
	assert.Equal(t, "policy updated, waited 1s", FormatResult(reply))
}

func TestStats_Policy_Client_RemoteError(t *testing.T) {
	t.Parallel()

	host, port := startPolicyServer(t, &PolicyServer{})
	c := newTestClient(t, host, port, time.Second)

	_, err := c.Call(context.Background(), MethodUpdateSwitchACL, struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "switch unreachable")
	assert.False(t, IsConnectionFailure(err))
	assert.False(t, IsTimeout(err))
}

func TestStats_Policy_Client_Timeout(t *testing.T) {
	t.Parallel()

	host, port := startPolicyServer(t, &PolicyServer{delay: 500 * time.Millisecond})
	c := newTestClient(t, host, port, 50*time.Millisecond)

	_, err := c.Call(context.Background(), MethodUpdatePolicy, 1)
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
	assert.False(t, IsConnectionFailure(err))
}

func TestStats_Policy_Client_ContextDeadline(t *testing.T) {
	t.Parallel()

	host, port := startPolicyServer(t, &PolicyServer{delay: 500 * time.Millisecond})
	c := newTestClient(t, host, port, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Call(ctx, MethodUpdatePolicy, 1)
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
}

func TestStats_Policy_Client_ConnectionRefused(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := newTestClient(t, "127.0.0.1", port, time.Second)
	_, err = c.Call(context.Background(), MethodUpdatePolicy, 1)
	require.Error(t, err)
	assert.True(t, IsConnectionFailure(err), "got %v", err)
}

func TestStats_Policy_ErrorClassification(t *testing.T) {
	t.Parallel()

	dnsErr := fmt.Errorf("dial: %w", &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{Err: "no such host", Name: "policy.invalid"}})
	assert.True(t, IsConnectionFailure(dnsErr))

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	assert.True(t, IsConnectionFailure(refused))
	assert.False(t, IsTimeout(refused))

	assert.True(t, IsTimeout(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.True(t, IsTimeout(os.ErrDeadlineExceeded))
	assert.False(t, IsTimeout(errors.New("boom")))
	assert.False(t, IsConnectionFailure(errors.New("boom")))
}

func TestStats_Policy_FormatResult(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", FormatResult(nil))
	assert.Equal(t, "done", FormatResult("done"))
	assert.Equal(t, "a, b", FormatResult([]string{"a", "b"}))
	assert.Equal(t, "a, 2", FormatResult([]any{"a", 2}))
	assert.Equal(t, "true", FormatResult(true))
}

func TestStats_Policy_ClientConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := ClientConfig{Logger: statstesting.NewLogger(), Host: "::1"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultPort, cfg.Port)

	c, err := NewClient(cfg)
	require.NoError(t, err)
	assert.Equal(t, "[::1]:4801", c.Addr())

	cfg = ClientConfig{Logger: statstesting.NewLogger()}
	require.Error(t, cfg.Validate())
}
