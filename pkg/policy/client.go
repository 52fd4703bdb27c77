package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc/jsonrpc"
	"strconv"
	"time"
)

const (
	DefaultPort        = 4801
	defaultDialTimeout = 5 * time.Second
	defaultCallTimeout = 2 * time.Minute
)

// Remote method names exposed by the route policy server.
const (
	MethodUpdatePolicy    = "PolicyServer.UpdatePolicy"
	MethodUpdateSwitchACL = "PolicyServer.UpdateSwitchACL"
)

type ClientConfig struct {
	Logger      *slog.Logger
	Host        string
	Port        int
	DialTimeout time.Duration
	CallTimeout time.Duration
}

func (cfg *ClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Host == "" {
		return errors.New("host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return nil
}

// Client is a JSON-RPC client for the route policy server. Each call uses its own
// connection, so a Client is safe for concurrent use.
type Client struct {
	log  *slog.Logger
	cfg  ClientConfig
	addr string
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		log:  cfg.Logger,
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}, nil
}

// Addr returns the host:port the client dials.
func (c *Client) Addr() string {
	return c.addr
}

// Call dials the server, invokes method with args and returns the decoded reply.
// The call is bounded by CallTimeout and by ctx, whichever ends first.
func (c *Client) Call(ctx context.Context, method string, args any) (any, error) {
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to policy server %s: %w", c.addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.cfg.CallTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	client := jsonrpc.NewClient(conn)
	defer client.Close()

	c.log.Debug("policy: calling", "addr", c.addr, "method", method)
	var reply any
	if err := client.Call(method, args, &reply); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("policy server call %s: %w", method, ctxErr)
		}
		return nil, fmt.Errorf("policy server call %s: %w", method, err)
	}
	return reply, nil
}
