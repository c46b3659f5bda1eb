package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by every call made after Close
	ErrClosed = errors.New("client is closed")

	// ErrEmptyEndpoint is returned when the configured endpoint is blank
	ErrEmptyEndpoint = errors.New("endpoint cannot be empty")
)

// DefaultTimeout bounds the dial and every request when Config.Timeout is unset
const DefaultTimeout = 10 * time.Second

// Client wraps the Ethereum JSON-RPC client for a single chain.
// The connection is opened on first use, so constructing a Client never blocks
// and never fails; dial errors surface from the first call that needs it.
type Client struct {
	endpoint string
	timeout  time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	ethClient *ethclient.Client
	rpcClient *rpc.Client
	closed    bool
}

// Config holds client configuration
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewClient creates a client for the given endpoint without connecting
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		endpoint: cfg.Endpoint,
		timeout:  timeout,
		logger:   logger,
	}
}

// conn returns the live connection, dialing it if needed
func (c *Client) conn(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.ethClient != nil {
		return c.ethClient, nil
	}
	if c.endpoint == "" {
		return nil, ErrEmptyEndpoint
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(dialCtx, c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	c.rpcClient = rpcClient
	c.ethClient = ethclient.NewClient(rpcClient)

	c.logger.Info("connected to Ethereum RPC",
		zap.String("endpoint", c.endpoint))

	return c.ethClient, nil
}

// withTimeout bounds a single request by the client timeout
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Endpoint returns the configured RPC endpoint
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Connected reports whether a connection has been opened
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ethClient != nil
}

// Close closes the client connection. Later calls return ErrClosed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if c.ethClient != nil {
		c.ethClient.Close()
		c.ethClient = nil
		c.rpcClient = nil
	}
}

// BlockNumber returns the latest block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ec, err := c.conn(ctx)
	if err != nil {
		return 0, err
	}
	blockNumber, err := ec.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return blockNumber, nil
}

// ChainID returns the network id reported by the node
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ec, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	return chainID, nil
}

// FilterLogs runs a one-shot historical log query
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ec, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	logs, err := ec.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs: %w", err)
	}
	return logs, nil
}

// SubscribeFilterLogs opens a push subscription for logs matching q.
// The timeout bounds only the subscribe request, not the subscription.
// Endpoints without notification support (plain HTTP) fail here.
func (c *Client) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ec, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := ec.SubscribeFilterLogs(ctx, q, ch)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to logs: %w", err)
	}
	return sub, nil
}
