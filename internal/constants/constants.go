package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default API server host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default API server port
	DefaultAPIPort = 8080

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxHeaderBytes is the default maximum request header size (1 MB)
	DefaultMaxHeaderBytes = 1 << 20

	// DefaultRateLimitPerSecond is the default rate limit (requests per second)
	DefaultRateLimitPerSecond = 1000

	// DefaultRateLimitBurst is the default rate limit burst size
	DefaultRateLimitBurst = 2000
)

// API Paths
const (
	// DefaultWebSocketPath is the default live feed endpoint path
	DefaultWebSocketPath = "/ws"

	// DefaultMetricsPath is the default Prometheus endpoint path
	DefaultMetricsPath = "/metrics"
)

// Query Constants
const (
	// DefaultEventLimit is the number of events returned when no limit is given
	DefaultEventLimit = 100

	// MaxEventLimit caps the limit accepted by the events endpoint
	MaxEventLimit = 1000
)

// WebSocket Constants
const (
	// DefaultWSReadBufferSize is the default WebSocket read buffer size
	DefaultWSReadBufferSize = 1024

	// DefaultWSWriteBufferSize is the default WebSocket write buffer size
	DefaultWSWriteBufferSize = 1024

	// DefaultWSPongTimeout is the default WebSocket pong timeout
	DefaultWSPongTimeout = 60 * time.Second

	// DefaultWSWriteTimeout is the default WebSocket write timeout
	DefaultWSWriteTimeout = 10 * time.Second

	// DefaultWSClientBuffer is the outgoing message buffer of one WebSocket client
	DefaultWSClientBuffer = 256

	// DefaultFeedBuffer is the bus channel size of the WebSocket hub
	DefaultFeedBuffer = 1024
)

// Collector Constants
const (
	// DefaultRPCTimeout bounds a single request to a chain endpoint
	DefaultRPCTimeout = 30 * time.Second

	// DefaultDatabasePath is the default pebble directory
	DefaultDatabasePath = "./data/collector"

	// DefaultDatabaseCache is the default pebble block cache size in MB
	DefaultDatabaseCache = 64

	// DefaultPollInterval is the default polling period when live subscriptions are unavailable
	DefaultPollInterval = 5 * time.Second

	// DefaultBackfillBlocks bounds the historical window fetched on start
	DefaultBackfillBlocks = 1000

	// DefaultPollLookback is how far behind the head polling starts
	DefaultPollLookback = 100

	// DefaultLogBuffer is the channel size of a live log subscription
	DefaultLogBuffer = 256

	// DefaultResubscribeDelay is the wait before re-establishing a dropped live subscription
	DefaultResubscribeDelay = 5 * time.Second

	// DefaultPublishBufferSize is the default event bus publish buffer
	DefaultPublishBufferSize = 1000

	// DefaultMetricsNamespace prefixes every exported metric
	DefaultMetricsNamespace = "collector"
)
