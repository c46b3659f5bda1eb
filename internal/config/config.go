package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/0xmhha/event-collector/internal/constants"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the collector
type Config struct {
	RPC       RPCConfig       `yaml:"rpc"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Ingest    IngestConfig    `yaml:"ingest"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// RPCConfig holds per-chain RPC client configuration
type RPCConfig struct {
	// Timeout bounds every request sent to a chain endpoint
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path     string `yaml:"path"`
	ReadOnly bool   `yaml:"readonly"`
	// Cache is the pebble block cache size in MB
	Cache int `yaml:"cache"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IngestConfig holds ingestion controller tuning
type IngestConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	BackfillBlocks   uint64        `yaml:"backfill_blocks"`
	PollLookback     uint64        `yaml:"poll_lookback"`
	LogBuffer        int           `yaml:"log_buffer"`
	ResubscribeDelay time.Duration `yaml:"resubscribe_delay"`
	// SkipRecover leaves persisted active subscriptions stopped at startup
	SkipRecover bool `yaml:"skip_recover"`
}

// EventBusConfig holds broadcast bus configuration
type EventBusConfig struct {
	// PublishBufferSize is the size of the publish buffer
	PublishBufferSize int `yaml:"publish_buffer_size"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	EnableWebSocket    bool     `yaml:"enable_websocket"`
	EnableCORS         bool     `yaml:"enable_cors"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	EnableRateLimit    bool     `yaml:"enable_rate_limit"`
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// BootstrapConfig seeds the registries at startup
type BootstrapConfig struct {
	Chains        []ChainSeed        `yaml:"chains"`
	Subscriptions []SubscriptionSeed `yaml:"subscriptions"`
}

// ChainSeed describes a chain registered at startup unless one with the same name exists
type ChainSeed struct {
	Name        string `yaml:"name"`
	RPCEndpoint string `yaml:"rpc_endpoint"`
	ChainID     uint64 `yaml:"chain_id"`
}

// SubscriptionSeed describes a subscription created at startup.
// Chain references a ChainSeed or an already registered chain by name.
type SubscriptionSeed struct {
	Chain           string  `yaml:"chain"`
	ContractAddress string  `yaml:"contract_address"`
	EventName       string  `yaml:"event_name"`
	ABI             string  `yaml:"abi"`
	ABIFile         string  `yaml:"abi_file"`
	Description     string  `yaml:"description"`
	FromBlock       *uint64 `yaml:"from_block"`
	// Start launches ingestion once the subscription exists
	Start bool `yaml:"start"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	// RPC defaults
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = constants.DefaultRPCTimeout
	}

	// Database defaults
	if c.Database.Path == "" {
		c.Database.Path = constants.DefaultDatabasePath
	}
	if c.Database.Cache == 0 {
		c.Database.Cache = constants.DefaultDatabaseCache
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// Ingest defaults
	if c.Ingest.PollInterval == 0 {
		c.Ingest.PollInterval = constants.DefaultPollInterval
	}
	if c.Ingest.BackfillBlocks == 0 {
		c.Ingest.BackfillBlocks = constants.DefaultBackfillBlocks
	}
	if c.Ingest.PollLookback == 0 {
		c.Ingest.PollLookback = constants.DefaultPollLookback
	}
	if c.Ingest.LogBuffer == 0 {
		c.Ingest.LogBuffer = constants.DefaultLogBuffer
	}
	if c.Ingest.ResubscribeDelay == 0 {
		c.Ingest.ResubscribeDelay = constants.DefaultResubscribeDelay
	}

	// EventBus defaults
	if c.EventBus.PublishBufferSize == 0 {
		c.EventBus.PublishBufferSize = constants.DefaultPublishBufferSize
	}

	// API defaults
	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.AllowedOrigins == nil {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.API.RateLimitPerSecond == 0 {
		c.API.RateLimitPerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = constants.DefaultRateLimitBurst
	}

	// Metrics defaults
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = constants.DefaultMetricsNamespace
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// RPC configuration
	if timeout := os.Getenv("COLLECTOR_RPC_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid COLLECTOR_RPC_TIMEOUT: %w", err)
		}
		c.RPC.Timeout = duration
	}

	// Database configuration
	if path := os.Getenv("COLLECTOR_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if readonly := os.Getenv("COLLECTOR_DB_READONLY"); readonly != "" {
		val, err := strconv.ParseBool(readonly)
		if err != nil {
			return fmt.Errorf("invalid COLLECTOR_DB_READONLY: %w", err)
		}
		c.Database.ReadOnly = val
	}

	// Log configuration
	if level := os.Getenv("COLLECTOR_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("COLLECTOR_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// Ingest configuration
	if interval := os.Getenv("COLLECTOR_POLL_INTERVAL"); interval != "" {
		duration, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid COLLECTOR_POLL_INTERVAL: %w", err)
		}
		c.Ingest.PollInterval = duration
	}
	if blocks := os.Getenv("COLLECTOR_BACKFILL_BLOCKS"); blocks != "" {
		val, err := strconv.ParseUint(blocks, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid COLLECTOR_BACKFILL_BLOCKS: %w", err)
		}
		c.Ingest.BackfillBlocks = val
	}
	if delay := os.Getenv("COLLECTOR_RESUBSCRIBE_DELAY"); delay != "" {
		duration, err := time.ParseDuration(delay)
		if err != nil {
			return fmt.Errorf("invalid COLLECTOR_RESUBSCRIBE_DELAY: %w", err)
		}
		c.Ingest.ResubscribeDelay = duration
	}
	if skip := os.Getenv("COLLECTOR_SKIP_RECOVER"); skip != "" {
		val, err := strconv.ParseBool(skip)
		if err != nil {
			return fmt.Errorf("invalid COLLECTOR_SKIP_RECOVER: %w", err)
		}
		c.Ingest.SkipRecover = val
	}

	// API configuration
	if enabled := os.Getenv("COLLECTOR_API_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid COLLECTOR_API_ENABLED: %w", err)
		}
		c.API.Enabled = val
	}
	if host := os.Getenv("COLLECTOR_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("COLLECTOR_API_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid COLLECTOR_API_PORT: %w", err)
		}
		c.API.Port = val
	}
	if ws := os.Getenv("COLLECTOR_API_WEBSOCKET"); ws != "" {
		val, err := strconv.ParseBool(ws)
		if err != nil {
			return fmt.Errorf("invalid COLLECTOR_API_WEBSOCKET: %w", err)
		}
		c.API.EnableWebSocket = val
	}
	if cors := os.Getenv("COLLECTOR_API_CORS_ENABLED"); cors != "" {
		val, err := strconv.ParseBool(cors)
		if err != nil {
			return fmt.Errorf("invalid COLLECTOR_API_CORS_ENABLED: %w", err)
		}
		c.API.EnableCORS = val
	}
	if origins := os.Getenv("COLLECTOR_API_CORS_ALLOWED_ORIGINS"); origins != "" {
		c.API.AllowedOrigins = splitList(origins)
	}
	if limit := os.Getenv("COLLECTOR_API_RATE_LIMIT"); limit != "" {
		val, err := strconv.ParseBool(limit)
		if err != nil {
			return fmt.Errorf("invalid COLLECTOR_API_RATE_LIMIT: %w", err)
		}
		c.API.EnableRateLimit = val
	}

	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}

	// Validate database configuration
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Database.Cache < 0 {
		return fmt.Errorf("database cache cannot be negative")
	}

	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	// Validate ingest configuration
	if c.Ingest.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Ingest.ResubscribeDelay <= 0 {
		return fmt.Errorf("resubscribe delay must be positive")
	}
	if c.Ingest.LogBuffer <= 0 {
		return fmt.Errorf("log buffer must be positive")
	}

	if c.EventBus.PublishBufferSize <= 0 {
		return fmt.Errorf("eventbus publish buffer size must be positive")
	}

	// Validate API configuration
	if c.API.Enabled {
		if c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort {
			return fmt.Errorf("api port must be between %d and %d", constants.MinPort, constants.MaxPort)
		}
		if c.API.EnableRateLimit && (c.API.RateLimitPerSecond <= 0 || c.API.RateLimitBurst <= 0) {
			return fmt.Errorf("api rate limit and burst must be positive")
		}
	}

	return c.Bootstrap.Validate()
}

// Validate checks seed entries. Subscription chain references are resolved
// against registered chains at startup, so unknown names are not rejected here.
func (b *BootstrapConfig) Validate() error {
	names := make(map[string]bool, len(b.Chains))
	for i, chain := range b.Chains {
		if chain.Name == "" {
			return fmt.Errorf("bootstrap chain %d: name is required", i)
		}
		if chain.RPCEndpoint == "" {
			return fmt.Errorf("bootstrap chain %q: rpc endpoint is required", chain.Name)
		}
		if names[chain.Name] {
			return fmt.Errorf("bootstrap chain %q: duplicate name", chain.Name)
		}
		names[chain.Name] = true
	}

	for i, sub := range b.Subscriptions {
		if sub.Chain == "" {
			return fmt.Errorf("bootstrap subscription %d: chain is required", i)
		}
		if sub.ContractAddress == "" || sub.EventName == "" {
			return fmt.Errorf("bootstrap subscription %d: contract address and event name are required", i)
		}
		if (sub.ABI == "") == (sub.ABIFile == "") {
			return fmt.Errorf("bootstrap subscription %d: exactly one of abi and abi_file is required", i)
		}
	}
	return nil
}

// Load is a convenience method that loads configuration in the following order:
// 1. Set defaults
// 2. Load from file (if provided)
// 3. Load from environment variables (override file)
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := NewConfig()

	// Load from file if provided
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Load from environment variables (override file)
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Set defaults for any missing values
	cfg.SetDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
