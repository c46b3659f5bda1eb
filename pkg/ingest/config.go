package ingest

import (
	"context"
	"time"

	"github.com/0xmhha/event-collector/internal/constants"
	"github.com/0xmhha/event-collector/pkg/provider"
	"github.com/0xmhha/event-collector/pkg/types"
)

// Default configuration values
const (
	DefaultPollInterval     = constants.DefaultPollInterval
	DefaultBackfillBlocks   = constants.DefaultBackfillBlocks
	DefaultPollLookback     = constants.DefaultPollLookback
	DefaultLogBuffer        = constants.DefaultLogBuffer
	DefaultResubscribeDelay = constants.DefaultResubscribeDelay
)

// Config holds controller tuning
type Config struct {
	// PollInterval is the period of the polling ticker
	PollInterval time.Duration

	// BackfillBlocks bounds the historical window fetched on start
	BackfillBlocks uint64

	// PollLookback is how far behind the head polling starts
	PollLookback uint64

	// LogBuffer is the channel size of live log subscriptions
	LogBuffer int

	// ResubscribeDelay is the wait before re-establishing a dropped live subscription
	ResubscribeDelay time.Duration
}

// DefaultConfig returns the default controller configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:     DefaultPollInterval,
		BackfillBlocks:   DefaultBackfillBlocks,
		PollLookback:     DefaultPollLookback,
		LogBuffer:        DefaultLogBuffer,
		ResubscribeDelay: DefaultResubscribeDelay,
	}
}

// SetDefaults fills zero values with defaults
func (c *Config) SetDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BackfillBlocks == 0 {
		c.BackfillBlocks = DefaultBackfillBlocks
	}
	if c.PollLookback == 0 {
		c.PollLookback = DefaultPollLookback
	}
	if c.LogBuffer <= 0 {
		c.LogBuffer = DefaultLogBuffer
	}
	if c.ResubscribeDelay <= 0 {
		c.ResubscribeDelay = DefaultResubscribeDelay
	}
}

// ChainRegistry resolves providers for registry chain ids.
// FindOne materialises the provider as a side effect.
type ChainRegistry interface {
	GetProvider(chainID uint64) (provider.Provider, bool)
	FindOne(ctx context.Context, id uint64) (*types.Chain, error)
}

// SubscriptionRegistry loads subscriptions.
// FindAll returns active subscriptions only; FindOne returns an error
// wrapping storage.ErrNotFound when the id is unknown.
type SubscriptionRegistry interface {
	FindAll(ctx context.Context) ([]*types.Subscription, error)
	FindOne(ctx context.Context, id uint64) (*types.Subscription, error)
}

// EventStore persists collected events.
// Saving an already stored occurrence returns storage.ErrDuplicate.
type EventStore interface {
	SaveEvent(ctx context.Context, event *types.CollectedEvent) (*types.CollectedEvent, error)
}

// Publisher broadcasts persisted events
type Publisher interface {
	Publish(event *types.CollectedEvent) bool
}
