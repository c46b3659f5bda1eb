package storage

import (
	"context"
	"errors"

	"github.com/0xmhha/event-collector/pkg/types"
)

// Common errors
var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidData is returned when a record is incomplete or cannot be decoded
	ErrInvalidData = errors.New("invalid data")

	// ErrDuplicate is returned when an event with the same (subscription, tx, log index) exists
	ErrDuplicate = errors.New("duplicate event")

	// ErrClosed is returned when operating on a closed storage
	ErrClosed = errors.New("storage closed")

	// ErrReadOnly is returned when attempting to write to a read-only storage
	ErrReadOnly = errors.New("storage is read-only")
)

// DefaultEventLimit is applied when EventQuery.Limit is not positive
const DefaultEventLimit = 100

// EventQuery selects collected events. Nil fields do not filter.
type EventQuery struct {
	SubscriptionID *uint64
	ChainID        *uint64
	Limit          int
}

// EventReader provides read-only access to collected events
type EventReader interface {
	// FindEvents returns events ordered by block number desc, then creation time desc
	FindEvents(ctx context.Context, q EventQuery) ([]*types.CollectedEvent, error)

	// GetEvent returns an event by id
	GetEvent(ctx context.Context, id uint64) (*types.CollectedEvent, error)

	// CountEvents returns the total number of stored events
	CountEvents(ctx context.Context) (uint64, error)
}

// EventWriter appends collected events. Events are never updated or deleted.
type EventWriter interface {
	// SaveEvent assigns ID and CreatedAt and stores the event
	SaveEvent(ctx context.Context, event *types.CollectedEvent) (*types.CollectedEvent, error)
}

// ChainStore persists chain registry records
type ChainStore interface {
	SaveChain(ctx context.Context, chain *types.Chain) (*types.Chain, error)
	GetChain(ctx context.Context, id uint64) (*types.Chain, error)
	ListChains(ctx context.Context) ([]*types.Chain, error)
	DeleteChain(ctx context.Context, id uint64) error
}

// SubscriptionStore persists subscription records
type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, sub *types.Subscription) (*types.Subscription, error)
	GetSubscription(ctx context.Context, id uint64) (*types.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]*types.Subscription, error)
}

// Storage combines every store interface
type Storage interface {
	EventReader
	EventWriter
	ChainStore
	SubscriptionStore

	// Close closes the storage
	Close() error
}

// Config holds storage configuration
type Config struct {
	// Path to the database directory
	Path string

	// Cache size in MB (default: 64)
	Cache int

	// MaxOpenFiles is the maximum number of open files (default: 1000)
	MaxOpenFiles int

	// WriteBuffer size in MB (default: 32)
	WriteBuffer int

	// ReadOnly opens the database in read-only mode
	ReadOnly bool
}

// DefaultConfig returns a default configuration
func DefaultConfig(path string) *Config {
	return &Config{
		Path:         path,
		Cache:        64,
		MaxOpenFiles: 1000,
		WriteBuffer:  32,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("path cannot be empty")
	}
	if c.Cache < 0 {
		return errors.New("cache size cannot be negative")
	}
	if c.MaxOpenFiles < 0 {
		return errors.New("max open files cannot be negative")
	}
	if c.WriteBuffer < 0 {
		return errors.New("write buffer size cannot be negative")
	}
	return nil
}
