package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// PebbleStorage implements Storage using PebbleDB
type PebbleStorage struct {
	db     *pebble.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool

	// writeMu serialises check-then-write sequences (dedup, id sequences)
	writeMu sync.Mutex

	// Event count cache to avoid a read per save
	eventCount atomic.Uint64
}

var _ Storage = (*PebbleStorage)(nil)

// NewPebbleStorage creates a new PebbleDB storage
func NewPebbleStorage(cfg *Config) (*PebbleStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := &pebble.Options{
		MaxOpenFiles: cfg.MaxOpenFiles,
		ReadOnly:     cfg.ReadOnly,
	}
	if cfg.Cache > 0 {
		cache := pebble.NewCache(int64(cfg.Cache) << 20) // Convert MB to bytes
		defer cache.Unref()
		opts.Cache = cache
	}
	if cfg.WriteBuffer > 0 {
		opts.MemTableSize = uint64(cfg.WriteBuffer) << 20
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &PebbleStorage{
		db:     db,
		config: cfg,
		logger: zap.NewNop(),
	}

	if err := storage.loadEventCount(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load event count: %w", err)
	}

	return storage, nil
}

// SetLogger sets the logger for the storage
func (s *PebbleStorage) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger.Named("storage")
	}
}

// loadEventCount loads the persisted event count into cache
func (s *PebbleStorage) loadEventCount() error {
	count, err := s.getUint64(EventCountKey())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.eventCount.Store(0)
			return nil
		}
		return err
	}
	s.eventCount.Store(count)
	return nil
}

// ensureNotClosed checks if storage is closed
func (s *PebbleStorage) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// ensureNotReadOnly checks if storage is read-only
func (s *PebbleStorage) ensureNotReadOnly() error {
	if s.config.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// ensureWritable combines the closed and read-only checks
func (s *PebbleStorage) ensureWritable() error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	return s.ensureNotReadOnly()
}

// Close closes the storage and releases resources
func (s *PebbleStorage) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// has reports whether key exists
func (s *PebbleStorage) has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

// getUint64 reads a big-endian counter
func (s *PebbleStorage) getUint64(key []byte) (uint64, error) {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()

	return DecodeUint64(value)
}

// getJSON reads key and decodes it into v
func (s *PebbleStorage) getJSON(key []byte, v interface{}) error {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(value, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return nil
}

// nextSequence reserves the next id of a named sequence inside batch.
// Caller must hold writeMu.
func (s *PebbleStorage) nextSequence(batch *pebble.Batch, name string) (uint64, error) {
	key := SequenceKey(name)
	current, err := s.getUint64(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	next := current + 1
	if err := batch.Set(key, EncodeUint64(next), nil); err != nil {
		return 0, fmt.Errorf("failed to set sequence: %w", err)
	}
	return next, nil
}

// bumpSequence raises a named sequence to at least id. Caller must hold writeMu.
func (s *PebbleStorage) bumpSequence(batch *pebble.Batch, name string, id uint64) error {
	key := SequenceKey(name)
	current, err := s.getUint64(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if id <= current {
		return nil
	}
	return batch.Set(key, EncodeUint64(id), nil)
}

// scanPrefix visits every value under prefix in key order
func (s *PebbleStorage) scanPrefix(prefix []byte, fn func(value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: incrementPrefix(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
