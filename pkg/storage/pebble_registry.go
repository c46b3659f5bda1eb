package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/0xmhha/event-collector/pkg/types"
)

// SaveChain inserts or replaces a chain record. A zero ID is assigned from the chain sequence.
func (s *PebbleStorage) SaveChain(ctx context.Context, chain *types.Chain) (*types.Chain, error) {
	if err := s.ensureWritable(); err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, fmt.Errorf("%w: chain cannot be nil", ErrInvalidData)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	record := *chain
	if err := s.assignID(batch, seqChains, &record.ID); err != nil {
		return nil, err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if err := s.setJSON(batch, ChainKey(record.ID), &record); err != nil {
		return nil, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to commit chain: %w", err)
	}
	return &record, nil
}

// GetChain returns a chain by registry id
func (s *PebbleStorage) GetChain(ctx context.Context, id uint64) (*types.Chain, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	var chain types.Chain
	if err := s.getJSON(ChainKey(id), &chain); err != nil {
		return nil, err
	}
	return &chain, nil
}

// ListChains returns every chain ordered by id
func (s *PebbleStorage) ListChains(ctx context.Context) ([]*types.Chain, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	var chains []*types.Chain
	err := s.scanPrefix([]byte(prefixChains), func(value []byte) error {
		var chain types.Chain
		if err := json.Unmarshal(value, &chain); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		chains = append(chains, &chain)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chains, nil
}

// DeleteChain removes a chain record
func (s *PebbleStorage) DeleteChain(ctx context.Context, id uint64) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key := ChainKey(id)
	exists, err := s.has(key)
	if err != nil {
		return fmt.Errorf("failed to check chain: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return s.db.Delete(key, pebble.Sync)
}

// SaveSubscription inserts or replaces a subscription record.
// A zero ID is assigned from the subscription sequence; UpdatedAt is always refreshed.
func (s *PebbleStorage) SaveSubscription(ctx context.Context, sub *types.Subscription) (*types.Subscription, error) {
	if err := s.ensureWritable(); err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: subscription cannot be nil", ErrInvalidData)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	record := *sub
	if err := s.assignID(batch, seqSubscriptions, &record.ID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	if err := s.setJSON(batch, SubscriptionKey(record.ID), &record); err != nil {
		return nil, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to commit subscription: %w", err)
	}
	return &record, nil
}

// GetSubscription returns a subscription by id
func (s *PebbleStorage) GetSubscription(ctx context.Context, id uint64) (*types.Subscription, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	var sub types.Subscription
	if err := s.getJSON(SubscriptionKey(id), &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptions returns every subscription, active or not, ordered by id
func (s *PebbleStorage) ListSubscriptions(ctx context.Context) ([]*types.Subscription, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	var subs []*types.Subscription
	err := s.scanPrefix([]byte(prefixSubs), func(value []byte) error {
		var sub types.Subscription
		if err := json.Unmarshal(value, &sub); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		subs = append(subs, &sub)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// assignID fills a zero id from the named sequence, or keeps the sequence ahead of an explicit id
func (s *PebbleStorage) assignID(batch *pebble.Batch, seq string, id *uint64) error {
	if *id == 0 {
		next, err := s.nextSequence(batch, seq)
		if err != nil {
			return err
		}
		*id = next
		return nil
	}
	if err := s.bumpSequence(batch, seq, *id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// setJSON encodes v into batch under key
func (s *PebbleStorage) setJSON(batch *pebble.Batch, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := batch.Set(key, data, nil); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}
