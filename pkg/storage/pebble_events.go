package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/pkg/types"
)

// SaveEvent assigns ID and CreatedAt and appends the event with its indexes.
// A second save of the same (subscription, tx hash, log index) returns ErrDuplicate.
func (s *PebbleStorage) SaveEvent(ctx context.Context, event *types.CollectedEvent) (*types.CollectedEvent, error) {
	if err := s.ensureWritable(); err != nil {
		return nil, err
	}
	if event == nil {
		return nil, fmt.Errorf("%w: event cannot be nil", ErrInvalidData)
	}
	if event.TransactionHash == "" {
		return nil, fmt.Errorf("%w: missing transaction hash", ErrInvalidData)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	dedupKey := EventDedupKey(event.SubscriptionID, event.TransactionHash, event.LogIndex)
	exists, err := s.has(dedupKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicate: %w", err)
	}
	if exists {
		return nil, ErrDuplicate
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	id, err := s.nextSequence(batch, seqEvents)
	if err != nil {
		return nil, err
	}

	record := *event
	record.ID = id
	record.CreatedAt = time.Now().UTC()
	record.Data = make(map[string]string, len(event.Data))
	for k, v := range event.Data {
		record.Data[k] = v
	}

	data, err := json.Marshal(&record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	created := uint64(record.CreatedAt.UnixNano())
	idValue := EncodeUint64(id)
	count := s.eventCount.Load() + 1

	writes := []struct {
		key   []byte
		value []byte
	}{
		{EventKey(id), data},
		{EventIndexAllKey(record.BlockNumber, created, id), idValue},
		{EventIndexSubscriptionKey(record.SubscriptionID, record.BlockNumber, created, id), idValue},
		{EventIndexChainKey(record.ChainID, record.BlockNumber, created, id), idValue},
		{dedupKey, idValue},
		{EventCountKey(), EncodeUint64(count)},
	}
	for _, w := range writes {
		if err := batch.Set(w.key, w.value, nil); err != nil {
			return nil, fmt.Errorf("failed to write event: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to commit event: %w", err)
	}
	s.eventCount.Store(count)

	s.logger.Debug("event saved",
		zap.Uint64("id", id),
		zap.Uint64("subscription", record.SubscriptionID),
		zap.Uint64("block", record.BlockNumber))

	return &record, nil
}

// GetEvent returns an event by id
func (s *PebbleStorage) GetEvent(ctx context.Context, id uint64) (*types.CollectedEvent, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	var event types.CollectedEvent
	if err := s.getJSON(EventKey(id), &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// FindEvents returns events ordered by block number desc, then creation time desc
func (s *PebbleStorage) FindEvents(ctx context.Context, q EventQuery) ([]*types.CollectedEvent, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	var prefix []byte
	switch {
	case q.SubscriptionID != nil:
		prefix = EventIndexSubscriptionPrefix(*q.SubscriptionID)
	case q.ChainID != nil:
		prefix = EventIndexChainPrefix(*q.ChainID)
	default:
		prefix = []byte(prefixIdxEventsAll)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: incrementPrefix(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	events := make([]*types.CollectedEvent, 0, limit)
	for iter.Last(); iter.Valid() && len(events) < limit; iter.Prev() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id, err := DecodeUint64(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}

		event, err := s.GetEvent(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load event %d: %w", id, err)
		}

		if q.ChainID != nil && event.ChainID != *q.ChainID {
			continue
		}
		events = append(events, event)
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return events, nil
}

// CountEvents returns the total number of stored events
func (s *PebbleStorage) CountEvents(ctx context.Context) (uint64, error) {
	if err := s.ensureNotClosed(); err != nil {
		return 0, err
	}
	return s.eventCount.Load(), nil
}
