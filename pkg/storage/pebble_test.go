package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/event-collector/pkg/types"
)

// setupTestStorage creates a temporary PebbleDB storage for testing
func setupTestStorage(t *testing.T) *PebbleStorage {
	t.Helper()

	storage, err := NewPebbleStorage(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	return storage
}

func u64(v uint64) *uint64 { return &v }

func testEvent(subID, chainID, block uint64, tx string, logIndex uint) *types.CollectedEvent {
	return &types.CollectedEvent{
		SubscriptionID:  subID,
		ChainID:         chainID,
		ContractAddress: "0x00000000000000000000000000000000000000aA",
		EventName:       "Transfer",
		BlockNumber:     block,
		TransactionHash: tx,
		LogIndex:        logIndex,
		Data:            map[string]string{"value": "1"},
	}
}

func txHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"default", DefaultConfig("/tmp/x"), false},
		{"empty path", &Config{}, true},
		{"negative cache", &Config{Path: "/tmp/x", Cache: -1}, true},
		{"negative files", &Config{Path: "/tmp/x", MaxOpenFiles: -1}, true},
		{"negative buffer", &Config{Path: "/tmp/x", WriteBuffer: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewPebbleStorage_NilConfig(t *testing.T) {
	_, err := NewPebbleStorage(nil)
	assert.Error(t, err)
}

func TestSaveEvent_AssignsIDAndCreatedAt(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	input := testEvent(1, 1, 10, txHash(1), 0)
	saved, err := s.SaveEvent(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())
	assert.Zero(t, input.ID, "input must not be mutated")

	got, err := s.GetEvent(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.TransactionHash, got.TransactionHash)
	assert.Equal(t, saved.Data, got.Data)
	assert.True(t, saved.CreatedAt.Equal(got.CreatedAt))

	second, err := s.SaveEvent(ctx, testEvent(1, 1, 11, txHash(2), 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.ID)
}

func TestSaveEvent_RejectsIncomplete(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	_, err := s.SaveEvent(ctx, testEvent(1, 1, 10, "", 0))
	assert.ErrorIs(t, err, ErrInvalidData)

	_, err = s.SaveEvent(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidData)

	count, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSaveEvent_Duplicate(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	_, err := s.SaveEvent(ctx, testEvent(1, 1, 10, txHash(1), 2))
	require.NoError(t, err)

	_, err = s.SaveEvent(ctx, testEvent(1, 1, 10, txHash(1), 2))
	assert.ErrorIs(t, err, ErrDuplicate)

	// Hash case does not matter
	upper := testEvent(1, 1, 10, "0x"+fmt.Sprintf("%064X", 1), 2)
	_, err = s.SaveEvent(ctx, upper)
	assert.ErrorIs(t, err, ErrDuplicate)

	// Different log index or subscription is a distinct occurrence
	_, err = s.SaveEvent(ctx, testEvent(1, 1, 10, txHash(1), 3))
	assert.NoError(t, err)
	_, err = s.SaveEvent(ctx, testEvent(2, 1, 10, txHash(1), 2))
	assert.NoError(t, err)

	count, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}

func TestSaveEvent_ConcurrentDuplicates(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	saved := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.SaveEvent(ctx, testEvent(1, 1, 5, txHash(9), 0)); err == nil {
				mu.Lock()
				saved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, saved)
}

func TestFindEvents_Ordering(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	blocks := []uint64{5, 9, 7, 9, 1}
	for i, b := range blocks {
		_, err := s.SaveEvent(ctx, testEvent(1, 1, b, txHash(i), 0))
		require.NoError(t, err)
	}

	events, err := s.FindEvents(ctx, EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 5)

	gotBlocks := make([]uint64, len(events))
	for i, e := range events {
		gotBlocks[i] = e.BlockNumber
	}
	assert.Equal(t, []uint64{9, 9, 7, 5, 1}, gotBlocks)

	// Within block 9 the later insert comes first
	assert.Equal(t, txHash(3), events[0].TransactionHash)
	assert.Equal(t, txHash(1), events[1].TransactionHash)
	assert.False(t, events[0].CreatedAt.Before(events[1].CreatedAt))
}

func TestFindEvents_DefaultLimit(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		_, err := s.SaveEvent(ctx, testEvent(1, 1, uint64(i), txHash(i), 0))
		require.NoError(t, err)
	}

	events, err := s.FindEvents(ctx, EventQuery{})
	require.NoError(t, err)
	assert.Len(t, events, DefaultEventLimit)
	assert.Equal(t, uint64(149), events[0].BlockNumber)

	events, err = s.FindEvents(ctx, EventQuery{Limit: -5})
	require.NoError(t, err)
	assert.Len(t, events, DefaultEventLimit)

	events, err = s.FindEvents(ctx, EventQuery{Limit: 7})
	require.NoError(t, err)
	assert.Len(t, events, 7)
}

func TestFindEvents_Filters(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	inputs := []*types.CollectedEvent{
		testEvent(1, 10, 100, txHash(1), 0),
		testEvent(1, 10, 101, txHash(2), 0),
		testEvent(2, 10, 102, txHash(3), 0),
		testEvent(3, 20, 103, txHash(4), 0),
	}
	for _, e := range inputs {
		_, err := s.SaveEvent(ctx, e)
		require.NoError(t, err)
	}

	bySub, err := s.FindEvents(ctx, EventQuery{SubscriptionID: u64(1)})
	require.NoError(t, err)
	require.Len(t, bySub, 2)
	assert.Equal(t, uint64(101), bySub[0].BlockNumber)

	byChain, err := s.FindEvents(ctx, EventQuery{ChainID: u64(10)})
	require.NoError(t, err)
	assert.Len(t, byChain, 3)

	both, err := s.FindEvents(ctx, EventQuery{SubscriptionID: u64(3), ChainID: u64(10)})
	require.NoError(t, err)
	assert.Empty(t, both)

	none, err := s.FindEvents(ctx, EventQuery{SubscriptionID: u64(99)})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCountEvents_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewPebbleStorage(DefaultConfig(dir))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.SaveEvent(ctx, testEvent(1, 1, 1, txHash(i), 0))
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	s, err = NewPebbleStorage(DefaultConfig(dir))
	require.NoError(t, err)
	defer s.Close()

	count, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	next, err := s.SaveEvent(ctx, testEvent(1, 1, 1, txHash(3), 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next.ID)
}

func TestClosedStorage(t *testing.T) {
	s, err := NewPebbleStorage(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	ctx := context.Background()
	_, err = s.SaveEvent(ctx, testEvent(1, 1, 1, txHash(1), 0))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.FindEvents(ctx, EventQuery{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.CountEvents(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestChains(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	a, err := s.SaveChain(ctx, &types.Chain{Name: "local", RPCEndpoint: "http://localhost:8545", ChainID: 1337})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a.ID)
	assert.False(t, a.CreatedAt.IsZero())

	b, err := s.SaveChain(ctx, &types.Chain{Name: "other", RPCEndpoint: "ws://localhost:8546", ChainID: 1337})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), b.ID)

	got, err := s.GetChain(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "local", got.Name)

	chains, err := s.ListChains(ctx)
	require.NoError(t, err)
	require.Len(t, chains, 2)
	assert.Equal(t, uint64(1), chains[0].ID)
	assert.Equal(t, uint64(2), chains[1].ID)

	require.NoError(t, s.DeleteChain(ctx, 1))
	_, err = s.GetChain(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteChain(ctx, 1), ErrNotFound)
}

func TestChains_ExplicitIDAdvancesSequence(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	_, err := s.SaveChain(ctx, &types.Chain{ID: 5, Name: "five"})
	require.NoError(t, err)

	next, err := s.SaveChain(ctx, &types.Chain{Name: "next"})
	require.NoError(t, err)
	assert.Equal(t, uint64(6), next.ID)
}

func TestSubscriptions(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	from := uint64(50)
	sub, err := s.SaveSubscription(ctx, &types.Subscription{
		ChainID:         1,
		ContractAddress: "0x00000000000000000000000000000000000000aA",
		EventName:       "Transfer",
		ABI:             json.RawMessage(`[{"type":"event","name":"Transfer","inputs":[]}]`),
		FromBlock:       &from,
		IsActive:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sub.ID)
	assert.False(t, sub.UpdatedAt.IsZero())

	created := sub.CreatedAt
	sub.IsActive = false
	updated, err := s.SaveSubscription(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), updated.ID)
	assert.True(t, created.Equal(updated.CreatedAt))

	got, err := s.GetSubscription(ctx, 1)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.FromBlock)
	assert.Equal(t, uint64(50), *got.FromBlock)
	assert.JSONEq(t, `[{"type":"event","name":"Transfer","inputs":[]}]`, string(got.ABI))

	subs, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	_, err = s.GetSubscription(ctx, 42)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReadOnlyStorage(t *testing.T) {
	dir := t.TempDir()

	rw, err := NewPebbleStorage(DefaultConfig(dir))
	require.NoError(t, err)
	_, err = rw.SaveChain(context.Background(), &types.Chain{Name: "a"})
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	cfg := DefaultConfig(dir)
	cfg.ReadOnly = true
	ro, err := NewPebbleStorage(cfg)
	require.NoError(t, err)
	defer ro.Close()

	_, err = ro.SaveChain(context.Background(), &types.Chain{Name: "b"})
	assert.ErrorIs(t, err, ErrReadOnly)

	chains, err := ro.ListChains(context.Background())
	require.NoError(t, err)
	assert.Len(t, chains, 1)
}

func TestIncrementPrefix(t *testing.T) {
	assert.Equal(t, []byte("/data/eventt"), incrementPrefix([]byte("/data/events")))
	assert.Equal(t, []byte{0x02}, incrementPrefix([]byte{0x01, 0xff}))
	assert.Nil(t, incrementPrefix([]byte{0xff}))
	assert.Nil(t, incrementPrefix(nil))
}
