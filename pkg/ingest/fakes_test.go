package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/pkg/provider"
	"github.com/0xmhha/event-collector/pkg/storage"
	"github.com/0xmhha/event-collector/pkg/types"
)

const erc20ABI = `[{"anonymous":false,"inputs":[
	{"indexed":true,"name":"from","type":"address"},
	{"indexed":true,"name":"to","type":"address"},
	{"indexed":false,"name":"value","type":"uint256"}
],"name":"Transfer","type":"event"}]`

const approvalOnlyABI = `[{"anonymous":false,"inputs":[
	{"indexed":true,"name":"owner","type":"address"},
	{"indexed":true,"name":"spender","type":"address"},
	{"indexed":false,"name":"value","type":"uint256"}
],"name":"Approval","type":"event"}]`

const tokenAddr = "0x00000000000000000000000000000000000000aA"

var (
	transferSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	alice       = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob         = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// ---- Fake provider ----

type fakeSub struct {
	errCh        chan error
	mu           sync.Mutex
	unsubscribed bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{errCh: make(chan error, 1)}
}

func (s *fakeSub) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
}

func (s *fakeSub) Err() <-chan error { return s.errCh }

func (s *fakeSub) isUnsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

type fakeProvider struct {
	mu sync.Mutex

	head      uint64
	headErr   error
	filterErr error
	subErr    error
	logs      []ethtypes.Log

	// subscribing, when set, is closed on the first subscribe call,
	// which then blocks until its context is done
	subscribing chan struct{}

	filterCalls []ethereum.FilterQuery
	subs        []*fakeSub
	feeds       []chan<- ethtypes.Log
	closed      bool
}

func (p *fakeProvider) BlockNumber(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.headErr != nil {
		return 0, p.headErr
	}
	return p.head, nil
}

func (p *fakeProvider) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filterCalls = append(p.filterCalls, q)
	if p.filterErr != nil {
		return nil, p.filterErr
	}

	var out []ethtypes.Log
	for _, l := range p.logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (p *fakeProvider) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error) {
	p.mu.Lock()
	if entered := p.subscribing; entered != nil {
		p.subscribing = nil
		p.mu.Unlock()
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer p.mu.Unlock()
	if p.subErr != nil {
		return nil, p.subErr
	}
	sub := newFakeSub()
	p.subs = append(p.subs, sub)
	p.feeds = append(p.feeds, ch)
	return sub, nil
}

func (p *fakeProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakeProvider) setHead(n uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.head = n
}

func (p *fakeProvider) setFilterErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filterErr = err
}

func (p *fakeProvider) addLogs(logs ...ethtypes.Log) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logs = append(p.logs, logs...)
}

func (p *fakeProvider) filters() []ethereum.FilterQuery {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ethereum.FilterQuery(nil), p.filterCalls...)
}

func (p *fakeProvider) subCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *fakeProvider) lastSub() *fakeSub {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subs[len(p.subs)-1]
}

// deliver pushes a log into the most recent live subscription
func (p *fakeProvider) deliver(l ethtypes.Log) {
	p.mu.Lock()
	feed := p.feeds[len(p.feeds)-1]
	p.mu.Unlock()
	feed <- l
}

// ---- Fake registries ----

type fakeChains struct {
	mu        sync.Mutex
	providers map[uint64]provider.Provider
	known     map[uint64]provider.Provider
}

func newFakeChains() *fakeChains {
	return &fakeChains{
		providers: make(map[uint64]provider.Provider),
		known:     make(map[uint64]provider.Provider),
	}
}

// register makes a chain known to FindOne without materialising its provider
func (f *fakeChains) register(id uint64, p provider.Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known[id] = p
}

func (f *fakeChains) GetProvider(chainID uint64) (provider.Provider, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.providers[chainID]
	return p, ok
}

func (f *fakeChains) FindOne(ctx context.Context, id uint64) (*types.Chain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.known[id]
	if !ok {
		return nil, fmt.Errorf("chain %d: %w", id, storage.ErrNotFound)
	}
	f.providers[id] = p
	return &types.Chain{ID: id}, nil
}

type fakeSubs struct {
	mu   sync.Mutex
	subs map[uint64]*types.Subscription
	err  error
}

func newFakeSubs(subs ...*types.Subscription) *fakeSubs {
	f := &fakeSubs{subs: make(map[uint64]*types.Subscription)}
	for _, s := range subs {
		f.subs[s.ID] = s
	}
	return f
}

func (f *fakeSubs) FindAll(ctx context.Context) ([]*types.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*types.Subscription
	for id := uint64(1); id <= uint64(len(f.subs))+10; id++ {
		if s, ok := f.subs[id]; ok && s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSubs) FindOne(ctx context.Context, id uint64) (*types.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %d: %w", id, storage.ErrNotFound)
	}
	return s, nil
}

// ---- Recording publisher ----

type recordingPublisher struct {
	mu     sync.Mutex
	events []*types.CollectedEvent
}

func (p *recordingPublisher) Publish(e *types.CollectedEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return true
}

func (p *recordingPublisher) published() []*types.CollectedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*types.CollectedEvent(nil), p.events...)
}

// ---- Harness ----

type harness struct {
	ctrl   *Controller
	prov   *fakeProvider
	chains *fakeChains
	subs   *fakeSubs
	store  *storage.PebbleStorage
	pub    *recordingPublisher
}

func testConfig() *Config {
	return &Config{
		PollInterval:     20 * time.Millisecond,
		BackfillBlocks:   1000,
		PollLookback:     100,
		LogBuffer:        16,
		ResubscribeDelay: 10 * time.Millisecond,
	}
}

func newHarness(t *testing.T, prov *fakeProvider, subs ...*types.Subscription) *harness {
	t.Helper()
	return newHarnessWithConfig(t, testConfig(), prov, subs...)
}

func newHarnessWithConfig(t *testing.T, cfg *Config, prov *fakeProvider, subs ...*types.Subscription) *harness {
	t.Helper()

	store, err := storage.NewPebbleStorage(storage.DefaultConfig(t.TempDir()))
	require.NoError(t, err)

	chains := newFakeChains()
	chains.register(1, prov)

	h := &harness{
		prov:   prov,
		chains: chains,
		subs:   newFakeSubs(subs...),
		store:  store,
		pub:    &recordingPublisher{},
	}
	h.ctrl = NewController(Options{
		Config:        cfg,
		Chains:        h.chains,
		Subscriptions: h.subs,
		Store:         h.store,
		Publisher:     h.pub,
		Logger:        zap.NewNop(),
	})

	t.Cleanup(func() {
		h.ctrl.Shutdown()
		store.Close()
	})
	return h
}

func (h *harness) stored(t *testing.T) []*types.CollectedEvent {
	t.Helper()
	events, err := h.store.FindEvents(context.Background(), storage.EventQuery{})
	require.NoError(t, err)
	return events
}

func transferSubscription(id uint64, fromBlock *uint64) *types.Subscription {
	return &types.Subscription{
		ID:              id,
		ChainID:         1,
		ContractAddress: tokenAddr,
		EventName:       "Transfer",
		ABI:             json.RawMessage(erc20ABI),
		FromBlock:       fromBlock,
		IsActive:        true,
	}
}

func u64(v uint64) *uint64 { return &v }

func txHashN(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(0xbeef0000 + n))
}

func transferLog(block uint64, txN uint64, index uint, value int64) ethtypes.Log {
	return ethtypes.Log{
		Address: common.HexToAddress(tokenAddr),
		Topics: []common.Hash{
			transferSig,
			common.BytesToHash(alice.Bytes()),
			common.BytesToHash(bob.Bytes()),
		},
		Data:        common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
		BlockNumber: block,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block + 1)),
		TxHash:      txHashN(txN),
		Index:       index,
	}
}

var errBoom = errors.New("boom")
