package provider

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/pkg/client"
	"github.com/0xmhha/event-collector/pkg/types"
)

// Provider is the per-chain RPC handle used by the ingestion engine
type Provider interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error)
	Close()
}

// Factory builds a provider for a chain. It must not perform network calls.
type Factory func(chain *types.Chain) Provider

// Pool caches one provider per registry chain id
type Pool struct {
	providers map[uint64]Provider
	mu        sync.RWMutex
	factory   Factory
	logger    *zap.Logger
}

// NewPool creates a pool. A nil factory builds lazily-dialing RPC clients.
func NewPool(factory Factory, timeout time.Duration, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("provider")

	if factory == nil {
		factory = ClientFactory(timeout, logger)
	}

	return &Pool{
		providers: make(map[uint64]Provider),
		factory:   factory,
		logger:    logger,
	}
}

// ClientFactory returns a Factory backed by client.NewClient
func ClientFactory(timeout time.Duration, logger *zap.Logger) Factory {
	return func(chain *types.Chain) Provider {
		return client.NewClient(&client.Config{
			Endpoint: chain.RPCEndpoint,
			Timeout:  timeout,
			Logger:   logger.With(zap.Uint64("chain", chain.ID)),
		})
	}
}

// GetOrCreate returns the cached provider for chain.ID, creating it if absent
func (p *Pool) GetOrCreate(chain *types.Chain) Provider {
	p.mu.RLock()
	prov, ok := p.providers[chain.ID]
	p.mu.RUnlock()
	if ok {
		return prov
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if prov, ok := p.providers[chain.ID]; ok {
		return prov
	}

	prov = p.factory(chain)
	p.providers[chain.ID] = prov

	p.logger.Info("provider created",
		zap.Uint64("chain", chain.ID),
		zap.String("name", chain.Name),
		zap.String("endpoint", chain.RPCEndpoint))

	return prov
}

// New builds a provider for chain without caching it
func (p *Pool) New(chain *types.Chain) Provider {
	return p.factory(chain)
}

// Add caches prov under chainID. If a provider is already cached, prov is
// closed and the cached one is returned.
func (p *Pool) Add(chainID uint64, prov Provider) Provider {
	p.mu.Lock()
	existing, ok := p.providers[chainID]
	if !ok {
		p.providers[chainID] = prov
	}
	p.mu.Unlock()

	if ok {
		prov.Close()
		return existing
	}
	return prov
}

// Get returns the cached provider without creating one
func (p *Pool) Get(chainID uint64) (Provider, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	prov, ok := p.providers[chainID]
	return prov, ok
}

// Remove closes and forgets the provider for chainID
func (p *Pool) Remove(chainID uint64) bool {
	p.mu.Lock()
	prov, ok := p.providers[chainID]
	delete(p.providers, chainID)
	p.mu.Unlock()

	if ok {
		prov.Close()
	}
	return ok
}

// Len returns the number of cached providers
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.providers)
}

// Close closes all providers and empties the pool
func (p *Pool) Close() {
	p.mu.Lock()
	providers := p.providers
	p.providers = make(map[uint64]Provider)
	p.mu.Unlock()

	for _, prov := range providers {
		prov.Close()
	}
}
