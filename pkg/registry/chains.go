package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/pkg/provider"
	"github.com/0xmhha/event-collector/pkg/storage"
	"github.com/0xmhha/event-collector/pkg/types"
)

// Common errors
var (
	// ErrInvalidChain is returned when a chain record is missing required fields
	ErrInvalidChain = errors.New("invalid chain")

	// ErrUnreachable is returned when a chain's RPC endpoint does not answer the probe
	ErrUnreachable = errors.New("chain rpc unreachable")
)

// Chains is the chain registry. Records live in a ChainStore and every
// chain that is looked up gets a provider in the shared pool.
type Chains struct {
	store  storage.ChainStore
	pool   *provider.Pool
	logger *zap.Logger
}

// NewChains creates a chain registry
func NewChains(store storage.ChainStore, pool *provider.Pool, logger *zap.Logger) *Chains {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chains{
		store:  store,
		pool:   pool,
		logger: logger.Named("chains"),
	}
}

// Register probes the chain's endpoint, then saves the chain and caches the
// probed provider under the assigned id.
func (c *Chains) Register(ctx context.Context, chain *types.Chain) (*types.Chain, error) {
	if chain == nil || strings.TrimSpace(chain.RPCEndpoint) == "" {
		return nil, fmt.Errorf("%w: rpc endpoint is required", ErrInvalidChain)
	}
	if strings.TrimSpace(chain.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidChain)
	}

	prov := c.pool.New(chain)
	head, err := prov.BlockNumber(ctx)
	if err != nil {
		prov.Close()
		c.logger.Error("chain probe failed",
			zap.String("name", chain.Name),
			zap.String("endpoint", chain.RPCEndpoint),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, chain.Name, err)
	}

	saved, err := c.store.SaveChain(ctx, chain)
	if err != nil {
		prov.Close()
		return nil, fmt.Errorf("failed to save chain: %w", err)
	}
	c.pool.Add(saved.ID, prov)

	c.logger.Info("chain registered",
		zap.Uint64("id", saved.ID),
		zap.String("name", saved.Name),
		zap.Uint64("chainId", saved.ChainID),
		zap.Uint64("head", head))

	return saved, nil
}

// FindAll returns every chain, materialising providers for those not yet pooled
func (c *Chains) FindAll(ctx context.Context) ([]*types.Chain, error) {
	chains, err := c.store.ListChains(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chains: %w", err)
	}
	for _, chain := range chains {
		c.pool.GetOrCreate(chain)
	}
	return chains, nil
}

// FindOne returns a chain by id and materialises its provider.
// A missing chain wraps storage.ErrNotFound.
func (c *Chains) FindOne(ctx context.Context, id uint64) (*types.Chain, error) {
	chain, err := c.store.GetChain(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("chain %d: %w", id, err)
	}
	c.pool.GetOrCreate(chain)
	return chain, nil
}

// Remove deletes a chain and closes its provider. It reports whether the chain existed.
func (c *Chains) Remove(ctx context.Context, id uint64) (bool, error) {
	err := c.store.DeleteChain(ctx, id)
	c.pool.Remove(id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete chain %d: %w", id, err)
	}

	c.logger.Info("chain removed", zap.Uint64("id", id))
	return true, nil
}

// GetProvider returns the pooled provider for a chain, if materialised
func (c *Chains) GetProvider(chainID uint64) (provider.Provider, bool) {
	return c.pool.Get(chainID)
}

// BlockNumber returns the current head of a chain, materialising its provider if needed
func (c *Chains) BlockNumber(ctx context.Context, id uint64) (uint64, error) {
	prov, ok := c.GetProvider(id)
	if !ok {
		if _, err := c.FindOne(ctx, id); err != nil {
			return 0, err
		}
		if prov, ok = c.GetProvider(id); !ok {
			return 0, fmt.Errorf("no provider for chain %d", id)
		}
	}
	return prov.BlockNumber(ctx)
}

// Count returns the number of registered chains without materialising providers
func (c *Chains) Count(ctx context.Context) (int, error) {
	chains, err := c.store.ListChains(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list chains: %w", err)
	}
	return len(chains), nil
}
