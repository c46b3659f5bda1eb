package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/internal/config"
	"github.com/0xmhha/event-collector/internal/logger"
	"github.com/0xmhha/event-collector/pkg/ingest"
	"github.com/0xmhha/event-collector/pkg/types"
)

type chainSeeder interface {
	FindAll(ctx context.Context) ([]*types.Chain, error)
	Register(ctx context.Context, chain *types.Chain) (*types.Chain, error)
}

type subscriptionSeeder interface {
	Create(ctx context.Context, sub *types.Subscription) (*types.Subscription, error)
}

type subscriptionLister interface {
	ListSubscriptions(ctx context.Context) ([]*types.Subscription, error)
}

type subscriptionStarter interface {
	Start(ctx context.Context, subscriptionID uint64) error
}

type subscriptionRecoverer interface {
	Recover(ctx context.Context) int
}

// startup restarts persisted active subscriptions unless skipped, then seeds
// from configuration. Recovery runs first so seeded starts find running tasks.
func startup(ctx context.Context, cfg *config.Config, rec subscriptionRecoverer, seeder *bootstrapper) error {
	if !cfg.Ingest.SkipRecover {
		rec.Recover(ctx)
	}
	if _, err := seeder.run(ctx, cfg.Bootstrap); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	return nil
}

// bootstrapper seeds chains and subscriptions from configuration.
// Seeding is idempotent: chains match by name and subscriptions by
// chain, lowercase contract address and event name.
type bootstrapper struct {
	chains   chainSeeder
	subs     subscriptionSeeder
	existing subscriptionLister
	starter  subscriptionStarter
	// baseDir resolves relative abi_file paths
	baseDir string
}

// seedResult counts what a bootstrap run did
type seedResult struct {
	ChainsRegistered     int
	SubscriptionsCreated int
	SubscriptionsStarted int
}

func (b *bootstrapper) run(ctx context.Context, seeds config.BootstrapConfig) (seedResult, error) {
	var result seedResult
	log := logger.WithComponent(logger.FromContext(ctx), "bootstrap")

	chains, err := b.chains.FindAll(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list chains: %w", err)
	}
	byName := make(map[string]*types.Chain, len(chains))
	for _, chain := range chains {
		byName[chain.Name] = chain
	}

	for _, seed := range seeds.Chains {
		if _, ok := byName[seed.Name]; ok {
			continue
		}
		chain, err := b.chains.Register(ctx, &types.Chain{
			Name:        seed.Name,
			RPCEndpoint: seed.RPCEndpoint,
			ChainID:     seed.ChainID,
		})
		if err != nil {
			// An unreachable chain must not block the rest of the seeds
			log.Warn("failed to register chain", zap.String("name", seed.Name), zap.Error(err))
			continue
		}
		byName[chain.Name] = chain
		result.ChainsRegistered++
	}

	existing, err := b.existing.ListSubscriptions(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	for i, seed := range seeds.Subscriptions {
		chain, ok := byName[seed.Chain]
		if !ok {
			log.Warn("subscription references unknown chain",
				zap.Int("index", i), zap.String("chain", seed.Chain))
			continue
		}

		sub := findSubscription(existing, chain.ID, seed.ContractAddress, seed.EventName)
		if sub == nil {
			abiJSON, err := b.loadABI(seed)
			if err != nil {
				return result, fmt.Errorf("subscription %d: %w", i, err)
			}

			record := &types.Subscription{
				ChainID:         chain.ID,
				ContractAddress: seed.ContractAddress,
				EventName:       seed.EventName,
				ABI:             abiJSON,
				FromBlock:       seed.FromBlock,
			}
			if seed.Description != "" {
				desc := seed.Description
				record.Description = &desc
			}

			sub, err = b.subs.Create(ctx, record)
			if err != nil {
				return result, fmt.Errorf("subscription %d: %w", i, err)
			}
			existing = append(existing, sub)
			result.SubscriptionsCreated++
		}

		if !seed.Start || !sub.IsActive {
			continue
		}
		if err := b.starter.Start(ctx, sub.ID); err != nil {
			if errors.Is(err, ingest.ErrAlreadyRunning) {
				continue
			}
			logger.WithSubscription(log, sub.ID, sub.ChainID).Warn("failed to start seeded subscription", zap.Error(err))
			continue
		}
		result.SubscriptionsStarted++
	}

	log.Info("bootstrap complete",
		zap.Int("chains_registered", result.ChainsRegistered),
		zap.Int("subscriptions_created", result.SubscriptionsCreated),
		zap.Int("subscriptions_started", result.SubscriptionsStarted))
	return result, nil
}

func (b *bootstrapper) loadABI(seed config.SubscriptionSeed) (json.RawMessage, error) {
	if seed.ABI != "" {
		return json.RawMessage(seed.ABI), nil
	}

	path := seed.ABIFile
	if !filepath.IsAbs(path) && b.baseDir != "" {
		path = filepath.Join(b.baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read abi file: %w", err)
	}
	return json.RawMessage(data), nil
}

func findSubscription(subs []*types.Subscription, chainID uint64, address, eventName string) *types.Subscription {
	for _, sub := range subs {
		if sub.ChainID == chainID &&
			strings.EqualFold(sub.ContractAddress, address) &&
			sub.EventName == eventName {
			return sub
		}
	}
	return nil
}
