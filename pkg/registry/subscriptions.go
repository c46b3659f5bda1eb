package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/pkg/storage"
	"github.com/0xmhha/event-collector/pkg/types"
)

// ErrInvalidSubscription is returned when a subscription record is missing required fields
var ErrInvalidSubscription = errors.New("invalid subscription")

// Subscriptions is the subscription registry backed by a SubscriptionStore
type Subscriptions struct {
	store  storage.SubscriptionStore
	logger *zap.Logger
}

// NewSubscriptions creates a subscription registry
func NewSubscriptions(store storage.SubscriptionStore, logger *zap.Logger) *Subscriptions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriptions{
		store:  store,
		logger: logger.Named("subscriptions"),
	}
}

// Create validates and saves a new subscription. New subscriptions are always active.
func (s *Subscriptions) Create(ctx context.Context, sub *types.Subscription) (*types.Subscription, error) {
	if err := validateSubscription(sub); err != nil {
		return nil, err
	}

	record := *sub
	record.ID = 0
	record.IsActive = true

	saved, err := s.store.SaveSubscription(ctx, &record)
	if err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}

	s.logger.Info("subscription created",
		zap.Uint64("id", saved.ID),
		zap.Uint64("chain", saved.ChainID),
		zap.String("contract", saved.ContractAddress),
		zap.String("event", saved.EventName))
	return saved, nil
}

func validateSubscription(sub *types.Subscription) error {
	switch {
	case sub == nil:
		return fmt.Errorf("%w: nil subscription", ErrInvalidSubscription)
	case sub.ChainID == 0:
		return fmt.Errorf("%w: chain id is required", ErrInvalidSubscription)
	case !common.IsHexAddress(sub.ContractAddress):
		return fmt.Errorf("%w: contract address %q is not a hex address", ErrInvalidSubscription, sub.ContractAddress)
	case strings.TrimSpace(sub.EventName) == "":
		return fmt.Errorf("%w: event name is required", ErrInvalidSubscription)
	case len(sub.ABI) == 0 || !json.Valid(sub.ABI):
		return fmt.Errorf("%w: abi must be a JSON document", ErrInvalidSubscription)
	}
	return nil
}

// FindAll returns active subscriptions ordered by id
func (s *Subscriptions) FindAll(ctx context.Context) ([]*types.Subscription, error) {
	return s.find(ctx, func(sub *types.Subscription) bool { return sub.IsActive })
}

// FindByChain returns active subscriptions of one chain ordered by id
func (s *Subscriptions) FindByChain(ctx context.Context, chainID uint64) ([]*types.Subscription, error) {
	return s.find(ctx, func(sub *types.Subscription) bool {
		return sub.IsActive && sub.ChainID == chainID
	})
}

func (s *Subscriptions) find(ctx context.Context, keep func(*types.Subscription) bool) ([]*types.Subscription, error) {
	all, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	out := make([]*types.Subscription, 0, len(all))
	for _, sub := range all {
		if keep(sub) {
			out = append(out, sub)
		}
	}
	return out, nil
}

// FindOne returns a subscription by id regardless of its active flag.
// A missing subscription wraps storage.ErrNotFound.
func (s *Subscriptions) FindOne(ctx context.Context, id uint64) (*types.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("subscription %d: %w", id, err)
	}
	return sub, nil
}

// Deactivate clears the active flag. It reports whether the subscription exists.
func (s *Subscriptions) Deactivate(ctx context.Context, id uint64) (bool, error) {
	return s.setActive(ctx, id, false)
}

// Activate sets the active flag. It reports whether the subscription exists.
func (s *Subscriptions) Activate(ctx context.Context, id uint64) (bool, error) {
	return s.setActive(ctx, id, true)
}

func (s *Subscriptions) setActive(ctx context.Context, id uint64, active bool) (bool, error) {
	sub, err := s.store.GetSubscription(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("subscription %d: %w", id, err)
	}

	if sub.IsActive == active {
		return true, nil
	}
	sub.IsActive = active
	if _, err := s.store.SaveSubscription(ctx, sub); err != nil {
		return false, fmt.Errorf("failed to update subscription %d: %w", id, err)
	}

	s.logger.Info("subscription updated",
		zap.Uint64("id", id),
		zap.Bool("active", active))
	return true, nil
}

// Count returns the number of active subscriptions
func (s *Subscriptions) Count(ctx context.Context) (int, error) {
	subs, err := s.FindAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(subs), nil
}
