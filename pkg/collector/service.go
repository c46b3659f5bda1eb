// Package collector is the boundary facade over the ingestion controller,
// the event store and the broadcast bus.
package collector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/pkg/eventbus"
	"github.com/0xmhha/event-collector/pkg/ingest"
	"github.com/0xmhha/event-collector/pkg/storage"
	"github.com/0xmhha/event-collector/pkg/types"
)

// DefaultFeedBuffer is the channel size of a live feed subscriber
const DefaultFeedBuffer = 256

// Counter counts registry records
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Controller is the part of the ingestion controller the facade drives
type Controller interface {
	Start(ctx context.Context, subscriptionID uint64) error
	Stop(subscriptionID uint64) bool
	Running() []ingest.RunnerInfo
}

// Service implements the collector's external operations
type Service struct {
	ctrl          Controller
	events        storage.EventReader
	chains        Counter
	subscriptions Counter
	bus           *eventbus.EventBus
	logger        *zap.Logger
}

// Config holds service dependencies
type Config struct {
	Controller    Controller
	Events        storage.EventReader
	Chains        Counter
	Subscriptions Counter
	Bus           *eventbus.EventBus
	Logger        *zap.Logger
}

// NewService creates a service
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		ctrl:          cfg.Controller,
		events:        cfg.Events,
		chains:        cfg.Chains,
		subscriptions: cfg.Subscriptions,
		bus:           cfg.Bus,
		logger:        logger.Named("collector"),
	}
}

// StartSubscription starts ingestion for a subscription.
// Errors match the ingest sentinels with errors.Is.
func (s *Service) StartSubscription(ctx context.Context, subscriptionID uint64) error {
	return s.ctrl.Start(ctx, subscriptionID)
}

// StopSubscription stops ingestion and reports whether the subscription was running
func (s *Service) StopSubscription(subscriptionID uint64) bool {
	return s.ctrl.Stop(subscriptionID)
}

// ListEvents returns persisted events, newest block first.
// A non-positive limit yields storage.DefaultEventLimit events.
func (s *Service) ListEvents(ctx context.Context, q storage.EventQuery) ([]*types.CollectedEvent, error) {
	events, err := s.events.FindEvents(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	if events == nil {
		events = []*types.CollectedEvent{}
	}
	return events, nil
}

// GetStats returns the event count, the active subscription count and the chain count
func (s *Service) GetStats(ctx context.Context) (*types.Stats, error) {
	total, err := s.events.CountEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	subs, err := s.subscriptions.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	chains, err := s.chains.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count chains: %w", err)
	}

	return &types.Stats{
		TotalEvents:        total,
		TotalSubscriptions: subs,
		TotalChains:        chains,
	}, nil
}

// Running returns the running subscriptions
func (s *Service) Running() []ingest.RunnerInfo {
	return s.ctrl.Running()
}

// Subscribe registers a live feed consumer. Every persisted event is
// delivered regardless of its subscription. Returns nil once the bus is stopped.
func (s *Service) Subscribe(id string, bufferSize int) *eventbus.Subscription {
	if bufferSize <= 0 {
		bufferSize = DefaultFeedBuffer
	}
	sub := s.bus.Subscribe(eventbus.SubscriptionID(id), bufferSize)
	if sub != nil {
		s.logger.Debug("feed subscriber added", zap.String("id", id))
	}
	return sub
}

// Unsubscribe removes a live feed consumer and closes its channel
func (s *Service) Unsubscribe(id string) {
	s.bus.Unsubscribe(eventbus.SubscriptionID(id))
}
