package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/pkg/types"
)

// Default configuration values
const (
	DefaultPublishBufferSize    = 1000
	DefaultSubscriberBufferSize = 100
)

// SubscriptionID identifies a bus subscriber
type SubscriptionID string

// SubscriptionStats tracks statistics for a subscription
type SubscriptionStats struct {
	// EventsReceived is the total number of events received by this subscription
	EventsReceived atomic.Uint64

	// EventsDropped is the number of events dropped due to full channel
	EventsDropped atomic.Uint64

	// LastEventTime is the timestamp of the last event received
	LastEventTime atomic.Int64 // Unix timestamp in nanoseconds

	CreatedAt time.Time
}

// Subscription is a bus subscriber. Channel receives every published event
// and is closed on Unsubscribe or Stop.
type Subscription struct {
	ID      SubscriptionID
	Channel chan *types.CollectedEvent
	Stats   SubscriptionStats
}

// EventBus fans persisted events out to every subscriber.
// There is no per-subscriber filtering.
type EventBus struct {
	subscribers map[SubscriptionID]*Subscription
	mu          sync.RWMutex

	publishCh chan *types.CollectedEvent

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
	stopped sync.Once

	stats struct {
		totalEvents     atomic.Uint64
		totalDeliveries atomic.Uint64
		droppedEvents   atomic.Uint64
	}

	metrics *Metrics
	logger  *zap.Logger
}

// NewEventBus creates a new EventBus with the given publish buffer size
func NewEventBus(publishBufferSize int, logger *zap.Logger) *EventBus {
	if publishBufferSize <= 0 {
		publishBufferSize = DefaultPublishBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &EventBus{
		subscribers: make(map[SubscriptionID]*Subscription),
		publishCh:   make(chan *types.CollectedEvent, publishBufferSize),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		logger:      logger.Named("eventbus"),
	}
}

// SetMetrics enables Prometheus metrics for the EventBus
func (eb *EventBus) SetMetrics(metrics *Metrics) {
	eb.metrics = metrics
}

// Run starts the event bus main loop
// This should be called in a goroutine
func (eb *EventBus) Run() {
	if !eb.running.CompareAndSwap(false, true) {
		return
	}
	defer close(eb.done)

	for {
		select {
		case <-eb.ctx.Done():
			eb.closeAllSubscriptions()
			return

		case event := <-eb.publishCh:
			eb.stats.totalEvents.Add(1)
			if eb.metrics != nil {
				eb.metrics.EventsPublishedTotal.Inc()
				eb.metrics.PublishChannelSize.Set(float64(len(eb.publishCh)))
			}
			eb.broadcastEvent(event)
		}
	}
}

// broadcastEvent sends an event to every subscriber without blocking
func (eb *EventBus) broadcastEvent(event *types.CollectedEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, sub := range eb.subscribers {
		select {
		case sub.Channel <- event:
			eb.stats.totalDeliveries.Add(1)
			sub.Stats.EventsReceived.Add(1)
			sub.Stats.LastEventTime.Store(time.Now().UnixNano())
			if eb.metrics != nil {
				eb.metrics.EventsDeliveredTotal.Inc()
			}
		default:
			// Channel is full, drop the event
			eb.stats.droppedEvents.Add(1)
			sub.Stats.EventsDropped.Add(1)
			if eb.metrics != nil {
				eb.metrics.EventsDroppedTotal.Inc()
			}
		}
	}
}

// closeAllSubscriptions closes all active subscriptions
func (eb *EventBus) closeAllSubscriptions() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, sub := range eb.subscribers {
		close(sub.Channel)
	}
	eb.subscribers = make(map[SubscriptionID]*Subscription)

	if eb.metrics != nil {
		eb.metrics.SubscribersTotal.Set(0)
	}
}

// Stop gracefully stops the event bus and closes every subscriber channel.
// Safe to call more than once, and before Run.
func (eb *EventBus) Stop() {
	eb.stopped.Do(func() {
		eb.cancel()
		if eb.running.CompareAndSwap(false, true) {
			// Run never started
			eb.closeAllSubscriptions()
			close(eb.done)
		}
		<-eb.done
		eb.logger.Info("event bus stopped")
	})
}

// Publish enqueues an event for delivery.
// This is a non-blocking operation - if the publish channel is full, it returns false
func (eb *EventBus) Publish(event *types.CollectedEvent) bool {
	select {
	case <-eb.ctx.Done():
		return false
	default:
	}

	select {
	case eb.publishCh <- event:
		return true
	default:
		eb.logger.Warn("publish channel full, event dropped",
			zap.Uint64("event", event.ID))
		return false
	}
}

// Subscribe registers a subscriber. It returns nil once the bus is stopped.
// An existing subscriber with the same id is replaced and its channel closed.
func (eb *EventBus) Subscribe(id SubscriptionID, channelSize int) *Subscription {
	if channelSize <= 0 {
		channelSize = DefaultSubscriberBufferSize
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.ctx.Err() != nil {
		return nil
	}

	if old, ok := eb.subscribers[id]; ok {
		close(old.Channel)
	}

	sub := &Subscription{
		ID:      id,
		Channel: make(chan *types.CollectedEvent, channelSize),
		Stats: SubscriptionStats{
			CreatedAt: time.Now(),
		},
	}
	eb.subscribers[id] = sub

	if eb.metrics != nil {
		eb.metrics.SubscriptionsTotal.Inc()
		eb.metrics.SubscribersTotal.Set(float64(len(eb.subscribers)))
	}
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (eb *EventBus) Unsubscribe(id SubscriptionID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub, exists := eb.subscribers[id]
	if !exists {
		return
	}
	close(sub.Channel)
	delete(eb.subscribers, id)

	if eb.metrics != nil {
		eb.metrics.UnsubscriptionsTotal.Inc()
		eb.metrics.SubscribersTotal.Set(float64(len(eb.subscribers)))
	}
}

// SubscriberCount returns the current number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// Stats returns the current statistics
func (eb *EventBus) Stats() (totalEvents, totalDeliveries, droppedEvents uint64) {
	return eb.stats.totalEvents.Load(),
		eb.stats.totalDeliveries.Load(),
		eb.stats.droppedEvents.Load()
}

// Healthy returns true while the bus accepts events
func (eb *EventBus) Healthy() bool {
	return eb.ctx.Err() == nil
}

// SubscriberInfo contains information about a subscriber
type SubscriberInfo struct {
	ID             SubscriptionID `json:"id"`
	EventsReceived uint64         `json:"eventsReceived"`
	EventsDropped  uint64         `json:"eventsDropped"`
	LastEventTime  time.Time      `json:"lastEventTime"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// GetSubscriberInfo returns information about a specific subscriber
func (eb *EventBus) GetSubscriberInfo(id SubscriptionID) *SubscriberInfo {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	sub, exists := eb.subscribers[id]
	if !exists {
		return nil
	}
	return subscriberInfo(sub)
}

// GetAllSubscriberInfo returns information about all subscribers
func (eb *EventBus) GetAllSubscriberInfo() []SubscriberInfo {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	infos := make([]SubscriberInfo, 0, len(eb.subscribers))
	for _, sub := range eb.subscribers {
		infos = append(infos, *subscriberInfo(sub))
	}
	return infos
}

func subscriberInfo(sub *Subscription) *SubscriberInfo {
	var lastEventTime time.Time
	if nanos := sub.Stats.LastEventTime.Load(); nanos > 0 {
		lastEventTime = time.Unix(0, nanos)
	}

	return &SubscriberInfo{
		ID:             sub.ID,
		EventsReceived: sub.Stats.EventsReceived.Load(),
		EventsDropped:  sub.Stats.EventsDropped.Load(),
		LastEventTime:  lastEventTime,
		CreatedAt:      sub.Stats.CreatedAt,
	}
}
