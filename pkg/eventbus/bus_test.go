package eventbus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/pkg/types"
)

func newRunningBus(t *testing.T) *EventBus {
	t.Helper()
	eb := NewEventBus(16, zap.NewNop())
	go eb.Run()
	t.Cleanup(eb.Stop)
	return eb
}

func receive(t *testing.T, sub *Subscription) *types.CollectedEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Channel:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func TestEventBus_PublishSubscribe(t *testing.T) {
	eb := newRunningBus(t)

	sub := eb.Subscribe("a", 10)
	require.NotNil(t, sub)
	assert.Equal(t, 1, eb.SubscriberCount())

	event := &types.CollectedEvent{ID: 1, SubscriptionID: 3, BlockNumber: 100}
	assert.True(t, eb.Publish(event))

	got := receive(t, sub)
	assert.Same(t, event, got)
}

func TestEventBus_NoFiltering(t *testing.T) {
	eb := newRunningBus(t)

	a := eb.Subscribe("a", 10)
	b := eb.Subscribe("b", 10)

	// Events of unrelated subscriptions and chains reach every subscriber
	first := &types.CollectedEvent{ID: 1, SubscriptionID: 1, ChainID: 1}
	second := &types.CollectedEvent{ID: 2, SubscriptionID: 2, ChainID: 2}
	require.True(t, eb.Publish(first))
	require.True(t, eb.Publish(second))

	for _, sub := range []*Subscription{a, b} {
		assert.Equal(t, uint64(1), receive(t, sub).ID)
		assert.Equal(t, uint64(2), receive(t, sub).ID)
	}
}

func TestEventBus_FullSubscriberDrops(t *testing.T) {
	eb := newRunningBus(t)

	slow := eb.Subscribe("slow", 1)
	require.True(t, eb.Publish(&types.CollectedEvent{ID: 1}))
	require.True(t, eb.Publish(&types.CollectedEvent{ID: 2}))

	require.Eventually(t, func() bool {
		_, delivered, dropped := eb.Stats()
		return delivered+dropped == 2
	}, time.Second, 5*time.Millisecond)

	total, delivered, dropped := eb.Stats()
	assert.Equal(t, uint64(2), total)
	assert.Equal(t, uint64(1), delivered)
	assert.Equal(t, uint64(1), dropped)

	info := eb.GetSubscriberInfo("slow")
	require.NotNil(t, info)
	assert.Equal(t, uint64(1), info.EventsReceived)
	assert.Equal(t, uint64(1), info.EventsDropped)

	assert.Equal(t, uint64(1), receive(t, slow).ID)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	eb := newRunningBus(t)

	sub := eb.Subscribe("a", 1)
	eb.Unsubscribe("a")
	eb.Unsubscribe("a")

	_, ok := <-sub.Channel
	assert.False(t, ok)
	assert.Equal(t, 0, eb.SubscriberCount())
	assert.Nil(t, eb.GetSubscriberInfo("a"))
}

func TestEventBus_ResubscribeReplaces(t *testing.T) {
	eb := newRunningBus(t)

	old := eb.Subscribe("a", 1)
	fresh := eb.Subscribe("a", 1)

	_, ok := <-old.Channel
	assert.False(t, ok)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, 1, eb.SubscriberCount())
}

func TestEventBus_StopClosesSubscribers(t *testing.T) {
	eb := NewEventBus(4, nil)
	go eb.Run()

	sub := eb.Subscribe("a", 1)
	eb.Stop()
	eb.Stop()

	_, ok := <-sub.Channel
	assert.False(t, ok)
	assert.False(t, eb.Healthy())
	assert.False(t, eb.Publish(&types.CollectedEvent{ID: 1}))
	assert.Nil(t, eb.Subscribe("b", 1))
}

func TestEventBus_StopWithoutRun(t *testing.T) {
	eb := NewEventBus(4, nil)
	sub := eb.Subscribe("a", 1)

	done := make(chan struct{})
	go func() {
		eb.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without Run")
	}

	_, ok := <-sub.Channel
	assert.False(t, ok)
}

func TestEventBus_PublishFull(t *testing.T) {
	eb := NewEventBus(1, nil)
	defer eb.Stop()

	assert.True(t, eb.Publish(&types.CollectedEvent{ID: 1}))
	assert.False(t, eb.Publish(&types.CollectedEvent{ID: 2}))
}

func TestEventBus_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	eb := NewEventBus(4, nil)
	eb.SetMetrics(m)
	go eb.Run()
	defer eb.Stop()

	sub := eb.Subscribe("a", 4)
	require.True(t, eb.Publish(&types.CollectedEvent{ID: 1}))
	receive(t, sub)

	require.Eventually(t, func() bool {
		return gathered(t, reg, "test_eventbus_events_delivered_total") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), gathered(t, reg, "test_eventbus_events_published_total"))
	assert.Equal(t, float64(1), gathered(t, reg, "test_eventbus_subscribers_total"))
	assert.Equal(t, float64(1), gathered(t, reg, "test_eventbus_subscriptions_total"))
}

func TestEventBus_GetAllSubscriberInfo(t *testing.T) {
	eb := newRunningBus(t)
	eb.Subscribe("a", 1)
	eb.Subscribe("b", 1)

	infos := eb.GetAllSubscriberInfo()
	assert.Len(t, infos, 2)
}

// gathered returns the value of a single-series counter or gauge
func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name || len(mf.GetMetric()) == 0 {
			continue
		}
		m := mf.GetMetric()[0]
		if c := m.GetCounter(); c != nil {
			return c.GetValue()
		}
		if g := m.GetGauge(); g != nil {
			return g.GetValue()
		}
	}
	return -1
}
