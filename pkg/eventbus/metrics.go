package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the EventBus
type Metrics struct {
	// Gauges (current values)
	SubscribersTotal   prometheus.Gauge
	PublishChannelSize prometheus.Gauge

	// Counters (cumulative values)
	EventsPublishedTotal prometheus.Counter
	EventsDeliveredTotal prometheus.Counter
	EventsDroppedTotal   prometheus.Counter
	SubscriptionsTotal   prometheus.Counter
	UnsubscriptionsTotal prometheus.Counter
}

// NewMetrics creates the EventBus metrics and registers them on reg
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "collector"
	}
	const subsystem = "eventbus"
	factory := promauto.With(reg)

	return &Metrics{
		SubscribersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscribers_total",
			Help:      "Current number of active subscribers",
		}),
		PublishChannelSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "publish_channel_size",
			Help:      "Current size of the publish channel buffer",
		}),
		EventsPublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_published_total",
			Help:      "Total number of events published",
		}),
		EventsDeliveredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_delivered_total",
			Help:      "Total number of events delivered to subscribers",
		}),
		EventsDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_dropped_total",
			Help:      "Total number of deliveries dropped because a subscriber buffer was full",
		}),
		SubscriptionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriptions_total",
			Help:      "Total number of subscriptions created",
		}),
		UnsubscriptionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "unsubscriptions_total",
			Help:      "Total number of subscriptions removed",
		}),
	}
}
