package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event outcomes recorded by EventsTotal
const (
	outcomePersisted    = "persisted"
	outcomeDuplicate    = "duplicate"
	outcomeDropped      = "dropped"
	outcomeRemoved      = "removed"
	outcomeUnregistered = "unregistered"
	outcomeStoreFailed  = "store_failed"
)

// Metrics holds Prometheus metrics for the ingestion controller
type Metrics struct {
	EventsTotal          *prometheus.CounterVec
	DecodeFailuresTotal  prometheus.Counter
	PollCyclesTotal      prometheus.Counter
	PollErrorsTotal      prometheus.Counter
	FallbacksTotal       prometheus.Counter
	ResubscribesTotal    prometheus.Counter
	BackfillLogsTotal    prometheus.Counter
	RunningSubscriptions *prometheus.GaugeVec
}

// NewMetrics creates the controller metrics and registers them on reg.
// A nil reg uses a private registry.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "collector"
	}
	const subsystem = "ingest"
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Observed logs by processing outcome",
		}, []string{"outcome"}),
		DecodeFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decode_failures_total",
			Help:      "Logs stored raw because decoding failed",
		}),
		PollCyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "poll_cycles_total",
			Help:      "Completed polling cycles",
		}),
		PollErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "poll_errors_total",
			Help:      "Polling cycles that failed",
		}),
		FallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "listen_fallbacks_total",
			Help:      "Subscriptions that fell back from live delivery to polling",
		}),
		ResubscribesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resubscribes_total",
			Help:      "Live subscriptions re-established after a drop",
		}),
		BackfillLogsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backfill_logs_total",
			Help:      "Logs fetched by start-up backfills",
		}),
		RunningSubscriptions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "running_subscriptions",
			Help:      "Running subscriptions by delivery mode",
		}, []string{"mode"}),
	}
}
