package dispatcher

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeOK = "ok"
	// unknownEventType keeps label cardinality bounded for tags with no handler.
	unknownEventType = "unknown"
)

// Metrics holds the dispatcher's Prometheus collectors.
type Metrics struct {
	mu         sync.Mutex
	total      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	registerer prometheus.Registerer
	registered bool
}

// NewMetrics creates the collectors. A nil registerer uses the default one.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer: registerer,
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "socket",
			Subsystem: "dispatch",
			Name:      "dispatch_total",
			Help:      "Dispatched messages by event type and outcome",
		}, []string{"event_type", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "socket",
			Subsystem: "dispatch",
			Name:      "dispatch_duration_seconds",
			Help:      "Time from receipt to handler completion",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	for _, c := range []prometheus.Collector{m.total, m.duration} {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *Metrics) observe(eventType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.total.WithLabelValues(eventType, outcome).Inc()
	m.duration.WithLabelValues(eventType).Observe(elapsed.Seconds())
}
