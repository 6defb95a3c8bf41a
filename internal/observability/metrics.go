package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the service's prometheus collectors. A nil *Metrics is
// a valid no-op recorder so tests can pass nil.
type Metrics struct {
	operations           *prometheus.CounterVec
	notificationFailures prometheus.Counter
}

// NewMetrics registers the cycle collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cycle_operations_total",
			Help: "Cycle operations by name and outcome.",
		}, []string{"operation", "status"}),
		notificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "cycle_notification_failures_total",
			Help: "Change-event deliveries that failed (fire-and-forget).",
		}),
	}
}

// ObserveOperation counts one operation outcome.
func (m *Metrics) ObserveOperation(operation string, success bool) {
	if m == nil {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	m.operations.WithLabelValues(operation, status).Inc()
}

// NotificationFailure counts one failed event delivery.
func (m *Metrics) NotificationFailure() {
	if m == nil {
		return
	}
	m.notificationFailures.Inc()
}
