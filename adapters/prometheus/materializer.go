package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/eventum-go/core/materializer"
	"github.com/codewandler/eventum-go/core/metrics"
)

type materializerMetrics struct {
	handleDuration prometheus.ObserverVec
	handled        *prometheus.CounterVec
}

// NewMaterializerMetrics registers materializer metrics with reg. Series
// are labeled with the materializer name and the event type.
func NewMaterializerMetrics(reg prometheus.Registerer, name string) materializer.Metrics {
	const sub = "materializer"
	labels := prometheus.Labels{"materializer": name}
	handleDuration := histogram(sub, "handle_duration_seconds", "Event handling latency in seconds", "materializer", "event_type")
	handled := counter(sub, "events_total", "Total number of handled events", "materializer", "event_type", "success")
	reg.MustRegister(handleDuration, handled)

	return &materializerMetrics{
		handleDuration: handleDuration.MustCurryWith(labels),
		handled:        handled.MustCurryWith(labels),
	}
}

func (m *materializerMetrics) HandleDuration(eventType string) metrics.Timer {
	return newTimer(m.handleDuration.WithLabelValues(eventType))
}

func (m *materializerMetrics) Handled(eventType string, success bool) {
	m.handled.WithLabelValues(eventType, boolToStr(success)).Inc()
}

var _ materializer.Metrics = (*materializerMetrics)(nil)
