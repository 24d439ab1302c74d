package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway/delivery instrumentation.
// A nil *Metrics is valid and turns every observation into a no-op,
// which keeps tests free of registry plumbing.
type Metrics struct {
	connections  prometheus.Gauge
	events       *prometheus.CounterVec
	delivered    prometheus.Counter
	dropped      prometheus.Counter
	deliveryMiss prometheus.Counter
	authFailures prometheus.Counter
}

// NewMetrics registers the realtime collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "microhire", Subsystem: "ws",
			Name: "connections", Help: "Live WebSocket connections.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microhire", Subsystem: "ws",
			Name: "events_total", Help: "Inbound client events by type.",
		}, []string{"type"}),
		delivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: "microhire", Subsystem: "delivery",
			Name: "sent_total", Help: "Envelopes enqueued to client send queues.",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "microhire", Subsystem: "delivery",
			Name: "dropped_total", Help: "Envelopes dropped due to backpressure.",
		}),
		deliveryMiss: f.NewCounter(prometheus.CounterOpts{
			Namespace: "microhire", Subsystem: "delivery",
			Name: "miss_total", Help: "Sends that resolved to an empty room.",
		}),
		authFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "microhire", Subsystem: "ws",
			Name: "auth_failures_total", Help: "Rejected connection handshakes.",
		}),
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) event(typ string) {
	if m != nil {
		m.events.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) sent(n int) {
	if m != nil && n > 0 {
		m.delivered.Add(float64(n))
	}
}

func (m *Metrics) drop() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.deliveryMiss.Inc()
	}
}

func (m *Metrics) authFailure() {
	if m != nil {
		m.authFailures.Inc()
	}
}
