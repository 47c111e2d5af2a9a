package realtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the realtime layer. A nil *Metrics records nothing.
type Metrics struct {
	Connections     prometheus.Gauge
	ConnectedUsers  prometheus.Gauge
	Rejected        prometheus.Counter
	EventsReceived  *prometheus.CounterVec
	EventsEmitted   *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	HandlerErrors   *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
}

// NewMetrics registers the realtime collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "resonance_realtime_connections",
			Help: "Current number of open realtime connections",
		}),
		ConnectedUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "resonance_realtime_connected_users",
			Help: "Current number of users with at least one open connection",
		}),
		Rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "resonance_realtime_rejected_total",
			Help: "Total number of handshakes rejected for missing or invalid credentials",
		}),
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resonance_realtime_events_received_total",
			Help: "Total number of inbound events by name",
		}, []string{"event"}),
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resonance_realtime_events_emitted_total",
			Help: "Total number of frames queued to connections by event name",
		}, []string{"event"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resonance_realtime_events_dropped_total",
			Help: "Total number of outbound events that reached no connection",
		}, []string{"reason"}),
		HandlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resonance_realtime_handler_errors_total",
			Help: "Total number of inbound events whose handler failed",
		}, []string{"event"}),
		HandlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resonance_realtime_handler_duration_seconds",
			Help:    "Time spent handling inbound events",
			Buckets: prometheus.DefBuckets,
		}, []string{"event"}),
	}
}

func (m *Metrics) setStats(stats Stats) {
	if m == nil {
		return
	}
	m.Connections.Set(float64(stats.Connections))
	m.ConnectedUsers.Set(float64(stats.ConnectedUsers))
}

func (m *Metrics) rejected() {
	if m == nil {
		return
	}
	m.Rejected.Inc()
}

func (m *Metrics) received(event string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(event).Inc()
}

func (m *Metrics) emitted(event string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsEmitted.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) handled(event string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.HandlerDuration.WithLabelValues(event).Observe(time.Since(started).Seconds())
	if err != nil {
		m.HandlerErrors.WithLabelValues(event).Inc()
	}
}
