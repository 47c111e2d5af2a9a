package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cycle results.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultPanic   = "panic"
	ResultSkipped = "skipped"
)

// Metrics holds the worker collectors. A nil *Metrics records nothing.
type Metrics struct {
	Cycles        *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	Processed     *prometheus.CounterVec
}

// NewMetrics registers the worker collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resonance_worker_cycles_total",
			Help: "Worker cycles by result.",
		}, []string{"worker", "result"}),
		CycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resonance_worker_cycle_duration_seconds",
			Help:    "Duration of completed worker cycles.",
			Buckets: prometheus.DefBuckets,
		}, []string{"worker"}),
		Processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resonance_worker_processed_total",
			Help: "Items changed by worker cycles.",
		}, []string{"worker"}),
	}
}

func (m *Metrics) cycle(worker, result string) {
	if m == nil {
		return
	}

	m.Cycles.WithLabelValues(worker, result).Inc()
}

func (m *Metrics) observe(worker string, seconds float64, processed int) {
	if m == nil {
		return
	}

	m.CycleDuration.WithLabelValues(worker).Observe(seconds)
	m.Processed.WithLabelValues(worker).Add(float64(processed))
}
