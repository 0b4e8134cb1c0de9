// Package metrics exposes the Prometheus instrumentation for the gate
// service. All collectors are registered on the default registry at
// construction and served from /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the service updates.
type Metrics struct {
	ScansTotal      *prometheus.CounterVec
	PassesIssued    *prometheus.CounterVec
	PassesDecided   *prometheus.CounterVec
	EmergencyExits  prometheus.Counter
	VerifyDuration  prometheus.Histogram
	Subscribers     prometheus.Gauge
	BroadcastsSent  prometheus.Counter
	BroadcastsDrops prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		ScansTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatepass",
			Name:      "scans_total",
			Help:      "Scan verification attempts by outcome.",
		}, []string{"result", "direction"}),
		PassesIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatepass",
			Name:      "passes_issued_total",
			Help:      "Pass requests created, by kind.",
		}, []string{"kind"}),
		PassesDecided: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatepass",
			Name:      "passes_decided_total",
			Help:      "Admin decisions on pending passes.",
		}, []string{"decision"}),
		EmergencyExits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "gatepass",
			Name:      "emergency_exits_total",
			Help:      "Emergency exit invocations.",
		}),
		VerifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gatepass",
			Name:      "verify_duration_seconds",
			Help:      "End-to-end scan verification latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "gatepass",
			Name:      "audit_subscribers",
			Help:      "Live audit stream subscribers.",
		}),
		BroadcastsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "gatepass",
			Name:      "audit_broadcasts_total",
			Help:      "Scan events fanned out to subscribers.",
		}),
		BroadcastsDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "gatepass",
			Name:      "audit_broadcast_drops_total",
			Help:      "Subscribers dropped for stalled or failed sends.",
		}),
	}
}

// ObserveScan records one verification outcome and its latency.
func (m *Metrics) ObserveScan(result, direction string, took time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(result, direction).Inc()
	m.VerifyDuration.Observe(took.Seconds())
}
