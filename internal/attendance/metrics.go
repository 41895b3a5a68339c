package attendance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts scan outcomes per flow.
type Metrics struct {
	scans   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewMetrics registers the attendance collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swimschool",
			Subsystem: "attendance",
			Name:      "scans_total",
			Help:      "QR scans by flow, result and state.",
		}, []string{"flow", "result", "state"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "swimschool",
			Subsystem: "attendance",
			Name:      "verify_duration_seconds",
			Help:      "Time spent verifying a scan.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow"}),
	}
	reg.MustRegister(m.scans, m.latency)
	return m
}

func (m *Metrics) observe(out Outcome, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !out.Success {
		result = string(out.Kind)
	}
	m.scans.WithLabelValues(string(out.Flow), result, string(out.State)).Inc()
	m.latency.WithLabelValues(string(out.Flow)).Observe(d.Seconds())
}
