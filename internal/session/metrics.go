package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for session lifecycle. A nil *Metrics
// records nothing.
type Metrics struct {
	Created  prometheus.Counter
	Warnings prometheus.Counter
	Expired  prometheus.Counter
	Live     prometheus.Gauge
}

// NewMetrics creates and registers session metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Created: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carecore_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		Warnings: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carecore_sessions_warnings_total",
			Help: "Total number of one-time expiry warnings issued",
		}),
		Expired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carecore_sessions_expired_total",
			Help: "Total number of sessions that reached hard expiry",
		}),
		Live: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "carecore_sessions_live",
			Help: "Sessions currently registered (expired-but-unswept included)",
		}),
	}
}

func (m *Metrics) incCreated() {
	if m != nil {
		m.Created.Inc()
	}
}

func (m *Metrics) incWarnings() {
	if m != nil {
		m.Warnings.Inc()
	}
}

func (m *Metrics) incExpired() {
	if m != nil {
		m.Expired.Inc()
	}
}

func (m *Metrics) setLive(n int) {
	if m != nil {
		m.Live.Set(float64(n))
	}
}
