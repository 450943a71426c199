package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit trail. A nil *Metrics
// records nothing.
type Metrics struct {
	Logged         *prometheus.CounterVec
	Flushed        prometheus.Counter
	FlushFailures  prometheus.Counter
	BufferDepth    prometheus.Gauge
	HighWaterAlarm prometheus.Gauge
}

// NewMetrics creates and registers audit trail metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Logged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carecore_audit_events_logged_total",
			Help: "Total number of audit events constructed, by risk level",
		}, []string{"risk"}),
		Flushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carecore_audit_events_flushed_total",
			Help: "Total number of audit events successfully flushed to the sink",
		}),
		FlushFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carecore_audit_flush_failures_total",
			Help: "Total number of failed flush attempts (events were re-buffered)",
		}),
		BufferDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "carecore_audit_buffer_depth",
			Help: "Audit events currently buffered in memory",
		}),
		HighWaterAlarm: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "carecore_audit_buffer_high_water_alarm",
			Help: "1 while the audit buffer is past its high-water mark",
		}),
	}
}

func (m *Metrics) incLogged(risk string) {
	if m != nil {
		m.Logged.WithLabelValues(risk).Inc()
	}
}

func (m *Metrics) addFlushed(n int) {
	if m != nil {
		m.Flushed.Add(float64(n))
	}
}

func (m *Metrics) incFlushFailures() {
	if m != nil {
		m.FlushFailures.Inc()
	}
}

func (m *Metrics) setBufferDepth(n int) {
	if m != nil {
		m.BufferDepth.Set(float64(n))
	}
}

func (m *Metrics) setHighWaterAlarm(raised bool) {
	if m == nil {
		return
	}
	if raised {
		m.HighWaterAlarm.Set(1)
	} else {
		m.HighWaterAlarm.Set(0)
	}
}
