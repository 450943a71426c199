package bulkhead

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for admission control, labeled by service.
// A nil *Metrics is valid and records nothing, so tests can build registries
// without touching the default registerer.
type Metrics struct {
	Executed    *prometheus.CounterVec
	Timeouts    *prometheus.CounterVec
	QueueFull   *prometheus.CounterVec
	Active      *prometheus.GaugeVec
	QueueLength *prometheus.GaugeVec
	ExecTime    *prometheus.HistogramVec
}

// NewMetrics creates and registers admission-control metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Executed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carecore_bulkhead_executed_total",
			Help: "Total number of operations executed per service",
		}, []string{"service"}),
		Timeouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carecore_bulkhead_admission_timeouts_total",
			Help: "Total number of queued operations that timed out waiting for admission",
		}, []string{"service"}),
		QueueFull: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carecore_bulkhead_queue_full_rejections_total",
			Help: "Total number of operations rejected because the wait queue was full",
		}, []string{"service"}),
		Active: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "carecore_bulkhead_active_operations",
			Help: "Operations currently executing per service",
		}, []string{"service"}),
		QueueLength: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "carecore_bulkhead_queue_length",
			Help: "Operations currently waiting for admission per service",
		}, []string{"service"}),
		ExecTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carecore_bulkhead_execution_seconds",
			Help:    "Wrapped operation execution time per service",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"service"}),
	}
}

func (m *Metrics) incExecuted(service string) {
	if m != nil {
		m.Executed.WithLabelValues(service).Inc()
	}
}

func (m *Metrics) incTimeouts(service string) {
	if m != nil {
		m.Timeouts.WithLabelValues(service).Inc()
	}
}

func (m *Metrics) incQueueFull(service string) {
	if m != nil {
		m.QueueFull.WithLabelValues(service).Inc()
	}
}

func (m *Metrics) setActive(service string, n int) {
	if m != nil {
		m.Active.WithLabelValues(service).Set(float64(n))
	}
}

func (m *Metrics) setQueueLength(service string, n int) {
	if m != nil {
		m.QueueLength.WithLabelValues(service).Set(float64(n))
	}
}

func (m *Metrics) observeExecTime(service string, d time.Duration) {
	if m != nil {
		m.ExecTime.WithLabelValues(service).Observe(d.Seconds())
	}
}
