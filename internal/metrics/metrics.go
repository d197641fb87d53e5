package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Ingests          *prometheus.CounterVec
	PumpsArmed       *prometheus.CounterVec
	SettingsConsumed prometheus.Counter
	Aggregations     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planter",
			Name:      "telemetry_ingests_total",
			Help:      "Telemetry pushes by outcome (created, merged, rejected).",
		}, []string{"outcome"}),
		PumpsArmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planter",
			Name:      "pumps_armed_total",
			Help:      "Trigger flags armed, by pump and source (policy, dashboard).",
		}, []string{"pump", "source"}),
		SettingsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "planter",
			Name:      "device_settings_consumed_total",
			Help:      "Device settings polls that cleared at least one armed trigger.",
		}),
		Aggregations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planter",
			Name:      "aggregations_total",
			Help:      "Aggregation queries by granularity.",
		}, []string{"granularity"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "planter",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.Ingests, m.PumpsArmed, m.SettingsConsumed, m.Aggregations, m.HTTPDuration)
	return m
}

// Ingest records one telemetry push outcome.
func (m *Metrics) Ingest(outcome string) {
	if m == nil {
		return
	}
	m.Ingests.WithLabelValues(outcome).Inc()
}

// Armed records one armed trigger flag.
func (m *Metrics) Armed(pump, source string) {
	if m == nil {
		return
	}
	m.PumpsArmed.WithLabelValues(pump, source).Inc()
}

// Consumed records a device poll that cleared armed triggers.
func (m *Metrics) Consumed() {
	if m == nil {
		return
	}
	m.SettingsConsumed.Inc()
}

// Aggregated records one aggregation query.
func (m *Metrics) Aggregated(granularity string) {
	if m == nil {
		return
	}
	m.Aggregations.WithLabelValues(granularity).Inc()
}
