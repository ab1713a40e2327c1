package provider

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder mirrors an Instance's Metrics into process-wide
// Prometheus collectors, labeled by provider and protocol id. It is
// optional: constructing a Registry never requires one, and an Instance
// with a nil recorder just skips the mirroring call.
type PrometheusRecorder struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	active   *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

// NewPrometheusRecorder constructs and registers the collector set against
// reg. Pass prometheus.DefaultRegisterer for the global registry.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gleitzeit",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total provider.Handle calls by provider and protocol.",
		}, []string{"provider_id", "protocol_id"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gleitzeit",
			Subsystem: "provider",
			Name:      "errors_total",
			Help:      "Total provider.Handle calls that returned an error.",
		}, []string{"provider_id", "protocol_id"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gleitzeit",
			Subsystem: "provider",
			Name:      "active_requests",
			Help:      "In-flight provider.Handle calls.",
		}, []string{"provider_id", "protocol_id"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gleitzeit",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "provider.Handle call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider_id", "protocol_id"}),
	}
	reg.MustRegister(r.requests, r.errors, r.active, r.duration)
	return r
}

// ObserveStart records the start of an in-flight call.
func (r *PrometheusRecorder) ObserveStart(providerID, protocolID string) {
	if r == nil {
		return
	}
	r.active.WithLabelValues(providerID, protocolID).Inc()
}

// ObserveFinish records a call's completion, duration, and outcome.
func (r *PrometheusRecorder) ObserveFinish(providerID, protocolID string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.active.WithLabelValues(providerID, protocolID).Dec()
	r.requests.WithLabelValues(providerID, protocolID).Inc()
	r.duration.WithLabelValues(providerID, protocolID).Observe(d.Seconds())
	if err != nil {
		r.errors.WithLabelValues(providerID, protocolID).Inc()
	}
}
