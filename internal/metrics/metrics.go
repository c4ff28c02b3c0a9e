// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns the gateway's collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry     *prometheus.Registry
	turns        *prometheus.CounterVec
	activities   *prometheus.CounterVec
	sends        *prometheus.CounterVec
	sendDuration prometheus.Histogram
	duplicates   prometheus.Counter
	inflight     prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsapp_gateway",
			Name:      "turns_total",
			Help:      "Inbound webhook turns by HTTP status written.",
		}, []string{"status"}),
		activities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsapp_gateway",
			Name:      "inbound_activities_total",
			Help:      "Canonical inbound activities by kind.",
		}, []string{"kind"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsapp_gateway",
			Name:      "outbound_sends_total",
			Help:      "Outbound dispatches by outcome.",
		}, []string{"outcome"}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "whatsapp_gateway",
			Name:      "outbound_send_duration_seconds",
			Help:      "Latency of outbound provider dispatches.",
			Buckets:   prometheus.DefBuckets,
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "whatsapp_gateway",
			Name:      "duplicate_deliveries_total",
			Help:      "Webhook redeliveries suppressed before reaching the pipeline.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "whatsapp_gateway",
			Name:      "inflight_turns",
			Help:      "Turns currently being processed.",
		}),
	}
	r.registry.MustRegister(r.turns, r.activities, r.sends, r.sendDuration, r.duplicates, r.inflight)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Turn records a finished inbound turn.
func (r *Recorder) Turn(status int) {
	if r == nil {
		return
	}
	r.turns.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Activity records a canonicalized inbound activity.
func (r *Recorder) Activity(kind string) {
	if r == nil {
		return
	}
	r.activities.WithLabelValues(kind).Inc()
}

// Send records an outbound dispatch.
func (r *Recorder) Send(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.sends.WithLabelValues(outcome).Inc()
	r.sendDuration.Observe(d.Seconds())
}

// Duplicate records a suppressed redelivery.
func (r *Recorder) Duplicate() {
	if r == nil {
		return
	}
	r.duplicates.Inc()
}

// TurnStarted and TurnFinished track in-flight turns.
func (r *Recorder) TurnStarted() {
	if r == nil {
		return
	}
	r.inflight.Inc()
}

func (r *Recorder) TurnFinished() {
	if r == nil {
		return
	}
	r.inflight.Dec()
}
