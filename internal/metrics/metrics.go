// Package metrics exposes device counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adaglow"

// Send results.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultMismatch = "ack_mismatch"
)

// Metrics holds the collectors of a single device. All methods are safe to
// call on a nil *Metrics.
type Metrics struct {
	registry     *prometheus.Registry
	sends        *prometheus.CounterVec
	sendDuration prometheus.Histogram
	coalesced    prometheus.Counter
	crashes      *prometheus.CounterVec
	state        prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames sent to the device, by result",
		}, []string{"result"}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_send_duration_seconds",
			Help:      "Time from building a frame to receiving its acknowledgment",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_coalesced_total",
			Help:      "Updates dropped because a frame was still in flight",
		}),
		crashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crashes_total",
			Help:      "Device crashes, by stage",
		}, []string{"stage"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_state",
			Help:      "Device state: 0 uninitialized, 1 initialized, 2 crashed",
		}),
	}

	m.registry.MustRegister(
		m.sends,
		m.sendDuration,
		m.coalesced,
		m.crashes,
		m.state,
	)

	return m
}

// FrameSent records an acknowledged frame.
func (m *Metrics) FrameSent(d time.Duration) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(ResultOK).Inc()
	m.sendDuration.Observe(d.Seconds())
}

// FrameFailed records a frame that was not acknowledged.
func (m *Metrics) FrameFailed(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

// Coalesced records an update dropped while a frame was in flight.
func (m *Metrics) Coalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

// Crashed records a crash in the given stage.
func (m *Metrics) Crashed(stage string) {
	if m == nil {
		return
	}
	m.crashes.WithLabelValues(stage).Inc()
}

// SetState records the current device state.
func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}

// Handler returns an HTTP handler serving the collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
