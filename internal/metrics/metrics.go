// Package metrics exposes pipeline counters on a private Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ayusman/krypton/internal/playback"
)

// Metrics holds all pipeline collectors.
type Metrics struct {
	Frames           *prometheus.CounterVec
	InferenceErrors  prometheus.Counter
	EventsDropped    prometheus.Counter
	SessionsStarted  *prometheus.CounterVec
	FPS              prometheus.Gauge
	DetectionsLast   prometheus.Gauge
	InferenceSeconds prometheus.Histogram

	registry *prometheus.Registry
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "krypton_frames_total",
			Help: "Frames processed by the run loop",
		}, []string{"result"}),
		InferenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "krypton_inference_errors_total",
			Help: "Frames whose inference failed",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "krypton_events_dropped_total",
			Help: "Events dropped because the consumer fell behind",
		}),
		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "krypton_sessions_started_total",
			Help: "Sessions started per source kind",
		}, []string{"source"}),
		FPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "krypton_fps",
			Help: "Processed frames per second over the last window",
		}),
		DetectionsLast: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "krypton_detections_last_frame",
			Help: "Detections on the most recently inferred frame",
		}),
		InferenceSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "krypton_inference_seconds",
			Help:    "Inference latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.Frames,
		m.InferenceErrors,
		m.EventsDropped,
		m.SessionsStarted,
		m.FPS,
		m.DetectionsLast,
		m.InferenceSeconds,
	)
	return m
}

// Observe records one run-loop event.
func (m *Metrics) Observe(e playback.Event) {
	m.FPS.Set(e.State.FPS)

	if !e.Inferred {
		m.Frames.WithLabelValues("skipped").Inc()
		return
	}
	m.Frames.WithLabelValues("inferred").Inc()
	m.InferenceSeconds.Observe(e.InferenceTime.Seconds())
	if e.Err != nil {
		m.InferenceErrors.Inc()
		return
	}
	m.DetectionsLast.Set(float64(len(e.Detections)))
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
