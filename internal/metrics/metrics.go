// Package metrics exposes compositor counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "compositor"

// Metrics holds the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	framesComposed  prometheus.Counter
	composeDuration prometheus.Histogram
	sourceState     *prometheus.GaugeVec

	outputFrames     *prometheus.CounterVec
	outputDropped    *prometheus.CounterVec
	outputStatus     *prometheus.GaugeVec
	outputReconnects *prometheus.CounterVec
	encoderFPS       *prometheus.GaugeVec
	encoderSpeed     *prometheus.GaugeVec

	volmeterDropped prometheus.Counter
	screenshots     *prometheus.CounterVec
	displays        prometheus.Gauge
}

// New creates Metrics with Go and process collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		framesComposed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "frames_composed_total",
			Help: "Frames composed by the compositor",
		}),
		composeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "compose_duration_seconds",
			Help:    "Time spent composing one frame",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		sourceState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "source", Name: "state",
			Help: "Source state (1 for the current state)",
		}, []string{"scene", "source", "state"}),
		outputFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "output", Name: "frames_sent_total",
			Help: "Frames written to the output sink",
		}, []string{"output"}),
		outputDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "output", Name: "frames_dropped_total",
			Help: "Frames dropped because the output worker lagged",
		}, []string{"output"}),
		outputStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "output", Name: "status",
			Help: "Output status (1 for the current status)",
		}, []string{"output", "status"}),
		outputReconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "output", Name: "reconnects_total",
			Help: "Output reconnect attempts",
		}, []string{"output"}),
		encoderFPS: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "encoder", Name: "fps",
			Help: "Encoder frames per second reported by ffmpeg",
		}, []string{"output"}),
		encoderSpeed: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "encoder", Name: "speed",
			Help: "Encoder speed relative to realtime",
		}, []string{"output"}),
		volmeterDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "audio", Name: "volmeter_dropped_total",
			Help: "Volmeter samples discarded for lagging subscribers",
		}),
		screenshots: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "screenshots_total",
			Help: "Screenshot requests by result",
		}, []string{"result"}),
		displays: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "display", Name: "active",
			Help: "Displays currently rendering",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) FrameComposed(d time.Duration) {
	if m == nil {
		return
	}
	m.framesComposed.Inc()
	m.composeDuration.Observe(d.Seconds())
}

// SetSourceState marks state as the current state of a source; an empty
// state removes the source's series.
func (m *Metrics) SetSourceState(scene, source, state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		if state == "" {
			m.sourceState.DeleteLabelValues(scene, source, s)
			continue
		}
		m.sourceState.WithLabelValues(scene, source, s).Set(v)
	}
}

func (m *Metrics) OutputFrameSent(id string) {
	if m == nil {
		return
	}
	m.outputFrames.WithLabelValues(id).Inc()
}

func (m *Metrics) OutputFrameDropped(id string) {
	if m == nil {
		return
	}
	m.outputDropped.WithLabelValues(id).Inc()
}

func (m *Metrics) OutputReconnect(id string) {
	if m == nil {
		return
	}
	m.outputReconnects.WithLabelValues(id).Inc()
}

// SetOutputStatus works like SetSourceState for outputs.
func (m *Metrics) SetOutputStatus(id, status string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		if status == "" {
			m.outputStatus.DeleteLabelValues(id, s)
			continue
		}
		v := 0.0
		if s == status {
			v = 1
		}
		m.outputStatus.WithLabelValues(id, s).Set(v)
	}
}

// SetEncoderProgress records ffmpeg's reported encoding rate for an output.
func (m *Metrics) SetEncoderProgress(id string, fps, speed float64) {
	if m == nil {
		return
	}
	m.encoderFPS.WithLabelValues(id).Set(fps)
	m.encoderSpeed.WithLabelValues(id).Set(speed)
}

// DeleteOutput removes all series of an output.
func (m *Metrics) DeleteOutput(id string, statuses []string) {
	if m == nil {
		return
	}
	m.outputFrames.DeleteLabelValues(id)
	m.outputDropped.DeleteLabelValues(id)
	m.outputReconnects.DeleteLabelValues(id)
	m.encoderFPS.DeleteLabelValues(id)
	m.encoderSpeed.DeleteLabelValues(id)
	m.SetOutputStatus(id, "", statuses)
}

func (m *Metrics) VolmeterDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.volmeterDropped.Add(float64(n))
}

// ScreenshotTaken counts a finished capture; result is "ok", "error" or
// "canceled".
func (m *Metrics) ScreenshotTaken(result string) {
	if m == nil {
		return
	}
	m.screenshots.WithLabelValues(result).Inc()
}

func (m *Metrics) SetDisplays(n int) {
	if m == nil {
		return
	}
	m.displays.Set(float64(n))
}
