// Package metrics exposes recorder, stream and merge metrics to Prometheus.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/camkeeper/internal/events"
)

const namespace = "camkeeper"

// Metrics owns a registry with every camkeeper metric. It implements the
// mux and merge observers and follows session state from the event bus.
type Metrics struct {
	registry *prometheus.Registry

	sessions           *prometheus.CounterVec
	sessionActive      prometheus.Gauge
	segments           *prometheus.CounterVec
	recordingIndicator prometheus.Gauge
	frames             prometheus.Counter
	sinkFrames         *prometheus.CounterVec
	sinkEnabled        *prometheus.GaugeVec
	motionPresent      prometheus.Gauge
	merges             *prometheus.CounterVec
	mergeDuration      *prometheus.HistogramVec
	settingsVersion    prometheus.Gauge
	cpuTemperature     prometheus.Gauge

	mu      sync.RWMutex
	policy  string
	summary Summary
}

// Summary is a cached copy of the headline counters for status reports.
type Summary struct {
	Frames          uint64    `json:"frames" doc:"Frames captured since start"`
	Sessions        uint64    `json:"sessions" doc:"Sessions closed since start"`
	Segments        uint64    `json:"segments" doc:"Segments opened since start"`
	MergesOK        uint64    `json:"merges_ok" doc:"Successful merges since start"`
	MergesFailed    uint64    `json:"merges_failed" doc:"Failed merges since start"`
	LastMerge       time.Time `json:"last_merge,omitzero" doc:"Finish time of the last merge"`
	Motion          bool      `json:"motion" doc:"Whether motion is currently present"`
	SinkDropped     uint64    `json:"sink_dropped" doc:"Frames dropped by live outputs"`
	SettingsVersion uint64    `json:"settings_version" doc:"Current settings version"`
}

// New creates the metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Recording sessions closed, by policy and termination cause",
		}, []string{"policy", "cause"}),
		sessionActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "1 while a recording session is active",
		}),
		segments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Segments opened, by session policy",
		}, []string{"policy"}),
		recordingIndicator: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording_indicator",
			Help:      "1 while a segment or manual recording is being written",
		}),
		frames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames read from the camera",
		}),
		sinkFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_frames_total",
			Help:      "Frames offered to each live output, by result",
		}, []string{"sink", "result"}),
		sinkEnabled: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sink_enabled",
			Help:      "1 while a live output accepts frames",
		}, []string{"sink"}),
		motionPresent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "motion_present",
			Help:      "1 while motion is detected",
		}),
		merges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Merge jobs finished, by path and result",
		}, []string{"path", "result"}),
		mergeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_duration_seconds",
			Help:      "Wall time of merge jobs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"path"}),
		settingsVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "settings_version",
			Help:      "Version of the active settings snapshot",
		}),
		cpuTemperature: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_temperature_celsius",
			Help:      "SoC temperature from the first thermal zone",
		}),
	}
}

// Registry returns the registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Attach follows bus events. Returns the unsubscribe function.
func (m *Metrics) Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.SessionStartedEvent) {
			m.mu.Lock()
			m.policy = e.Policy
			m.mu.Unlock()
			m.sessionActive.Set(1)
		}),
		bus.Subscribe(func(e events.SessionClosedEvent) {
			m.sessions.WithLabelValues(e.Policy, e.Cause).Inc()
			m.sessionActive.Set(0)
			m.mu.Lock()
			m.summary.Sessions++
			m.mu.Unlock()
		}),
		bus.Subscribe(func(events.SegmentOpenedEvent) {
			m.mu.Lock()
			policy := m.policy
			m.summary.Segments++
			m.mu.Unlock()
			m.segments.WithLabelValues(policy).Inc()
		}),
		bus.Subscribe(func(e events.RecordingIndicatorEvent) {
			m.recordingIndicator.Set(boolToFloat(e.Recording))
		}),
		bus.Subscribe(func(e events.MotionStateEvent) {
			m.Motion(e.Motion)
		}),
		bus.Subscribe(func(e events.SettingsChangedEvent) {
			m.SettingsVersion(e.Version)
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Frame counts one captured frame.
func (m *Metrics) Frame() {
	m.frames.Inc()
	m.mu.Lock()
	m.summary.Frames++
	m.mu.Unlock()
}

// Motion sets the motion gauge.
func (m *Metrics) Motion(present bool) {
	m.motionPresent.Set(boolToFloat(present))
	m.mu.Lock()
	m.summary.Motion = present
	m.mu.Unlock()
}

// SettingsVersion sets the settings version gauge.
func (m *Metrics) SettingsVersion(v uint64) {
	m.settingsVersion.Set(float64(v))
	m.mu.Lock()
	m.summary.SettingsVersion = v
	m.mu.Unlock()
}

// CPUTemperature sets the temperature gauge.
func (m *Metrics) CPUTemperature(celsius float64) {
	m.cpuTemperature.Set(celsius)
}

// SinkFrame implements mux.Observer.
func (m *Metrics) SinkFrame(sink, result string) {
	m.sinkFrames.WithLabelValues(sink, result).Inc()
	if result == "dropped" {
		m.mu.Lock()
		m.summary.SinkDropped++
		m.mu.Unlock()
	}
}

// SinkEnabled implements mux.Observer.
func (m *Metrics) SinkEnabled(sink string, enabled bool) {
	m.sinkEnabled.WithLabelValues(sink).Set(boolToFloat(enabled))
}

// MergeFinished implements merge.Observer.
func (m *Metrics) MergeFinished(path string, ok bool, elapsed time.Duration) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.merges.WithLabelValues(path, result).Inc()
	if ok {
		m.mergeDuration.WithLabelValues(path).Observe(elapsed.Seconds())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.summary.MergesOK++
	} else {
		m.summary.MergesFailed++
	}
	m.summary.LastMerge = time.Now()
}

// Summary returns the cached headline counters.
func (m *Metrics) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summary
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
