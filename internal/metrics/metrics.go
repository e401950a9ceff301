// Package metrics provides the daemon's Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"volumed/internal/audio"
	"volumed/internal/pipeline"
)

const namespace = "volumed"

// PipelineMetrics observes the command pipeline.
type PipelineMetrics struct {
	Enqueued  *prometheus.CounterVec
	Coalesced *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
	Executed  *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	Depth     prometheus.Gauge
}

var _ pipeline.Observer = (*PipelineMetrics)(nil)

// NewPipelineMetrics creates and registers the pipeline collectors.
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_enqueued_total",
			Help:      "Commands accepted into the pipeline, by kind",
		}, []string{"kind"}),
		Coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_coalesced_total",
			Help:      "Commands that replaced or were absorbed by a pending one, by kind",
		}, []string{"kind"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dropped_total",
			Help:      "Commands rejected because the queue was full or closed, by kind",
		}, []string{"kind"}),
		Executed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_executed_total",
			Help:      "Commands run by the pipeline worker, by kind and result",
		}, []string{"kind", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time spent executing one command",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"kind"}),
		Depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "command_queue_depth",
			Help:      "Commands waiting in the pipeline",
		}),
	}
	for _, c := range []prometheus.Collector{m.Enqueued, m.Coalesced, m.Dropped, m.Executed, m.Duration, m.Depth} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
		}
	}
	return m, nil
}

func (m *PipelineMetrics) CommandEnqueued(kind string)  { m.Enqueued.WithLabelValues(kind).Inc() }
func (m *PipelineMetrics) CommandCoalesced(kind string) { m.Coalesced.WithLabelValues(kind).Inc() }
func (m *PipelineMetrics) CommandDropped(kind string)   { m.Dropped.WithLabelValues(kind).Inc() }
func (m *PipelineMetrics) QueueDepth(n int)             { m.Depth.Set(float64(n)) }

func (m *PipelineMetrics) CommandExecuted(kind string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Executed.WithLabelValues(kind, result).Inc()
	m.Duration.WithLabelValues(kind).Observe(d.Seconds())
}

// EngineMetrics counts published engine events and tracks the state they
// carry. It is wired in as one more event publisher.
type EngineMetrics struct {
	Events       *prometheus.CounterVec
	StreamVolume *prometheus.GaugeVec
	StreamMuted  *prometheus.GaugeVec
	RingerMode   prometheus.Gauge
	MixerUp      prometheus.Gauge
}

var _ audio.Publisher = (*EngineMetrics)(nil)

// NewEngineMetrics creates and registers the engine collectors.
func NewEngineMetrics(registry prometheus.Registerer) (*EngineMetrics, error) {
	m := &EngineMetrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_events_total",
			Help:      "Engine events published, by kind",
		}, []string{"kind"}),
		StreamVolume: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_volume_index",
			Help:      "Last published volume index per stream, in user steps",
		}, []string{"stream"}),
		StreamMuted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_muted",
			Help:      "1 while a stream has mute owners",
		}, []string{"stream"}),
		RingerMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ringer_mode",
			Help:      "Current ringer mode (0 silent, 1 vibrate, 2 normal)",
		}),
		MixerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mixer_up",
			Help:      "1 while the mixer answers probes",
		}),
	}
	for _, c := range []prometheus.Collector{m.Events, m.StreamVolume, m.StreamMuted, m.RingerMode, m.MixerUp} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register engine metrics: %w", err)
		}
	}
	m.MixerUp.Set(1)
	return m, nil
}

// Publish implements audio.Publisher.
func (m *EngineMetrics) Publish(kind audio.EventKind, payload any) {
	m.Events.WithLabelValues(string(kind)).Inc()
	switch p := payload.(type) {
	case audio.VolumeChanged:
		m.StreamVolume.WithLabelValues(p.Stream).Set(float64(p.Index))
	case audio.MuteChanged:
		m.StreamMuted.WithLabelValues(p.Stream).Set(boolGauge(p.Muted))
	case audio.RingerModeChanged:
		if mode, err := audio.ParseRingerMode(p.Mode); err == nil {
			m.RingerMode.Set(float64(mode))
		}
	case audio.MixerStateChanged:
		m.MixerUp.Set(boolGauge(p.Up))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler serves the registry in the Prometheus text format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
