package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter publishes per-stream delivery metrics to Prometheus. It uses its
// own registry so several exporters can coexist in tests.
type Exporter struct {
	registry *prometheus.Registry

	// Histograms
	latency    *prometheus.HistogramVec
	jitter     *prometheus.HistogramVec
	production *prometheus.HistogramVec

	// Gauges
	bitrate *prometheus.GaugeVec

	// Counters
	framesPushed    *prometheus.CounterVec
	framesDelivered *prometheus.CounterVec
	bytesPushed     *prometheus.CounterVec
	restarts        *prometheus.CounterVec
	bitrateChanges  *prometheus.CounterVec
	encoderMisses   *prometheus.CounterVec
}

var frameBuckets = []float64{.001, .0025, .005, .01, .025, .05, .1, .2, .3, .5, .75, 1, 2}

// NewExporter creates an exporter with Go runtime and process collectors.
func NewExporter() *Exporter {
	e := &Exporter{registry: prometheus.NewRegistry()}

	e.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidpace_frame_latency_seconds",
		Help:    "Time to produce and hand off one frame",
		Buckets: frameBuckets,
	}, []string{"stream"})

	e.jitter = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidpace_frame_jitter_seconds",
		Help:    "Absolute change in latency between consecutive frames",
		Buckets: frameBuckets,
	}, []string{"stream"})

	e.production = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidpace_frame_production_seconds",
		Help:    "Time spent producing one frame",
		Buckets: frameBuckets,
	}, []string{"stream"})

	e.bitrate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vidpace_target_bitrate_kbps",
		Help: "Current target bitrate in kbit/s",
	}, []string{"stream"})

	e.framesPushed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpace_frames_pushed_total",
		Help: "Frames pushed to the transport",
	}, []string{"stream"})

	e.framesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpace_frames_delivered_total",
		Help: "Frames acknowledged downstream",
	}, []string{"stream"})

	e.bytesPushed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpace_bytes_pushed_total",
		Help: "Raw frame bytes pushed to the transport",
	}, []string{"stream"})

	e.restarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpace_source_restarts_total",
		Help: "Times the asset wrapped around",
	}, []string{"stream"})

	e.bitrateChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpace_bitrate_changes_total",
		Help: "Bitrate adjustments by direction",
	}, []string{"stream", "direction"})

	e.encoderMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpace_encoder_misses_total",
		Help: "Adaptation cycles that could not reach the encoder",
	}, []string{"stream"})

	e.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		e.latency, e.jitter, e.production,
		e.bitrate,
		e.framesPushed, e.framesDelivered, e.bytesPushed,
		e.restarts, e.bitrateChanges, e.encoderMisses,
	)

	return e
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// FramePushed records a frame handed to the transport.
func (e *Exporter) FramePushed(stream string, size int, s TimingSample) {
	e.framesPushed.WithLabelValues(stream).Inc()
	e.bytesPushed.WithLabelValues(stream).Add(float64(size))
	e.latency.WithLabelValues(stream).Observe(s.Latency.Seconds())
	e.production.WithLabelValues(stream).Observe(s.ProductionTime.Seconds())
	if s.HasJitter {
		e.jitter.WithLabelValues(stream).Observe(s.Jitter.Seconds())
	}
}

// FrameDelivered records a downstream acknowledgement.
func (e *Exporter) FrameDelivered(stream string) {
	e.framesDelivered.WithLabelValues(stream).Inc()
}

// SourceRestarted records an asset wrap-around.
func (e *Exporter) SourceRestarted(stream string) {
	e.restarts.WithLabelValues(stream).Inc()
}

// BitrateChanged records a new target bitrate. from is 0 for the initial value.
func (e *Exporter) BitrateChanged(stream string, from, to int) {
	e.bitrate.WithLabelValues(stream).Set(float64(to))
	switch {
	case from == 0:
	case to < from:
		e.bitrateChanges.WithLabelValues(stream, "down").Inc()
	case to > from:
		e.bitrateChanges.WithLabelValues(stream, "up").Inc()
	}
}

// EncoderMiss records a cycle whose bitrate could not be propagated.
func (e *Exporter) EncoderMiss(stream string) {
	e.encoderMisses.WithLabelValues(stream).Inc()
}
