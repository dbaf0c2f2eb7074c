// Package metrics exposes Prometheus instrumentation for the live
// classification pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gesture"

// Pipeline groups the counters updated by the acquisition loop and the
// transport. A nil *Pipeline is valid and records nothing.
type Pipeline struct {
	linesReceived    prometheus.Counter
	malformedLines   prometheus.Counter
	droppedLines     prometheus.Counter
	inferences       prometheus.Counter
	inferenceErrors  prometheus.Counter
	inferenceLatency prometheus.Histogram
	events           *prometheus.CounterVec
	windowFill       prometheus.Gauge
}

// NewPipeline registers the pipeline metrics on reg. Use a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	auto := promauto.With(reg)
	return &Pipeline{
		linesReceived: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "lines_total",
			Help:      "Lines read from the sensor transport.",
		}),
		malformedLines: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "malformed_lines_total",
			Help:      "Lines skipped because they did not parse into a sample.",
		}),
		droppedLines: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "dropped_lines_total",
			Help:      "Lines dropped because a subscriber buffer was full.",
		}),
		inferences: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "inferences_total",
			Help:      "Classifier invocations.",
		}),
		inferenceErrors: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "inference_errors_total",
			Help:      "Failed classifier invocations.",
		}),
		inferenceLatency: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "inference_duration_seconds",
			Help:      "Time spent normalising, classifying and deciding one window.",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		events: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Emitted gesture events by label.",
		}, []string{"label"}),
		windowFill: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "window_samples",
			Help:      "Samples currently held in the sliding window.",
		}),
	}
}

// LineReceived counts one transport line.
func (p *Pipeline) LineReceived() {
	if p == nil {
		return
	}
	p.linesReceived.Inc()
}

// LineMalformed counts one skipped line.
func (p *Pipeline) LineMalformed() {
	if p == nil {
		return
	}
	p.malformedLines.Inc()
}

// LineDropped counts one line lost to subscriber back-pressure.
func (p *Pipeline) LineDropped() {
	if p == nil {
		return
	}
	p.droppedLines.Inc()
}

// Inference records one classifier invocation.
func (p *Pipeline) Inference(d time.Duration, err error) {
	if p == nil {
		return
	}
	p.inferences.Inc()
	p.inferenceLatency.Observe(d.Seconds())
	if err != nil {
		p.inferenceErrors.Inc()
	}
}

// Event counts one emitted event.
func (p *Pipeline) Event(label string) {
	if p == nil {
		return
	}
	p.events.WithLabelValues(label).Inc()
}

// WindowFill publishes the current window length.
func (p *Pipeline) WindowFill(n int) {
	if p == nil {
		return
	}
	p.windowFill.Set(float64(n))
}
