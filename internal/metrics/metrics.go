// Package metrics holds the Prometheus instruments of the pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application. Every method
// is safe to call on a nil *Collector, which records nothing.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Pipeline metrics
	EventsIngested      *prometheus.CounterVec
	PatternsEmitted     *prometheus.CounterVec
	RecognitionDuration prometheus.Histogram
	ModelsSynthesized   prometheus.Counter
	ArtifactsGenerated  *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
}

// NewCollector creates a collector with its own registry, so several can
// coexist in one process.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Events received by ingestion, by outcome",
			},
			[]string{"result"},
		),
		PatternsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "patterns_emitted_total",
				Help:      "Patterns emitted by recognition, by pattern type",
			},
			[]string{"type"},
		),
		RecognitionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "recognition_duration_seconds",
				Help:      "Time spent recognizing one session",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ModelsSynthesized: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "models_synthesized_total",
				Help:      "Application models created",
			},
		),
		ArtifactsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_generated_total",
				Help:      "Generated artifacts, by artifact type",
			},
			[]string{"type"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Sessions without an end time at the last sweep",
			},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.EventsIngested,
		c.PatternsEmitted,
		c.RecognitionDuration,
		c.ModelsSynthesized,
		c.ArtifactsGenerated,
		c.ActiveSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the Prometheus registry for this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one finished request.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Ingested adds n to the ingestion counter for result
// ("accepted", "rejected" or "duplicate").
func (c *Collector) Ingested(result string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.EventsIngested.WithLabelValues(result).Add(float64(n))
}

// Recognized records one recognition run and the types it emitted.
func (c *Collector) Recognized(elapsed time.Duration, patternTypes []string) {
	if c == nil {
		return
	}
	c.RecognitionDuration.Observe(elapsed.Seconds())
	for _, t := range patternTypes {
		c.PatternsEmitted.WithLabelValues(t).Inc()
	}
}

func (c *Collector) Synthesized() {
	if c == nil {
		return
	}
	c.ModelsSynthesized.Inc()
}

func (c *Collector) Generated(artifactType string) {
	if c == nil {
		return
	}
	c.ArtifactsGenerated.WithLabelValues(artifactType).Inc()
}

func (c *Collector) SetActiveSessions(n int) {
	if c == nil {
		return
	}
	c.ActiveSessions.Set(float64(n))
}
