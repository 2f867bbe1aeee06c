package telemetry

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the automation engine.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Provider metrics
	providerResolutions *prometheus.CounterVec
	providerDuration    *prometheus.HistogramVec
	providerErrors      *prometheus.CounterVec
	defaultFallbacks    *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Release metrics
	releaseBuilds  *prometheus.CounterVec
	releasesCached prometheus.Gauge

	// System metrics
	activeRuns prometheus.Gauge
	queuedRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of automation runs started",
			},
			[]string{"automation"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of automation runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of automation runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		providerResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_resolutions_total",
				Help:      "Total number of provider resolutions",
			},
			[]string{"provider", "outcome"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_resolution_duration_seconds",
				Help:      "Duration of provider resolutions in seconds",
				Buckets:   buckets,
			},
			[]string{"provider"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider resolution errors",
			},
			[]string{"provider", "code"},
		),
		defaultFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "default_fallbacks_total",
				Help:      "Total number of not-found lookups answered by a default value",
			},
			[]string{"provider"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		releaseBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "release_builds_total",
				Help:      "Total number of release compilations and builds",
			},
			[]string{"stage", "status"},
		),
		releasesCached: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "releases_cached",
				Help:      "Current number of compiled releases held in the cache",
			},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),
		queuedRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_runs",
				Help:      "Current number of runs waiting for a worker",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.providerResolutions,
		m.providerDuration,
		m.providerErrors,
		m.defaultFallbacks,
		m.errorsByClass,
		m.errorsByCode,
		m.releaseBuilds,
		m.releasesCached,
		m.activeRuns,
		m.queuedRuns,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(automationID string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(automationID).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Provider Metrics

// RecordProviderResolution records one resolution of the provider identified
// by schemaKey. code is empty on success.
func (m *Metrics) RecordProviderResolution(schemaKey, code string, duration time.Duration) {
	if m.providerResolutions == nil {
		return
	}
	outcome := "success"
	if code != "" {
		outcome = "error"
		m.providerErrors.WithLabelValues(schemaKey, code).Inc()
	}
	m.providerResolutions.WithLabelValues(schemaKey, outcome).Inc()
	m.providerDuration.WithLabelValues(schemaKey).Observe(duration.Seconds())
}

// RecordDefaultFallback records a not-found lookup converted to its default.
func (m *Metrics) RecordDefaultFallback(schemaKey string) {
	if m.defaultFallbacks == nil {
		return
	}
	m.defaultFallbacks.WithLabelValues(schemaKey).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Release Metrics

// RecordReleaseBuild records a release compile or build stage outcome.
func (m *Metrics) RecordReleaseBuild(stage, status string) {
	if m.releaseBuilds == nil {
		return
	}
	m.releaseBuilds.WithLabelValues(stage, status).Inc()
}

// SetReleasesCached sets the number of cached releases.
func (m *Metrics) SetReleasesCached(count float64) {
	if m.releasesCached == nil {
		return
	}
	m.releasesCached.Set(count)
}

// System Metrics

// SetQueuedRuns sets the current number of queued runs.
func (m *Metrics) SetQueuedRuns(count float64) {
	if m.queuedRuns == nil {
		return
	}
	m.queuedRuns.Set(count)
}

// Registry returns the registry metrics are registered with, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
		}
	}()

	return nil
}
