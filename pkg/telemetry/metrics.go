package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

// Metrics provides Prometheus metrics for policy runs. A disabled Metrics
// is a no-op, so callers never branch on configuration.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Resource metrics
	resourcesQueried *prometheus.CounterVec
	resourcesMatched *prometheus.CounterVec

	// Action metrics
	actionResults *prometheus.CounterVec

	// Cloud API metrics
	apiRequests       *prometheus.CounterVec
	identityRefreshes prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of policy runs completed",
			},
			[]string{"policy", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of policy run execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"policy"},
		),
		resourcesQueried: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_queried_total",
				Help:      "Total resources enumerated per policy",
			},
			[]string{"policy"},
		),
		resourcesMatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_matched_total",
				Help:      "Total resources matched by filters per policy",
			},
			[]string{"policy"},
		),
		actionResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_results_total",
				Help:      "Per-resource action outcomes",
			},
			[]string{"policy", "action", "status"},
		),
		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Cloud API requests by service and outcome class",
			},
			[]string{"service", "class"},
		),
		identityRefreshes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identity_refreshes_total",
				Help:      "Identity cache invalidations triggered by stale-auth responses",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.runsCompleted,
		m.runDuration,
		m.resourcesQueried,
		m.resourcesMatched,
		m.actionResults,
		m.apiRequests,
		m.identityRefreshes,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordRun implements engine.MetricsRecorder.
func (m *Metrics) RecordRun(policy string, duration time.Duration, failed bool) {
	if m.registry == nil {
		return
	}
	status := "success"
	if failed {
		status = "failure"
	}
	m.runsCompleted.WithLabelValues(policy, status).Inc()
	m.runDuration.WithLabelValues(policy).Observe(duration.Seconds())
}

// RecordResources implements engine.MetricsRecorder.
func (m *Metrics) RecordResources(policy string, queried, matched int) {
	if m.registry == nil {
		return
	}
	m.resourcesQueried.WithLabelValues(policy).Add(float64(queried))
	m.resourcesMatched.WithLabelValues(policy).Add(float64(matched))
}

// RecordResult implements engine.MetricsRecorder.
func (m *Metrics) RecordResult(policy, action string, status engine.ResultStatus) {
	if m.registry == nil {
		return
	}
	m.actionResults.WithLabelValues(policy, action, string(status)).Inc()
}

// RecordAPIRequest counts one cloud API request per service and error class
// ("ok" for successes).
func (m *Metrics) RecordAPIRequest(service, class string) {
	if m.registry == nil {
		return
	}
	m.apiRequests.WithLabelValues(service, class).Inc()
}

// RecordIdentityRefresh counts one stale-auth identity refresh.
func (m *Metrics) RecordIdentityRefresh() {
	if m.registry == nil {
		return
	}
	m.identityRefreshes.Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartMetricsServer serves the metrics endpoint on the configured address.
// It blocks, so run it on its own goroutine.
func (m *Metrics) StartMetricsServer() error {
	if m.registry == nil || m.config.ListenAddress == "" {
		return nil
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	return http.ListenAndServe(m.config.ListenAddress, mux)
}
