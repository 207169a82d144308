package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/updohilo/updohilo/pkg/engine"
)

// Metrics provides Prometheus metrics for pipeline runs. It implements
// engine.Observer for run and node events and transports.Observer for
// transport calls. A disabled Metrics accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	retries       prometheus.Counter
	activeRuns    prometheus.Gauge

	// Node metrics
	nodesExecuted *prometheus.CounterVec
	nodeDuration  *prometheus.HistogramVec

	// Transport metrics
	transportCalls    *prometheus.CounterVec
	transportBytes    *prometheus.CounterVec
	transportDuration *prometheus.HistogramVec
	transportErrors   *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of pipeline runs started",
			},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of pipeline runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of pipeline runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_iterations_total",
				Help:      "Total number of times a retry edge was taken",
			},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),

		nodesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nodes_executed_total",
				Help:      "Total number of node executions",
			},
			[]string{"node", "kind", "status"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Duration of node executions in seconds",
				Buckets:   buckets,
			},
			[]string{"node", "kind"},
		),

		transportCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_calls_total",
				Help:      "Total number of transport calls",
			},
			[]string{"scheme", "operation"},
		),
		transportBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_bytes_total",
				Help:      "Total number of bytes moved by transports",
			},
			[]string{"scheme", "operation"},
		),
		transportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transport_call_duration_seconds",
				Help:      "Duration of transport calls in seconds",
				Buckets:   buckets,
			},
			[]string{"scheme", "operation"},
		),
		transportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_errors_total",
				Help:      "Total number of failed transport calls",
			},
			[]string{"scheme", "operation"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_errors_total",
				Help:      "Total number of failed runs by error kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.retries,
		m.activeRuns,
		m.nodesExecuted,
		m.nodeDuration,
		m.transportCalls,
		m.transportBytes,
		m.transportDuration,
		m.transportErrors,
		m.errorsByKind,
	)

	return m, nil
}

// Enabled reports whether metrics are being collected.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// Registry returns the metrics registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RunStarted implements engine.Observer.
func (m *Metrics) RunStarted(_ context.Context, _ *engine.RunState) {
	if m.registry == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// NodeFinished implements engine.Observer.
func (m *Metrics) NodeFinished(_ context.Context, _ string, exec engine.NodeExecution) {
	if m.registry == nil {
		return
	}
	status := "succeeded"
	if exec.Error != "" {
		status = "failed"
	}
	m.nodesExecuted.WithLabelValues(exec.Node, string(exec.Kind), status).Inc()
	m.nodeDuration.WithLabelValues(exec.Node, string(exec.Kind)).Observe(exec.Duration.Seconds())
}

// RunFinished implements engine.Observer.
func (m *Metrics) RunFinished(_ context.Context, result *engine.RunResult) {
	if m.registry == nil || result == nil {
		return
	}
	status := string(result.Status)
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())
	m.retries.Add(float64(result.Iterations))
	m.activeRuns.Dec()
	if result.Failure != nil {
		m.errorsByKind.WithLabelValues(string(result.Failure.Kind)).Inc()
	}
}

// TransportCall implements transports.Observer.
func (m *Metrics) TransportCall(scheme, op string, bytes int, duration time.Duration, err error) {
	if m.registry == nil {
		return
	}
	m.transportCalls.WithLabelValues(scheme, op).Inc()
	m.transportDuration.WithLabelValues(scheme, op).Observe(duration.Seconds())
	if err != nil {
		m.transportErrors.WithLabelValues(scheme, op).Inc()
		return
	}
	m.transportBytes.WithLabelValues(scheme, op).Add(float64(bytes))
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

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. Server errors
// are logged, not returned.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) error {
	if m.registry == nil {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()

	logger.Info().Str("address", m.config.ListenAddress).Str("path", path).Msg("Metrics server started")
	return nil
}

// Shutdown stops the metrics server, if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
