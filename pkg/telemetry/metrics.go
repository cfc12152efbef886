package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for WebPilot. All record methods are
// safe on a nil receiver and on the no-op instance returned when metrics are
// disabled, so callers never need to guard.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Phase metrics
	phasesExecuted *prometheus.CounterVec
	phaseDuration  *prometheus.HistogramVec

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	// Selector poller metrics
	selectorPolls       *prometheus.CounterVec
	selectorExhaustions *prometheus.CounterVec

	// Guard metrics
	authRefreshes *prometheus.CounterVec

	// Recovery metrics
	recoveryRuns *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Driver metrics
	driverCalls    *prometheus.CounterVec
	driverErrors   *prometheus.CounterVec
	driverDuration *prometheus.HistogramVec

	// System metrics
	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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
				Help:      "Total number of workflow runs started",
			},
			[]string{"workflow"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of workflow runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of workflow runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		phasesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phases_executed_total",
				Help:      "Total number of phases executed",
			},
			[]string{"status"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of phase execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of steps executed",
			},
			[]string{"action", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step execution in seconds",
				Buckets:   buckets,
			},
			[]string{"action"},
		),

		selectorPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "selector_polls_total",
				Help:      "Total number of candidate selector probes",
			},
			[]string{"kind"},
		),
		selectorExhaustions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "selector_exhaustions_total",
				Help:      "Total number of locates that exhausted every candidate",
			},
			[]string{"kind"},
		),

		authRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_refreshes_total",
				Help:      "Total number of credential refresh attempts by outcome",
			},
			[]string{"outcome"},
		),

		recoveryRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_runs_total",
				Help:      "Total number of error recovery passes by trigger",
			},
			[]string{"trigger"},
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

		driverCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "driver_calls_total",
				Help:      "Total number of driver protocol commands sent",
			},
			[]string{"command"},
		),
		driverErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "driver_errors_total",
				Help:      "Total number of driver protocol command failures",
			},
			[]string{"command"},
		),
		driverDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "driver_call_duration_seconds",
				Help:      "Duration of driver protocol commands in seconds",
				Buckets:   buckets,
			},
			[]string{"command"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active workflow runs",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.phasesExecuted,
		m.phaseDuration,
		m.stepsExecuted,
		m.stepDuration,
		m.selectorPolls,
		m.selectorExhaustions,
		m.authRefreshes,
		m.recoveryRuns,
		m.errorsByClass,
		m.errorsByCode,
		m.driverCalls,
		m.driverErrors,
		m.driverDuration,
		m.activeRuns,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(workflow string) {
	if m == nil || m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(workflow).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Phase Metrics

// RecordPhase records an executed phase with its terminal status.
func (m *Metrics) RecordPhase(status string, duration time.Duration) {
	if m == nil || m.phasesExecuted == nil {
		return
	}
	m.phasesExecuted.WithLabelValues(status).Inc()
	m.phaseDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Step Metrics

// RecordStep records an executed step with its action and recorded status.
func (m *Metrics) RecordStep(action, status string, duration time.Duration) {
	if m == nil || m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(action, status).Inc()
	m.stepDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// Selector Metrics

// RecordSelectorPoll counts one candidate probe.
func (m *Metrics) RecordSelectorPoll(kind string) {
	if m == nil || m.selectorPolls == nil {
		return
	}
	m.selectorPolls.WithLabelValues(kind).Inc()
}

// RecordSelectorExhausted counts a locate that ran out of budget.
func (m *Metrics) RecordSelectorExhausted(kind string) {
	if m == nil || m.selectorExhaustions == nil {
		return
	}
	m.selectorExhaustions.WithLabelValues(kind).Inc()
}

// Guard Metrics

// RecordAuthRefresh counts a credential refresh attempt by outcome
// ("refreshed", "expired", "noop").
func (m *Metrics) RecordAuthRefresh(outcome string) {
	if m == nil || m.authRefreshes == nil {
		return
	}
	m.authRefreshes.WithLabelValues(outcome).Inc()
}

// Recovery Metrics

// RecordRecovery counts an error recovery pass by trigger
// ("suite_setup", "phases").
func (m *Metrics) RecordRecovery(trigger string) {
	if m == nil || m.recoveryRuns == nil {
		return
	}
	m.recoveryRuns.WithLabelValues(trigger).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Driver Metrics

// RecordDriverCall records a driver protocol command with its duration.
func (m *Metrics) RecordDriverCall(command string, duration time.Duration) {
	if m == nil || m.driverCalls == nil {
		return
	}
	m.driverCalls.WithLabelValues(command).Inc()
	m.driverDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordDriverError records a driver protocol command failure.
func (m *Metrics) RecordDriverError(command string) {
	if m == nil || m.driverErrors == nil {
		return
	}
	m.driverErrors.WithLabelValues(command).Inc()
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
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if m == nil || !m.config.Enabled {
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
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
