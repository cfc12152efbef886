// Package telemetry provides observability instrumentation for WebPilot.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring and debugging workflow execution.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for progress and audit streams
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "webpilot"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with workflow-domain field
// helpers:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithRunID("run-123").WithWorkflow("checkout").WithPhase("login")
//	logger.Info("Phase started")
//	logger.WithError(err).Error("Step failed")
//
// Components that take a raw zerolog.Logger receive it via Zerolog():
//
//	eng := engine.New(backend, opts, tel.Logger.Zerolog(), tel.Metrics, tel.Events, tel.Tracer)
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into run structure and step latency:
//
//	ctx, span := tel.Tracer.StartWorkflowSpan(ctx, runID, workflowName)
//	defer span.End()
//
//	ctx, stepSpan := tel.Tracer.StartStepSpan(ctx, "login", "click")
//	defer stepSpan.End()
//
//	if err != nil {
//	    telemetry.RecordError(stepSpan, err)
//	}
//
// Supported exporters: OTLP/gRPC (production), stdout (development), none
// (testing).
//
// # Metrics
//
// Prometheus metrics track engine behavior:
//
//	tel.Metrics.RecordRunStarted("checkout")
//	tel.Metrics.RecordRunCompleted("success", duration)
//	tel.Metrics.RecordStep("click", "success", duration)
//	tel.Metrics.RecordSelectorPoll("wait")
//	tel.Metrics.RecordError("action_timeout", "TIMEOUT")
//
// Key metrics exposed:
//
//   - webpilot_runs_started_total{workflow}
//   - webpilot_runs_completed_total{status}
//   - webpilot_run_duration_seconds{status}
//   - webpilot_phases_executed_total{status}
//   - webpilot_steps_executed_total{action,status}
//   - webpilot_step_duration_seconds{action}
//   - webpilot_selector_polls_total{kind}
//   - webpilot_selector_exhaustions_total{kind}
//   - webpilot_auth_refreshes_total{outcome}
//   - webpilot_recovery_runs_total{trigger}
//   - webpilot_errors_by_class_total{class}
//   - webpilot_driver_calls_total{command}
//   - webpilot_active_runs
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics). All
// record methods are no-ops on a nil or disabled Metrics instance, so
// instrumented code never guards.
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering.
// Event type vocabularies are owned by the publishing component; the engine
// publishes workflow_started, phase_completed, step_failed, and the rest of
// its lifecycle types through the generic Event structure:
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("%s %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// Event filters: FilterByLevel, FilterByType, FilterByRunID,
// FilterByWorkflow, FilterByPhase.
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (console logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling, metrics on)
//	cfg := telemetry.ProductionConfig()
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("telemetry shutdown error: %v", err)
//	}
//
// This ensures all buffered events are delivered and all pending traces are
// exported.
//
// # Security Considerations
//
//   - Never log credential material; fill-step parameters may carry secrets
//     and must be masked before logging
//   - Use secure connections (TLS) for trace exporters in production
//   - Limit metrics endpoint access via network policies
package telemetry
