// Package telemetry provides the observability stack of the pipeline runner:
// structured logging (zerolog), tracing (OpenTelemetry) and metrics
// (Prometheus).
//
// # Usage
//
// Initialize telemetry at startup and put it on the context:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Enabled = true
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Config.ApplyEnv reads UPDOHILO_LOG_LEVEL, UPDOHILO_LOG_FORMAT and the
// standard OTEL_ variables. Setting OTEL_EXPORTER_OTLP_ENDPOINT turns on OTLP
// tracing.
//
// Each CLI command runs inside StartCommand, which opens a "cli.<command>"
// span and a logger carrying the command name and trace ID:
//
//	cmd := telemetry.StartCommand(ctx, "run")
//	err := execute(cmd.Ctx)
//	cmd.End(err)
//
// The logger is attached with zerolog's own context key as well, so packages
// that only import zerolog find it with zerolog.Ctx.
//
// # Metrics
//
// Metrics implements engine.Observer and transports.Observer. Register it on
// the runner and wrap transports with it:
//
//	runner, err := engine.NewRunner(graph, engine.WithObserver(tel.Metrics))
//	mux.Handle("file", transports.Instrument(fs.New(""), tel.Metrics))
//
// Collected series, under the configured namespace:
//
//   - runs_started_total, runs_completed_total{status}, run_duration_seconds{status}
//   - retry_iterations_total, active_runs, run_errors_total{kind}
//   - nodes_executed_total{node,kind,status}, node_duration_seconds{node,kind}
//   - transport_calls_total, transport_bytes_total, transport_errors_total and
//     transport_call_duration_seconds, all by {scheme,operation}
//
// RunLogger is the logging counterpart: an engine.Observer that writes one
// entry per node execution, at warn level when the node failed.
//
// # Tracing
//
// NewTracer installs the global tracer provider. The engine opens one span per
// run and one per node execution through it. Exporters: stdout, otlp (gRPC)
// and none.
package telemetry
