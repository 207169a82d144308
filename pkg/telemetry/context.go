package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer and metrics of one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry validates cfg and builds every component. Components built
// before a failure are released.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg)
	if err != nil {
		logger.Close()
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		tracer.Shutdown(context.Background())
		logger.Close()
		return nil, err
	}

	return &Telemetry{Logger: logger, Tracer: tracer, Metrics: metrics, Config: cfg}, nil
}

// WithContext attaches t and its logger to ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext returns the telemetry attached to ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryContextKey{}).(*Telemetry)
	return t
}

// StartMetricsServer serves the metrics endpoint when metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer(t.Logger.Zerolog())
}

// Shutdown flushes spans, stops the metrics server and closes the log file.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Tracer.Shutdown(ctx),
		t.Metrics.Shutdown(ctx),
		t.Logger.Close(),
	)
}

// Command is one traced CLI command. Ctx carries the command span and a
// logger with command and trace_id fields.
type Command struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartCommand opens the command span with the telemetry attached to ctx.
// Without telemetry the command gets a non-recording span and the context
// logger.
func StartCommand(ctx context.Context, name string, attrs ...attribute.KeyValue) *Command {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &Command{
			Ctx:    ctx,
			Span:   trace.SpanFromContext(ctx),
			Logger: FromContext(ctx).WithField("command", name),
			Timer:  NewTimer(),
		}
	}

	ctx, span := tel.Tracer.StartCommandSpan(ctx, name, attrs...)
	logger := tel.Logger.WithField("command", name)
	if id := TraceID(ctx); id != "" {
		logger = logger.WithField("trace_id", id)
	}

	return &Command{
		Ctx:    logger.WithContext(ctx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End records err on the span, logs the outcome at debug level and ends
// the span.
func (c *Command) End(err error) {
	event := c.Logger.zlog.Debug()
	if err != nil {
		RecordError(c.Span, err)
		event = event.Err(err)
	} else {
		RecordSuccess(c.Span)
	}
	event.Dur("duration", c.Timer.Duration()).Msg("Command finished")
	c.Span.End()
}
