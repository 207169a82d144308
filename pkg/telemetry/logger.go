package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/updohilo/updohilo/pkg/engine"
)

// Logger is a zerolog logger carrying run and node fields. Packages below
// the command layer take the zerolog.Logger returned by Zerolog, or find it
// with zerolog.Ctx.
type Logger struct {
	zlog   zerolog.Logger
	closer io.Closer
}

type loggerContextKey struct{}

// NewLogger opens cfg.Output and creates a logger writing to it.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	switch cfg.Output {
	case "", "stderr":
		return newLogger(os.Stderr, cfg, nil), nil
	case "stdout":
		return newLogger(os.Stdout, cfg, nil), nil
	}

	file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return newLogger(file, cfg, file), nil
}

// NewWriterLogger creates a logger writing to w.
func NewWriterLogger(w io.Writer, cfg LoggingConfig) *Logger {
	return newLogger(w, cfg, nil)
}

func newLogger(w io.Writer, cfg LoggingConfig, closer io.Closer) *Logger {
	zerolog.TimeFieldFormat = timeFieldFormat(cfg.TimeFormat)

	if cfg.Format == FormatConsole {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			// Files get no escape codes.
			NoColor: closer != nil,
		}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.EnableCaller {
		zctx = zctx.Caller()
	}
	return &Logger{zlog: zctx.Logger(), closer: closer}
}

func timeFieldFormat(format string) string {
	switch format {
	case "unix":
		return zerolog.TimeFormatUnix
	case "unixms":
		return zerolog.TimeFormatUnixMs
	case "unixmicro":
		return zerolog.TimeFormatUnixMicro
	default:
		return time.RFC3339
	}
}

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// WithContext attaches the logger to ctx, under both the telemetry key and
// zerolog's own key.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, loggerContextKey{}, l)
	return l.zlog.WithContext(ctx)
}

// FromContext returns the logger attached to ctx, or one built around
// zerolog.Ctx when there is none.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zlog: *zerolog.Ctx(ctx)}
}

func (l *Logger) with(zctx zerolog.Context) *Logger {
	return &Logger{zlog: zctx.Logger(), closer: l.closer}
}

// NewComponentLogger adds a component field.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.with(l.zlog.With().Str("component", component))
}

// WithField adds one field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(l.zlog.With().Interface(key, value))
}

// WithFields adds several fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.with(l.zlog.With().Fields(fields))
}

// WithRunID adds the run_id field the engine logs under.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.with(l.zlog.With().Str("run_id", runID))
}

// WithNode adds node and node_kind fields.
func (l *Logger) WithNode(node string, kind engine.NodeKind) *Logger {
	return l.with(l.zlog.With().Str("node", node).Str("node_kind", string(kind)))
}

// WithError adds an error field.
func (l *Logger) WithError(err error) *Logger {
	return l.with(l.zlog.With().Err(err))
}

// LogExecution logs a finished node execution at info, or at warn when it failed.
func (l *Logger) LogExecution(exec engine.NodeExecution) {
	event := l.zlog.Info()
	if exec.Error != "" {
		event = l.zlog.Warn().Str("error", exec.Error)
	}
	event.
		Str("node", exec.Node).
		Str("node_kind", string(exec.Kind)).
		Int("iteration", exec.Iteration).
		Dur("duration", exec.Duration).
		Msg("Node finished")
}

// Debug logs msg at debug level.
func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...interface{}) { l.zlog.Debug().Msgf(format, args...) }

// Info logs msg at info level.
func (l *Logger) Info(msg string) { l.zlog.Info().Msg(msg) }

// Warn logs msg at warn level.
func (l *Logger) Warn(msg string) { l.zlog.Warn().Msg(msg) }

// Error logs msg at error level.
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...interface{}) { l.zlog.Error().Msgf(format, args...) }

// RunLogger is an engine.Observer that logs every node execution.
type RunLogger struct {
	logger *Logger
}

// NewRunLogger creates a run logger writing to zlog.
func NewRunLogger(zlog zerolog.Logger) *RunLogger {
	return &RunLogger{logger: &Logger{zlog: zlog}}
}

// RunStarted implements engine.Observer.
func (r *RunLogger) RunStarted(_ context.Context, state *engine.RunState) {
	if state == nil || state.Store == nil {
		return
	}
	r.logger.WithRunID(state.RunID).zlog.Debug().
		Strs("slots", state.Store.Keys()).
		Msg("Resource store seeded")
}

// NodeFinished implements engine.Observer.
func (r *RunLogger) NodeFinished(_ context.Context, runID string, exec engine.NodeExecution) {
	r.logger.WithRunID(runID).LogExecution(exec)
}

// RunFinished implements engine.Observer. The runner logs the outcome itself.
func (r *RunLogger) RunFinished(context.Context, *engine.RunResult) {}
