package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Log formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Trace exporters. ExporterNone samples spans without exporting them.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Config configures the logging, tracing and metrics of one updohilo process.
type Config struct {
	// ServiceName is reported as the trace resource service.name.
	ServiceName string `json:"service_name" yaml:"service_name"`

	// ServiceVersion is the build version of the binary.
	ServiceVersion string `json:"service_version" yaml:"service_version"`

	// Environment is attached to every span, e.g. "lab" or "cluster".
	Environment string `json:"environment" yaml:"environment"`

	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error or fatal.
	Level string `json:"level" yaml:"level"`

	// Format is console or json.
	Format string `json:"format" yaml:"format"`

	// Output is stderr, stdout or a file path logs are appended to.
	Output string `json:"output" yaml:"output"`

	// EnableCaller adds file:line to every entry.
	EnableCaller bool `json:"enable_caller" yaml:"enable_caller"`

	// TimeFormat is rfc3339, unix, unixms or unixmicro.
	TimeFormat string `json:"time_format" yaml:"time_format"`
}

// TracingConfig configures the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Exporter is otlp, stdout or none.
	Exporter string `json:"exporter" yaml:"exporter"`

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// SamplingRate is the ratio of root runs that are sampled.
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate"`

	MaxExportBatchSize int           `json:"max_export_batch_size" yaml:"max_export_batch_size"`
	ExportTimeout      time.Duration `json:"export_timeout" yaml:"export_timeout"`

	// Headers are sent with every OTLP export.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Insecure disables TLS towards the collector.
	Insecure bool `json:"insecure" yaml:"insecure"`
}

// MetricsConfig configures the Prometheus registry and endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// ListenAddress is where the metrics endpoint is served.
	ListenAddress string `json:"listen_address" yaml:"listen_address"`

	// Path is the HTTP path of the endpoint.
	Path string `json:"path" yaml:"path"`

	// Namespace prefixes every series.
	Namespace string `json:"namespace" yaml:"namespace"`

	// DurationBuckets are the histogram buckets, in seconds, of run, node and
	// transport durations. Runs include dry-run delays and remote docking, so
	// the range reaches minutes.
	DurationBuckets []float64 `json:"duration_buckets,omitempty" yaml:"duration_buckets,omitempty"`
}

// DefaultConfig returns console logging at info level with tracing and the
// metrics endpoint off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "updohilo",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     FormatConsole,
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           ExporterStdout,
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "updohilo",
			DurationBuckets: []float64{
				0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
			},
		},
	}
}

// Environment variables read by ApplyEnv. The OTEL_ names follow the
// OpenTelemetry SDK conventions.
const (
	EnvLogLevel     = "UPDOHILO_LOG_LEVEL"
	EnvLogFormat    = "UPDOHILO_LOG_FORMAT"
	EnvEnvironment  = "UPDOHILO_ENVIRONMENT"
	EnvServiceName  = "OTEL_SERVICE_NAME"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvSamplerArg   = "OTEL_TRACES_SAMPLER_ARG"
)

// ApplyEnv overrides c from the environment. An OTLP endpoint turns tracing
// on with the otlp exporter.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		c.Logging.Format = v
	}
	if v, ok := lookup(EnvEnvironment); ok && v != "" {
		c.Environment = v
	}
	if v, ok := lookup(EnvServiceName); ok && v != "" {
		c.ServiceName = v
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok && v != "" {
		c.Tracing.Enabled = true
		c.Tracing.Exporter = ExporterOTLP
		c.Tracing.Endpoint = v
	}
	if v, ok := lookup(EnvSamplerArg); ok && v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvSamplerArg, err)
		}
		c.Tracing.SamplingRate = rate
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.ServiceVersion == "" {
		errs = append(errs, errors.New("service version is required"))
	}

	if level, err := zerolog.ParseLevel(c.Logging.Level); err != nil || level == zerolog.NoLevel {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	if c.Logging.Format != FormatConsole && c.Logging.Format != FormatJSON {
		errs = append(errs, fmt.Errorf("invalid log format %q: want %s or %s", c.Logging.Format, FormatConsole, FormatJSON))
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case ExporterOTLP:
			if c.Tracing.Endpoint == "" {
				errs = append(errs, errors.New("otlp exporter requires an endpoint"))
			}
		case ExporterStdout, ExporterNone:
		default:
			errs = append(errs, fmt.Errorf("invalid trace exporter %q", c.Tracing.Exporter))
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate must be between 0 and 1, got %g", c.Tracing.SamplingRate))
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		errs = append(errs, errors.New("metrics listen address is required when metrics are enabled"))
	}

	return errors.Join(errs...)
}
