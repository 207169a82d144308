package config

import (
	"fmt"
	"time"

	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/transports/sftp"
)

// PipelineConfig is a pipeline definition loaded from a CUE or YAML file.
type PipelineConfig struct {
	// Name identifies the pipeline in logs and run history.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Seeds are the initial slot locations.
	Seeds SeedsConfig `json:"seeds" yaml:"seeds"`

	// Run holds the execution-mode settings.
	Run RunSettings `json:"run" yaml:"run"`

	// Transport configures how locations are resolved and reached.
	Transport TransportConfig `json:"transport" yaml:"transport"`

	// Remote configures the docking endpoint.
	Remote RemoteConfig `json:"remote" yaml:"remote"`

	// Morphisms names the registered morphisms each stage uses.
	Morphisms MorphismsConfig `json:"morphisms" yaml:"morphisms"`

	// Plugins are scripted inter-morphisms registered before the graph is built.
	Plugins []PluginConfig `json:"plugins,omitempty" yaml:"plugins,omitempty" validate:"dive"`

	// Policy configures the Rego retry verdict.
	Policy PolicyConfig `json:"policy" yaml:"policy"`

	// History configures run history persistence.
	History HistoryConfig `json:"history" yaml:"history"`
}

// SeedsConfig holds the seed locations of a run.
type SeedsConfig struct {
	// Anchor is the location of the anchor molecule.
	Anchor string `json:"anchor" yaml:"anchor" validate:"required"`

	// Target is the location of the target structure.
	Target string `json:"target" yaml:"target" validate:"required"`

	// Box is the location of the docking box.
	Box string `json:"box" yaml:"box" validate:"required"`

	// Candidate is where the generated candidate is published. Empty means a
	// fresh timestamped location per run.
	Candidate string `json:"candidate,omitempty" yaml:"candidate,omitempty"`
}

// RunSettings mirrors engine.RunConfig with file-friendly durations.
type RunSettings struct {
	DryRun           bool     `json:"dry_run" yaml:"dry_run"`
	Delay            Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
	MaxRetries       int      `json:"max_retries" yaml:"max_retries" validate:"gte=-1"`
	ChunkSize        int      `json:"chunk_size" yaml:"chunk_size" validate:"gte=0"`
	TransportTimeout Duration `json:"transport_timeout,omitempty" yaml:"transport_timeout,omitempty"`
	RemoteTimeout    Duration `json:"remote_timeout,omitempty" yaml:"remote_timeout,omitempty"`
	MaxParallel      int      `json:"max_parallel" yaml:"max_parallel" validate:"gte=0"`
}

// RunConfig converts the settings to an engine run configuration.
func (r RunSettings) RunConfig() engine.RunConfig {
	return engine.RunConfig{
		DryRun:           r.DryRun,
		Delay:            r.Delay.Duration(),
		MaxRetries:       r.MaxRetries,
		ChunkSize:        r.ChunkSize,
		TransportTimeout: r.TransportTimeout.Duration(),
		RemoteTimeout:    r.RemoteTimeout.Duration(),
		MaxParallel:      r.MaxParallel,
	}
}

// TransportConfig configures the transport mux.
type TransportConfig struct {
	// Base is joined to bare relative locations, e.g. "sftp://host/bucket".
	Base string `json:"base,omitempty" yaml:"base,omitempty"`

	// Root is the filesystem directory file locations resolve against.
	Root string `json:"root,omitempty" yaml:"root,omitempty"`

	// HTTPHeaders are sent with every HTTP transport request.
	HTTPHeaders map[string]string `json:"http_headers,omitempty" yaml:"http_headers,omitempty"`

	// MaxBodySize caps HTTP response bodies in bytes. Zero means the transport default.
	MaxBodySize int64 `json:"max_body_size,omitempty" yaml:"max_body_size,omitempty" validate:"gte=0"`

	// SFTP enables the sftp scheme.
	SFTP *sftp.Config `json:"sftp,omitempty" yaml:"sftp,omitempty"`
}

// RemoteConfig configures the docking endpoint.
type RemoteConfig struct {
	// Endpoint is the docking service URL. Empty selects the local stub.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" validate:"omitempty,url"`

	// Token is sent as a bearer token.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
}

// MorphismsConfig names the registered morphisms of the default topology.
type MorphismsConfig struct {
	Anchor   string `json:"anchor" yaml:"anchor" validate:"required"`
	Target   string `json:"target" yaml:"target" validate:"required"`
	Box      string `json:"box" yaml:"box" validate:"required"`
	Generate string `json:"generate" yaml:"generate" validate:"required"`
	Evaluate string `json:"evaluate" yaml:"evaluate" validate:"required"`
}

// Plugin kinds.
const (
	PluginStarlark = "starlark"
	PluginWASM     = "wasm"
)

// PluginConfig registers a scripted inter-morphism under Name.
type PluginConfig struct {
	Name    string   `json:"name" yaml:"name" validate:"required"`
	Kind    string   `json:"kind" yaml:"kind" validate:"required,oneof=starlark wasm"`
	Path    string   `json:"path" yaml:"path" validate:"required"`
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// PolicyConfig configures the Rego retry verdict. When enabled it replaces
// the evaluate morphism.
type PolicyConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Paths lists .rego or .json policy files or directories. Empty keeps
	// the built-in policies.
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`

	// Threshold is the affinity above which a candidate is retried.
	Threshold *float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`

	// Watch reloads the policies when their files change.
	Watch bool `json:"watch" yaml:"watch"`
}

// HistoryConfig configures run history persistence.
type HistoryConfig struct {
	// Path is the SQLite database file. Empty disables history.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty" yaml:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty" yaml:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty" yaml:"column,omitempty"`

	// Path is the field path of the error, e.g. "seeds.anchor".
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message" yaml:"message"`
}

// String formats the error as file:line:column: path: message.
func (e ValidationError) String() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", loc, e.Line, e.Column)
	}
	switch {
	case loc != "" && e.Path != "":
		return fmt.Sprintf("%s: %s: %s", loc, e.Path, e.Message)
	case loc != "":
		return fmt.Sprintf("%s: %s", loc, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is returned when a pipeline definition is invalid.
type ValidationErrors []ValidationError

// Error joins the individual errors.
func (ve ValidationErrors) Error() string {
	if len(ve) == 1 {
		return "invalid pipeline config: " + ve[0].String()
	}
	msg := fmt.Sprintf("invalid pipeline config: %d errors", len(ve))
	for _, e := range ve {
		msg += "\n  " + e.String()
	}
	return msg
}

// Duration is a time.Duration written as a Go duration string ("1s", "5m").
type Duration time.Duration

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}
