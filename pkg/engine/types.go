package engine

import (
	"fmt"
	"time"
)

// NodeKind identifies the stage type of a node.
type NodeKind string

const (
	// NodeKindFetch retrieves slot content through a transport and transforms it.
	NodeKindFetch NodeKind = "fetch"

	// NodeKindCompute combines slot values through an inter-morphism.
	NodeKindCompute NodeKind = "compute"

	// NodeKindPublish stores slot values to destination locations.
	NodeKindPublish NodeKind = "publish"

	// NodeKindRemoteCompute combines slot values through a remote call.
	NodeKindRemoteCompute NodeKind = "remote_compute"
)

// Well-known slot keys of the default pipeline.
const (
	KeyAnchor       = "anchor"
	KeyTarget       = "target"
	KeyBox          = "box"
	KeyCandidate    = "candidate"
	KeyDocking      = "docking"
	KeyPose         = "pose"
	KeyRetryVerdict = "retry-verdict"
)

// Defaults applied by RunConfig.WithDefaults.
const (
	DefaultMaxRetries       = 3
	DefaultChunkSize        = 1000
	DefaultDryRunDelay      = time.Second
	DefaultTransportTimeout = 30 * time.Second
	DefaultRemoteTimeout    = 5 * time.Minute
	DefaultMaxParallel      = 4
)

// RunConfig carries execution-mode settings for a single run.
// None of these settings change the graph topology.
type RunConfig struct {
	// DryRun replaces transport I/O with simulated content.
	DryRun bool `json:"dry_run" yaml:"dry_run"`

	// Delay is the simulated latency of each transport call in dry-run mode.
	Delay time.Duration `json:"delay" yaml:"delay"`

	// MaxRetries bounds the number of times the retry edge may be taken.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// ChunkSize is the maximum number of records per coordinate chunk.
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`

	// TransportTimeout bounds every fetch and store call.
	TransportTimeout time.Duration `json:"transport_timeout" yaml:"transport_timeout"`

	// RemoteTimeout bounds every remote compute call.
	RemoteTimeout time.Duration `json:"remote_timeout" yaml:"remote_timeout"`

	// MaxParallel bounds concurrent units within a fetch or publish stage.
	MaxParallel int `json:"max_parallel" yaml:"max_parallel"`
}

// DefaultRunConfig returns a RunConfig with every field at its default.
func DefaultRunConfig() RunConfig {
	return RunConfig{}.WithDefaults()
}

// WithDefaults fills zero-valued fields with their defaults.
// A negative MaxRetries is kept; see RetryLimit.
func (c RunConfig) WithDefaults() RunConfig {
	if c.Delay == 0 {
		c.Delay = DefaultDryRunDelay
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.TransportTimeout <= 0 {
		c.TransportTimeout = DefaultTransportTimeout
	}
	if c.RemoteTimeout <= 0 {
		c.RemoteTimeout = DefaultRemoteTimeout
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = DefaultMaxParallel
	}
	return c
}

// RetryLimit returns the number of times the retry edge may be taken.
// A negative MaxRetries disables the retry edge.
func (c RunConfig) RetryLimit() int {
	if c.MaxRetries < 0 {
		return 0
	}
	return c.MaxRetries
}

// Validate checks the configuration for values that cannot be defaulted.
func (c RunConfig) Validate() error {
	if c.Delay < 0 {
		return NewInvalidError(fmt.Sprintf("delay must not be negative, got %s", c.Delay))
	}
	if c.ChunkSize < 0 {
		return NewInvalidError(fmt.Sprintf("chunk size must not be negative, got %d", c.ChunkSize))
	}
	return nil
}

// LogLevel is the severity of a run log message.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Message is a single entry of the run log.
type Message struct {
	// Time is when the message was recorded.
	Time time.Time `json:"time"`

	// Level is the message severity.
	Level LogLevel `json:"level"`

	// Node is the node that recorded the message, empty for engine messages.
	Node string `json:"node,omitempty" yaml:"node,omitempty"`

	// Text is the message body.
	Text string `json:"text"`
}

// RunState is the working state threaded through every node of a run.
type RunState struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// Store holds the resource slots. It is owned by this run only.
	Store *ResourceStore `json:"store"`

	// Log is the ordered run log.
	Log []Message `json:"log"`

	// Config is the run configuration.
	Config RunConfig `json:"config"`

	// Iteration counts how many times the retry edge has been taken.
	Iteration int `json:"iteration"`
}

// NewRunState creates a run state over the given store.
func NewRunState(runID string, store *ResourceStore, cfg RunConfig) *RunState {
	if store == nil {
		store = NewResourceStore(nil)
	}
	return &RunState{
		RunID:  runID,
		Store:  store,
		Config: cfg.WithDefaults(),
	}
}

// Logf appends a message to the run log.
func (s *RunState) Logf(level LogLevel, node, format string, args ...interface{}) {
	s.Log = append(s.Log, Message{
		Time:  time.Now(),
		Level: level,
		Node:  node,
		Text:  fmt.Sprintf(format, args...),
	})
}

// NodeExecution records one execution of a node within a run.
type NodeExecution struct {
	// Node is the node identifier.
	Node string `json:"node"`

	// Kind is the node kind.
	Kind NodeKind `json:"kind"`

	// Iteration is the retry iteration the node ran in.
	Iteration int `json:"iteration"`

	// StartedAt is when the node started.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the node ran.
	Duration time.Duration `json:"duration"`

	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`
}

// Failure describes why a run did not reach the terminal state.
type Failure struct {
	// Node is the node that failed, empty if the failure happened between nodes.
	Node string `json:"node,omitempty" yaml:"node,omitempty"`

	// Kind is the most specific error kind in the failure chain.
	Kind ErrorKind `json:"kind" yaml:"kind"`

	// Message is the full error message.
	Message string `json:"message" yaml:"message"`
}

// RunResult is the outcome of a pipeline run.
type RunResult struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// Status is the final run status.
	Status RunStatus `json:"status"`

	// Store is a snapshot of the resource slots when the run ended.
	Store map[string]ResourceItem `json:"store"`

	// Failure is set when the run did not succeed.
	Failure *Failure `json:"failure,omitempty"`

	// Iterations is the number of times the retry edge was taken.
	Iterations int `json:"iterations"`

	// Executions lists every node execution in order.
	Executions []NodeExecution `json:"executions"`

	// Log is the run log.
	Log []Message `json:"log"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run ended.
	CompletedAt time.Time `json:"completed_at"`
}

// Succeeded returns true if the run reached the terminal state.
func (r *RunResult) Succeeded() bool {
	return r != nil && r.Status == RunStatusSucceeded
}
