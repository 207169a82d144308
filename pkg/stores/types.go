package stores

import (
	"context"
	"time"

	"github.com/updohilo/updohilo/pkg/engine"
)

// Run represents a recorded pipeline run
type Run struct {
	ID          string           `json:"id" yaml:"id"`
	Status      engine.RunStatus `json:"status" yaml:"status"`
	Config      string           `json:"config" yaml:"config"` // JSON blob
	Slots       string           `json:"slots" yaml:"slots"`   // JSON array of SlotRecord
	Iterations  int              `json:"iterations" yaml:"iterations"`
	FailedNode  *string          `json:"failed_node,omitempty" yaml:"failed_node,omitempty"`
	ErrorKind   *string          `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error       *string          `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" yaml:"updated_at"`
}

// SlotRecord is the persisted form of a resource slot. Values are not stored.
type SlotRecord struct {
	Key       string `json:"key" yaml:"key"`
	Location  string `json:"location" yaml:"location"`
	Populated bool   `json:"populated" yaml:"populated"`
}

// NodeExecution represents one recorded node execution
type NodeExecution struct {
	ID         int64           `json:"id" yaml:"id"`
	RunID      string          `json:"run_id" yaml:"run_id"`
	Seq        int             `json:"seq" yaml:"seq"`
	Node       string          `json:"node" yaml:"node"`
	Kind       engine.NodeKind `json:"kind" yaml:"kind"`
	Iteration  int             `json:"iteration" yaml:"iteration"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	DurationMS int64           `json:"duration_ms" yaml:"duration_ms"`
	Error      *string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Event represents an append-only run log entry
type Event struct {
	ID        int64           `json:"id" yaml:"id"`
	RunID     string          `json:"run_id" yaml:"run_id"`
	Level     engine.LogLevel `json:"level" yaml:"level"`
	Node      *string         `json:"node,omitempty" yaml:"node,omitempty"`
	Message   string          `json:"message" yaml:"message"`
	CreatedAt time.Time       `json:"created_at" yaml:"created_at"`
}

// RunDetail is a run with its executions and events.
type RunDetail struct {
	Run        *Run             `json:"run" yaml:"run"`
	Executions []*NodeExecution `json:"executions" yaml:"executions"`
	Events     []*Event         `json:"events" yaml:"events"`
}

// Store defines the interface for run history persistence
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Runs
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Node executions
	RecordNodeExecution(ctx context.Context, exec *NodeExecution) error
	ListNodeExecutions(ctx context.Context, runID string) ([]*NodeExecution, error)

	// Events
	AppendEvents(ctx context.Context, events []*Event) error
	ListEvents(ctx context.Context, runID string) ([]*Event, error)

	// Composite
	GetRunDetail(ctx context.Context, id string) (*RunDetail, error)
}
