package engine

import (
	"context"
)

// Transport moves raw content to and from a location.
// Implementations must honor ctx deadlines; the engine bounds every call
// with RunConfig.TransportTimeout.
type Transport interface {
	// Fetch retrieves the content stored at location.
	Fetch(ctx context.Context, location string) ([]byte, error)

	// Store writes content to location.
	Store(ctx context.Context, content []byte, location string) error
}

// IntraMorphism is a pure transform of one resource's raw content.
// It must be deterministic and free of I/O so a stage can be re-executed safely.
type IntraMorphism func(content []byte) (any, error)

// InterMorphism combines resource values, given positionally in input-key
// order, into named output values. It may perform I/O.
type InterMorphism func(ctx context.Context, inputs []any) (map[string]any, error)

// RemoteRequest is the input of a remote compute call.
type RemoteRequest struct {
	// RunID identifies the calling run.
	RunID string `json:"run_id"`

	// Node is the calling node identifier.
	Node string `json:"node"`

	// InputKeys lists the input slot names in order.
	InputKeys []string `json:"input_keys"`

	// Inputs maps input slot names to their values.
	Inputs map[string]any `json:"inputs"`

	// Locations maps input slot names to their locations.
	Locations map[string]string `json:"locations"`

	// OutputDir is the directory the remote side should write into, if any.
	OutputDir string `json:"output_dir,omitempty"`

	// OutputKeys lists the artifacts the caller expects back.
	OutputKeys []string `json:"output_keys"`
}

// RemoteResponse is the result of a remote compute call.
type RemoteResponse struct {
	// Artifacts maps artifact names to their values.
	Artifacts map[string]any `json:"artifacts"`

	// Locations maps artifact names to where the remote side stored them, if it did.
	Locations map[string]string `json:"locations,omitempty"`
}

// RemoteCompute calls out to an external compute endpoint.
type RemoteCompute interface {
	Compute(ctx context.Context, req RemoteRequest) (*RemoteResponse, error)
}

// RemoteFunc adapts a function to the RemoteCompute interface.
type RemoteFunc func(ctx context.Context, req RemoteRequest) (*RemoteResponse, error)

// Compute calls f.
func (f RemoteFunc) Compute(ctx context.Context, req RemoteRequest) (*RemoteResponse, error) {
	return f(ctx, req)
}

// Node is a single pipeline stage.
type Node interface {
	// ID returns the node identifier, unique within a graph.
	ID() string

	// Kind returns the stage type.
	Kind() NodeKind

	// Execute runs the stage against the run state and returns the updated state.
	Execute(ctx context.Context, state *RunState) (*RunState, error)
}

// Encoder is implemented by slot values with a custom byte representation
// for publishing.
type Encoder interface {
	Encode() ([]byte, error)
}

// Observer receives run lifecycle notifications.
// Implementations must not block; errors are theirs to log.
type Observer interface {
	// RunStarted is called once before the first node executes.
	RunStarted(ctx context.Context, state *RunState)

	// NodeFinished is called after every node execution, successful or not.
	NodeFinished(ctx context.Context, runID string, exec NodeExecution)

	// RunFinished is called once with the final result.
	RunFinished(ctx context.Context, result *RunResult)
}

// Observers fans notifications out to several observers.
type Observers []Observer

// RunStarted notifies every observer.
func (o Observers) RunStarted(ctx context.Context, state *RunState) {
	for _, obs := range o {
		obs.RunStarted(ctx, state)
	}
}

// NodeFinished notifies every observer.
func (o Observers) NodeFinished(ctx context.Context, runID string, exec NodeExecution) {
	for _, obs := range o {
		obs.NodeFinished(ctx, runID, exec)
	}
}

// RunFinished notifies every observer.
func (o Observers) RunFinished(ctx context.Context, result *RunResult) {
	for _, obs := range o {
		obs.RunFinished(ctx, result)
	}
}
