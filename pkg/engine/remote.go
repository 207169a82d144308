package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// RemoteOutput selects where a remote compute stage writes its result.
// It is either an OutputSlot or an OutputDirectory.
type RemoteOutput interface {
	keys() []string
}

// OutputSlot writes the remote result into a single slot.
type OutputSlot struct {
	Key string
}

func (o OutputSlot) keys() []string { return []string{o.Key} }

// OutputDirectory writes one slot per key, each located at Dir/<key>
// unless the remote side reports a location. When BesideKey is set, Dir is
// the directory of that slot's location at execution time.
type OutputDirectory struct {
	Dir       string
	BesideKey string
	Keys      []string
}

// resolveDir returns the output directory for the current store.
func (o OutputDirectory) resolveDir(store *ResourceStore) (string, error) {
	if o.BesideKey == "" {
		return o.Dir, nil
	}
	loc, err := store.Location(o.BesideKey)
	if err != nil {
		return "", err
	}
	if loc == "" {
		return "", NewMissingResourceError(o.BesideKey)
	}
	return LocationDir(loc), nil
}

func (o OutputDirectory) keys() []string { return o.Keys }

// RemoteComputeConfig configures a remote compute stage.
type RemoteComputeConfig struct {
	// InputKeys are the slots sent to the remote side.
	InputKeys []string

	// Output selects the output slot or directory.
	Output RemoteOutput

	// Remote performs the call.
	Remote RemoteCompute
}

// RemoteComputeNode combines slot values through a remote call in a single atomic step.
type RemoteComputeNode struct {
	id  string
	cfg RemoteComputeConfig
}

// NewRemoteComputeNode validates cfg and creates a remote compute stage.
func NewRemoteComputeNode(id string, cfg RemoteComputeConfig) (*RemoteComputeNode, error) {
	if id == "" {
		return nil, NewInvalidError("remote compute node requires an id")
	}
	if cfg.Remote == nil {
		return nil, NewInvalidError("remote compute node requires a remote").WithNode(id)
	}

	switch out := cfg.Output.(type) {
	case OutputSlot:
		if out.Key == "" {
			return nil, NewInvalidError("output slot requires a key").WithNode(id)
		}
	case OutputDirectory:
		if (out.Dir == "" && out.BesideKey == "") || len(out.Keys) == 0 {
			return nil, NewInvalidError("output directory requires a dir and keys").WithNode(id)
		}
		if dup := firstDuplicate(out.Keys); dup != "" {
			return nil, NewInvalidError("duplicate output key").WithNode(id).WithKey(dup)
		}
	default:
		return nil, NewInvalidError("remote compute node requires an output slot or directory").WithNode(id)
	}

	return &RemoteComputeNode{id: id, cfg: cfg}, nil
}

// ID returns the node identifier.
func (n *RemoteComputeNode) ID() string { return n.id }

// Kind returns NodeKindRemoteCompute.
func (n *RemoteComputeNode) Kind() NodeKind { return NodeKindRemoteCompute }

// Execute sends the inputs to the remote side and writes the returned artifacts.
// On any failure the store is left unchanged.
func (n *RemoteComputeNode) Execute(ctx context.Context, state *RunState) (*RunState, error) {
	logger := zerolog.Ctx(ctx).With().Str("node", n.id).Logger()

	req := RemoteRequest{
		RunID:      state.RunID,
		Node:       n.id,
		InputKeys:  n.cfg.InputKeys,
		Inputs:     make(map[string]any, len(n.cfg.InputKeys)),
		Locations:  make(map[string]string, len(n.cfg.InputKeys)),
		OutputKeys: n.cfg.Output.keys(),
	}
	if out, ok := n.cfg.Output.(OutputDirectory); ok {
		dir, err := out.resolveDir(state.Store)
		if err != nil {
			return state, NewNodeError(n.id, err)
		}
		req.OutputDir = dir
	}
	for _, key := range n.cfg.InputKeys {
		v, err := state.Store.Value(key)
		if err != nil {
			return state, NewNodeError(n.id, err)
		}
		item, _ := state.Store.Get(key)
		req.Inputs[key] = v
		req.Locations[key] = item.Location
	}

	resp, err := callWithTimeout(ctx, state.Config.RemoteTimeout, func(ctx context.Context) (*RemoteResponse, error) {
		return n.cfg.Remote.Compute(ctx, req)
	})
	if err != nil {
		return state, NewNodeError(n.id, classifyRemoteError(err, state.Config))
	}
	if resp == nil {
		return state, NewNodeError(n.id, NewRemoteComputeError("remote returned no response", nil))
	}

	switch out := n.cfg.Output.(type) {
	case OutputSlot:
		v, ok := resp.Artifacts[out.Key]
		if !ok && len(resp.Artifacts) == 1 {
			for _, only := range resp.Artifacts {
				v, ok = only, true
			}
		}
		if !ok {
			return state, NewNodeError(n.id, NewRemoteComputeError("remote result missing output", nil).WithKey(out.Key)).
				WithCode(ErrCodeOutputMismatch)
		}
		state.Store.Write(out.Key, v)
		if loc := resp.Locations[out.Key]; loc != "" {
			state.Store.Declare(out.Key, loc)
		}

	case OutputDirectory:
		if err := checkOutputs(resp.Artifacts, out.Keys); err != nil {
			return state, NewNodeError(n.id, NewRemoteComputeError("remote result incomplete", err)).
				WithCode(ErrCodeOutputMismatch)
		}
		for _, key := range out.Keys {
			state.Store.Write(key, resp.Artifacts[key])
			loc := resp.Locations[key]
			if loc == "" {
				loc = JoinLocation(req.OutputDir, key)
			}
			state.Store.Declare(key, loc)
		}
	}

	logger.Debug().Strs("outputs", req.OutputKeys).Msg("Remote compute completed")
	state.Logf(LogLevelInfo, n.id, "remote computed %v", req.OutputKeys)
	return state, nil
}

func classifyRemoteError(err error, cfg RunConfig) *EngineError {
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.Kind == KindRemoteCompute {
		return engineErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRemoteComputeError(fmt.Sprintf("remote compute timed out after %s", cfg.RemoteTimeout), err).
			WithCode(ErrCodeTimeout)
	}
	return NewRemoteComputeError("remote compute failed", err)
}
