package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// ComputeConfig configures a compute stage.
type ComputeConfig struct {
	// InputKeys are read in order and passed positionally to Combine.
	InputKeys []string

	// OutputKeys must all be present in the mapping Combine returns.
	OutputKeys []string

	// Combine produces the output values.
	Combine InterMorphism
}

// ComputeNode combines slot values into new slot values in a single atomic step.
type ComputeNode struct {
	id  string
	cfg ComputeConfig
}

// NewComputeNode validates cfg and creates a compute stage.
func NewComputeNode(id string, cfg ComputeConfig) (*ComputeNode, error) {
	if id == "" {
		return nil, NewInvalidError("compute node requires an id")
	}
	if cfg.Combine == nil {
		return nil, NewInvalidError("compute node requires a combine function").WithNode(id)
	}
	if len(cfg.OutputKeys) == 0 {
		return nil, NewInvalidError("compute node requires at least one output key").WithNode(id)
	}
	if dup := firstDuplicate(cfg.OutputKeys); dup != "" {
		return nil, NewInvalidError("duplicate output key").WithNode(id).WithKey(dup)
	}

	return &ComputeNode{
		id: id,
		cfg: ComputeConfig{
			InputKeys:  append([]string(nil), cfg.InputKeys...),
			OutputKeys: append([]string(nil), cfg.OutputKeys...),
			Combine:    cfg.Combine,
		},
	}, nil
}

// ID returns the node identifier.
func (n *ComputeNode) ID() string { return n.id }

// Kind returns NodeKindCompute.
func (n *ComputeNode) Kind() NodeKind { return NodeKindCompute }

// OutputKeys returns the slots this stage writes.
func (n *ComputeNode) OutputKeys() []string { return n.cfg.OutputKeys }

// Execute reads the inputs, calls the combine function and writes every output.
// On any failure the store is left unchanged.
func (n *ComputeNode) Execute(ctx context.Context, state *RunState) (*RunState, error) {
	logger := zerolog.Ctx(ctx).With().Str("node", n.id).Logger()

	inputs, err := readInputs(state.Store, n.cfg.InputKeys)
	if err != nil {
		return state, NewNodeError(n.id, err)
	}

	outputs, err := n.cfg.Combine(ctx, inputs)
	if err != nil {
		return state, NewNodeError(n.id, err).WithCode(ErrCodeMorphismFailed)
	}

	if err := checkOutputs(outputs, n.cfg.OutputKeys); err != nil {
		return state, NewNodeError(n.id, err).WithCode(ErrCodeOutputMismatch)
	}

	for _, extra := range extraKeys(outputs, n.cfg.OutputKeys) {
		logger.Warn().Str("key", extra).Msg("Ignoring undeclared output")
		state.Logf(LogLevelWarn, n.id, "ignored undeclared output %q", extra)
	}

	for _, key := range n.cfg.OutputKeys {
		state.Store.Write(key, outputs[key])
	}
	state.Logf(LogLevelInfo, n.id, "computed %v", n.cfg.OutputKeys)

	return state, nil
}

// readInputs returns the values of keys in order.
func readInputs(store *ResourceStore, keys []string) ([]any, error) {
	inputs := make([]any, len(keys))
	for i, key := range keys {
		v, err := store.Value(key)
		if err != nil {
			return nil, err
		}
		inputs[i] = v
	}
	return inputs, nil
}

func checkOutputs(outputs map[string]any, keys []string) error {
	for _, key := range keys {
		if _, ok := outputs[key]; !ok {
			return fmt.Errorf("output %q missing from result", key)
		}
	}
	return nil
}

func extraKeys(outputs map[string]any, keys []string) []string {
	declared := make(map[string]bool, len(keys))
	for _, key := range keys {
		declared[key] = true
	}
	var extra []string
	for key := range outputs {
		if !declared[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	return extra
}

func firstDuplicate(keys []string) string {
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			return key
		}
		seen[key] = true
	}
	return ""
}
