package morphisms

import (
	"context"
	"fmt"
	"reflect"

	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/pdb"
)

// Identity returns the content unchanged, as text.
func Identity(content []byte) (any, error) {
	return string(content), nil
}

// ChunkPDB returns an intra-morphism that segments coordinate records into
// pdb.Chunks of at most size records.
func ChunkPDB(size int) engine.IntraMorphism {
	return func(content []byte) (any, error) {
		return pdb.Chunk(string(content), size), nil
	}
}

// GenerateCandidate produces a candidate from an anchor and the target chunks.
// The anchor itself is the candidate until a real generator is plugged in.
func GenerateCandidate(_ context.Context, inputs []any) (map[string]any, error) {
	if err := RequireInputs(inputs, engine.KeyAnchor, engine.KeyTarget); err != nil {
		return nil, err
	}

	anchor, err := AsText(inputs[0])
	if err != nil {
		return nil, fmt.Errorf("anchor: %w", err)
	}

	return map[string]any{engine.KeyCandidate: anchor}, nil
}

// EvaluateDocking decides whether the pipeline should retry from candidate
// generation. It never asks for a retry until a real scorer is plugged in.
func EvaluateDocking(_ context.Context, inputs []any) (map[string]any, error) {
	if err := RequireInputs(inputs, engine.KeyDocking, engine.KeyPose); err != nil {
		return nil, err
	}
	return map[string]any{engine.KeyRetryVerdict: false}, nil
}

// RequireInputs fails with a MissingResource error naming the first input
// that is absent or empty.
func RequireInputs(inputs []any, names ...string) error {
	for i, name := range names {
		if i >= len(inputs) || IsEmpty(inputs[i]) {
			return engine.NewMissingResourceError(name)
		}
	}
	return nil
}

// IsEmpty reports whether v is nil or a zero-length string, slice or map.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return val == ""
	case []byte:
		return len(val) == 0
	case pdb.Chunks:
		return len(val) == 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// AsText converts a slot value holding text to a string.
func AsText(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case engine.Encoder:
		data, err := val.Encode()
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("expected text, got %T", v)
	}
}
