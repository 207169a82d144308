package morphisms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/pdb"
)

const (
	starlarkEntryPoint     = "combine"
	defaultStarlarkTimeout = 30 * time.Second
)

// StarlarkMorphism is an inter-morphism implemented by a Starlark script.
//
// The script defines combine(*inputs) and returns a dict of output values.
// Chunk sequences arrive as lists of structs with chain_id, start_residue,
// end_residue and content fields. Integers come back as int64.
type StarlarkMorphism struct {
	name    string
	fn      starlark.Callable
	timeout time.Duration
}

// NewStarlarkMorphism runs script once and binds its combine function.
// Globals are frozen afterwards, so calls cannot leak state into each other.
func NewStarlarkMorphism(name, script string, timeout time.Duration) (*StarlarkMorphism, error) {
	if timeout <= 0 {
		timeout = defaultStarlarkTimeout
	}

	thread := &starlark.Thread{Name: name, Print: func(*starlark.Thread, string) {}}
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	globals, err := starlark.ExecFile(thread, name+".star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("failed to load script %s: %w", name, err)
	}
	globals.Freeze()

	fn, ok := globals[starlarkEntryPoint].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("script %s must define a %s function", name, starlarkEntryPoint)
	}
	return &StarlarkMorphism{name: name, fn: fn, timeout: timeout}, nil
}

// Combine calls the script with inputs. The call is cancelled when ctx is
// done or the timeout passes.
func (m *StarlarkMorphism) Combine(ctx context.Context, inputs []any) (map[string]any, error) {
	logger := zerolog.Ctx(ctx).With().Str("script", m.name).Logger()

	args := make(starlark.Tuple, len(inputs))
	for i, in := range inputs {
		v, err := toStarlark(in)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		args[i] = v
	}

	thread := &starlark.Thread{
		Name: m.name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug().Str("output", msg).Msg("Starlark print")
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	stop := context.AfterFunc(callCtx, func() { thread.Cancel(context.Cause(callCtx).Error()) })
	defer stop()

	result, err := starlark.Call(thread, m.fn, args, nil)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("script %s: timeout after %v", m.name, m.timeout)
		}
		return nil, fmt.Errorf("script %s: %s failed: %w", m.name, starlarkEntryPoint, err)
	}

	dict, ok := result.(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("script %s: %s must return a dict, got %s", m.name, starlarkEntryPoint, result.Type())
	}
	out, err := fromStarlark(dict)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", m.name, err)
	}
	return out.(map[string]any), nil
}

// InterMorphism returns Combine as an engine.InterMorphism.
func (m *StarlarkMorphism) InterMorphism() engine.InterMorphism {
	return m.Combine
}

func toStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []byte:
		return starlark.String(val), nil
	case pdb.ChunkInfo:
		return chunkStruct(val), nil
	case pdb.Chunks:
		return listOf(val, func(c pdb.ChunkInfo) (starlark.Value, error) { return chunkStruct(c), nil })
	case []pdb.ChunkInfo:
		return listOf(val, func(c pdb.ChunkInfo) (starlark.Value, error) { return chunkStruct(c), nil })
	case []string:
		return listOf(val, func(s string) (starlark.Value, error) { return starlark.String(s), nil })
	case []any:
		return listOf(val, toStarlark)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			item, err := toStarlark(val[k])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), item); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}
	return nil, fmt.Errorf("unsupported input type %T", v)
}

func chunkStruct(c pdb.ChunkInfo) *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"chain_id":      starlark.String(c.ChainID),
		"start_residue": starlark.MakeInt(c.StartResidue),
		"end_residue":   starlark.MakeInt(c.EndResidue),
		"content":       starlark.String(c.Content),
	})
}

func listOf[T any](items []T, convert func(T) (starlark.Value, error)) (starlark.Value, error) {
	elems := make([]starlark.Value, len(items))
	for i, item := range items {
		v, err := convert(item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		elems[i] = v
	}
	return starlark.NewList(elems), nil
}

func fromStarlark(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s overflows int64", val)
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Indexable:
		// Lists and tuples.
		out := make([]any, val.Len())
		for i := range out {
			item, err := fromStarlark(val.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, kv := range val.Items() {
			key, ok := kv[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", kv[0])
			}
			item, err := fromStarlark(kv[1])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", string(key), err)
			}
			out[string(key)] = item
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			if out[name], err = fromStarlark(attr); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported starlark type %s", v.Type())
}
