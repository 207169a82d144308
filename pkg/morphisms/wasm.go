package morphisms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/updohilo/updohilo/pkg/engine"
)

// WASMConfig configures a WASM inter-morphism.
type WASMConfig struct {
	// Timeout bounds each call.
	Timeout time.Duration

	// MemoryLimitPages caps linear memory (64KiB pages).
	MemoryLimitPages uint32
}

// WASMMorphism is an inter-morphism implemented by a WASM reactor module,
// for Go a GOOS=wasip1 build with -buildmode=c-shared. Command modules that
// export _start are rejected.
//
// The module must export memory, malloc(size u32) -> u32, free(ptr u32) and
// combine(ptr u32, len u32) -> u64. combine receives the inputs as a JSON
// array and returns (ptr << 32 | len) of a JSON object, either
// {"outputs": {...}} or {"error": "..."}.
type WASMMorphism struct {
	runtime wazero.Runtime
	module  api.Module
	memory  api.Memory
	malloc  api.Function
	free    api.Function
	combine api.Function
	timeout time.Duration

	// mu serializes calls; a module instance has a single linear memory.
	mu sync.Mutex
}

type wasmResult struct {
	Outputs map[string]any `json:"outputs"`
	Error   string         `json:"error"`
}

// NewWASMMorphism compiles and instantiates wasmModule.
func NewWASMMorphism(ctx context.Context, wasmModule []byte, cfg WASMConfig) (*WASMMorphism, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = 256 // 16MB
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmModule)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}
	if err := checkReactor(compiled); err != nil {
		runtime.Close(ctx)
		return nil, err
	}

	// A reactor's _initialize sets up its runtime and returns; modules
	// without one start nothing.
	moduleConfig := wazero.NewModuleConfig().WithStartFunctions("_initialize")
	module, err := runtime.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}
	if module.IsClosed() {
		runtime.Close(ctx)
		return nil, fmt.Errorf("WASM module exited during start: %w", errNotReactor)
	}

	m := &WASMMorphism{
		runtime: runtime,
		module:  module,
		timeout: cfg.Timeout,
	}
	if err := m.bind(); err != nil {
		module.Close(ctx)
		runtime.Close(ctx)
		return nil, err
	}
	return m, nil
}

var errNotReactor = errors.New("build it as a reactor with -buildmode=c-shared")

// checkReactor rejects command modules. A command exports _start and exits
// when it returns, closing the module before combine can be called.
func checkReactor(compiled wazero.CompiledModule) error {
	exports := compiled.ExportedFunctions()
	_, start := exports["_start"]
	_, initialize := exports["_initialize"]
	if start && !initialize {
		return fmt.Errorf("WASM module is a command that exits after _start: %w", errNotReactor)
	}
	return nil
}

func (m *WASMMorphism) bind() error {
	m.memory = m.module.Memory()
	if m.memory == nil {
		return fmt.Errorf("WASM module does not export memory")
	}

	m.malloc = m.module.ExportedFunction("malloc")
	if m.malloc == nil {
		return fmt.Errorf("WASM module does not export malloc function")
	}

	m.free = m.module.ExportedFunction("free")
	if m.free == nil {
		return fmt.Errorf("WASM module does not export free function")
	}

	m.combine = m.module.ExportedFunction("combine")
	if m.combine == nil {
		return fmt.Errorf("WASM module does not export combine function")
	}
	return nil
}

// Combine sends inputs to the module's combine export.
func (m *WASMMorphism) Combine(ctx context.Context, inputs []any) (map[string]any, error) {
	input, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inputs: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.Lock()
	output, err := m.call(ctx, input)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("combine failed: %w", err)
	}

	var result wasmResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("combine error: %s", result.Error)
	}
	if result.Outputs == nil {
		result.Outputs = map[string]any{}
	}
	return result.Outputs, nil
}

// InterMorphism returns Combine as an engine.InterMorphism.
func (m *WASMMorphism) InterMorphism() engine.InterMorphism {
	return m.Combine
}

// call writes input into module memory, invokes combine and reads the packed result.
func (m *WASMMorphism) call(ctx context.Context, input []byte) ([]byte, error) {
	var inputPtr, inputLen uint32
	if len(input) > 0 {
		results, err := m.malloc.Call(ctx, uint64(len(input)))
		if err != nil {
			return nil, fmt.Errorf("failed to allocate WASM memory: %w", err)
		}
		if len(results) == 0 {
			return nil, fmt.Errorf("malloc returned no results")
		}
		inputPtr = uint32(results[0])
		inputLen = uint32(len(input))
		defer m.free.Call(ctx, uint64(inputPtr))

		if !m.memory.Write(inputPtr, input) {
			return nil, fmt.Errorf("failed to write input to WASM memory")
		}
	}

	// Return value is (output_ptr << 32) | output_len
	results, err := m.combine.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("WASM function call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("WASM function returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)
	if outputLen == 0 {
		return []byte("{}"), nil
	}

	output, ok := m.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from WASM memory")
	}
	// Read returns a view into memory; copy before freeing.
	out := append([]byte(nil), output...)
	_, _ = m.free.Call(ctx, uint64(outputPtr))

	return out, nil
}

// Close releases the module and runtime.
func (m *WASMMorphism) Close(ctx context.Context) error {
	if m.module != nil {
		if err := m.module.Close(ctx); err != nil {
			return fmt.Errorf("failed to close WASM module: %w", err)
		}
	}
	if m.runtime != nil {
		if err := m.runtime.Close(ctx); err != nil {
			return fmt.Errorf("failed to close WASM runtime: %w", err)
		}
	}
	return nil
}
