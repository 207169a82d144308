// Package morphisms holds the named strategy tables the pipeline nodes invoke:
// transports, intra-morphisms (pure single-resource transforms) and
// inter-morphisms (multi-resource combines). Entries are looked up by name so
// a pipeline definition can swap any of them without touching the engine.
package morphisms

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/pdb"
)

// Built-in entry names.
const (
	NameIdentity          = "identity"
	NameChunkPDB          = "chunk-pdb"
	NameGenerateCandidate = "generate-candidate"
	NameEvaluateDocking   = "evaluate-docking"
)

var (
	// ErrNotRegistered is returned when a lookup finds no entry.
	ErrNotRegistered = errors.New("not registered")

	// ErrAlreadyRegistered is returned when a name is registered twice.
	ErrAlreadyRegistered = errors.New("already registered")
)

// Registry is a set of named transports and morphisms. It is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]engine.Transport
	intra      map[string]engine.IntraMorphism
	inter      map[string]engine.InterMorphism
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		transports: make(map[string]engine.Transport),
		intra:      make(map[string]engine.IntraMorphism),
		inter:      make(map[string]engine.InterMorphism),
	}
}

// NewDefaultRegistry creates a registry holding the built-in morphisms.
// Transports are environment-specific and are not included.
func NewDefaultRegistry(chunkSize int) *Registry {
	r := NewRegistry()
	if chunkSize <= 0 {
		chunkSize = pdb.DefaultChunkSize
	}
	r.intra[NameIdentity] = Identity
	r.intra[NameChunkPDB] = ChunkPDB(chunkSize)
	r.inter[NameGenerateCandidate] = GenerateCandidate
	r.inter[NameEvaluateDocking] = EvaluateDocking
	return r
}

// RegisterTransport adds a named transport.
func (r *Registry) RegisterTransport(name string, t engine.Transport) error {
	if t == nil {
		return fmt.Errorf("transport %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return register(r.transports, "transport", name, t)
}

// RegisterIntra adds a named intra-morphism.
func (r *Registry) RegisterIntra(name string, fn engine.IntraMorphism) error {
	if fn == nil {
		return fmt.Errorf("intra-morphism %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return register(r.intra, "intra-morphism", name, fn)
}

// RegisterInter adds a named inter-morphism.
func (r *Registry) RegisterInter(name string, fn engine.InterMorphism) error {
	if fn == nil {
		return fmt.Errorf("inter-morphism %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return register(r.inter, "inter-morphism", name, fn)
}

// ReplaceInter swaps the inter-morphism registered under name, registering it
// if absent.
func (r *Registry) ReplaceInter(name string, fn engine.InterMorphism) error {
	if name == "" || fn == nil {
		return fmt.Errorf("inter-morphism requires a name and a function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inter[name] = fn
	return nil
}

// Transport looks up a transport.
func (r *Registry) Transport(name string) (engine.Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.transports, "transport", name)
}

// Intra looks up an intra-morphism.
func (r *Registry) Intra(name string) (engine.IntraMorphism, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.intra, "intra-morphism", name)
}

// Inter looks up an inter-morphism.
func (r *Registry) Inter(name string) (engine.InterMorphism, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.inter, "inter-morphism", name)
}

// Names lists the registered names per table, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"transport":      sortedKeys(r.transports),
		"intra-morphism": sortedKeys(r.intra),
		"inter-morphism": sortedKeys(r.inter),
	}
}

func register[T any](table map[string]T, kind, name string, v T) error {
	if name == "" {
		return fmt.Errorf("%s requires a name", kind)
	}
	if _, exists := table[name]; exists {
		return fmt.Errorf("%s %q: %w", kind, name, ErrAlreadyRegistered)
	}
	table[name] = v
	return nil
}

func lookup[T any](table map[string]T, kind, name string) (T, error) {
	v, ok := table[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %q: %w", kind, name, ErrNotRegistered)
	}
	return v, nil
}

func sortedKeys[T any](table map[string]T) []string {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
