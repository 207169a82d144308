package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation. Each registered schema
// is a closed definition such as #Pipeline. CUE values are not safe for
// concurrent use, so every evaluation holds mu.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// Built-in schema names.
const (
	SchemaPipeline = "pipeline"
	SchemaPlugin   = "plugin"
)

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	// The built-ins are compile-checked by the package tests.
	_ = sr.RegisterSchema(SchemaPipeline, builtinPipelineSchema, "#Pipeline")
	_ = sr.RegisterSchema(SchemaPlugin, builtinPipelineSchema, "#Plugin")
}

// RegisterSchema compiles source and registers the definition def under name.
func (sr *SchemaRegistry) RegisterSchema(name, source, def string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	defVal := val.LookupPath(cue.ParsePath(def))
	if !defVal.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, def)
	}
	if err := defVal.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = defVal
	return nil
}

// GetSchema retrieves a schema definition by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// unify unifies val with the named schema and checks the result is
// concrete. The caller holds mu.
func (sr *SchemaRegistry) unify(name string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.schemas[name]
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", name)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// Export compiles CUE (or JSON) source, validates it against the named
// schema and returns its JSON form. CUE errors are returned unwrapped so
// callers can read their positions.
func (sr *SchemaRegistry) Export(schemaName string, src []byte, filename string) ([]byte, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, err
	}

	unified, err := sr.unify(schemaName, val)
	if err != nil {
		return nil, err
	}
	return unified.MarshalJSON()
}

// ValidateAgainstSchema validates data against a named schema. data is
// converted through its JSON form, so json tags define the field names.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if _, err := sr.Export(schemaName, raw, schemaName+".json"); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidatePipeline validates a pipeline configuration against the pipeline schema.
func (sr *SchemaRegistry) ValidatePipeline(ctx context.Context, cfg *PipelineConfig) error {
	return sr.ValidateAgainstSchema(ctx, SchemaPipeline, cfg)
}

// ValidatePlugin validates a plugin entry against the plugin schema.
func (sr *SchemaRegistry) ValidatePlugin(ctx context.Context, plugin PluginConfig) error {
	return sr.ValidateAgainstSchema(ctx, SchemaPlugin, plugin)
}

const builtinPipelineSchema = `
// Go duration strings such as "500ms", "1s" or "1h30m".
#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

// Locations are bare paths or scheme URLs.
#Location: string & !=""

#Plugin: {
	name:     string & =~"^[a-zA-Z0-9_.-]+$"
	kind:     "starlark" | "wasm"
	path:     string & !=""
	timeout?: #Duration
}

#SFTP: {
	host:                      string & !=""
	port?:                     int & >=0 & <=65535
	user:                      string & !=""
	auth_method?:              "" | "password" | "key"
	private_key_path?:         string
	known_hosts_path?:         string
	strict_host_key_checking?: bool
	connection_timeout?:       int & >=0
	root?:                     string
}

#Pipeline: {
	name?: string & =~"^[a-zA-Z0-9_.-]+$"

	seeds?: {
		anchor?:    #Location
		target?:    #Location
		box?:       #Location
		candidate?: string
	}

	run?: {
		dry_run?:           bool
		delay?:             #Duration
		max_retries?:       int & >=-1
		chunk_size?:        int & >=0
		transport_timeout?: #Duration
		remote_timeout?:    #Duration
		max_parallel?:      int & >=0
	}

	transport?: {
		base?:          string
		root?:          string
		http_headers?:  {[string]: string}
		max_body_size?: int & >=0
		sftp?:          #SFTP
	}

	remote?: {
		endpoint?: "" | =~"^https?://"
		token?:    string
	}

	morphisms?: {
		anchor?:   string & !=""
		target?:   string & !=""
		box?:      string & !=""
		generate?: string & !=""
		evaluate?: string & !=""
	}

	plugins?: [...#Plugin]

	policy?: {
		enabled?:   bool
		paths?:     [...string]
		threshold?: number
		watch?:     bool
	}

	history?: {
		path?: string
	}
}
`
