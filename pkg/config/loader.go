package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/updohilo/updohilo/pkg/transports"
	"github.com/updohilo/updohilo/pkg/transports/sftp"
)

// Supported pipeline definition formats.
const (
	FormatCUE  = "cue"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Loader parses and validates pipeline definitions.
type Loader struct {
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewLoader creates a new pipeline definition loader.
func NewLoader() *Loader {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Loader{
		schemas:   NewSchemaRegistry(),
		validator: v,
	}
}

// Schemas returns the schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// FormatOf returns the definition format implied by a file extension.
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported config format: %s", path)
	}
}

// LoadFile reads, parses and validates a pipeline definition. Unset fields
// keep the values of DefaultPipelineConfig.
func (l *Loader) LoadFile(ctx context.Context, path string) (*PipelineConfig, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := l.Parse(ctx, content, format, path)
	if err != nil {
		return nil, err
	}

	// Relative plugin and policy paths are relative to the definition file.
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse parses and validates a pipeline definition in the given format.
// filename is used in error positions only.
func (l *Loader) Parse(ctx context.Context, content []byte, format, filename string) (*PipelineConfig, error) {
	cfg := DefaultPipelineConfig()

	switch format {
	case FormatCUE, FormatJSON:
		raw, err := l.schemas.Export(SchemaPipeline, content, filename)
		if err != nil {
			return nil, convertCUEErrors(err)
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, ValidationErrors{{File: filename, Message: err.Error()}}
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && err != io.EOF {
			return nil, ValidationErrors{{File: filename, Message: err.Error()}}
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}

	cfg.applyDefaults()
	if err := l.Validate(ctx, cfg); err != nil {
		var ve ValidationErrors
		if asValidationErrors(err, &ve) {
			for i := range ve {
				if ve[i].File == "" {
					ve[i].File = filename
				}
			}
			return nil, ve
		}
		return nil, err
	}
	return cfg, nil
}

// Validate checks a configuration with struct tags, the CUE schema and the
// cross-field rules.
func (l *Loader) Validate(ctx context.Context, cfg *PipelineConfig) error {
	var errs ValidationErrors

	if err := l.validator.Struct(cfg); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				errs = append(errs, ValidationError{
					Path:    fieldPath(fe.Namespace()),
					Message: fieldMessage(fe),
				})
			}
		} else {
			return fmt.Errorf("failed to validate config: %w", err)
		}
	}

	if err := l.schemas.ValidatePipeline(ctx, cfg); err != nil {
		errs = append(errs, ValidationError{Message: err.Error()})
	}

	errs = append(errs, cfg.crossCheck()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// crossCheck validates rules that span fields.
func (cfg *PipelineConfig) crossCheck() ValidationErrors {
	var errs ValidationErrors

	seen := make(map[string]bool, len(cfg.Plugins))
	for i, p := range cfg.Plugins {
		if seen[p.Name] {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("plugins[%d].name", i),
				Message: fmt.Sprintf("duplicate plugin %q", p.Name),
			})
		}
		seen[p.Name] = true
	}

	locations := map[string]string{
		"transport.base": cfg.Transport.Base,
		"seeds.anchor":   cfg.Seeds.Anchor,
		"seeds.target":   cfg.Seeds.Target,
		"seeds.box":      cfg.Seeds.Box,
	}
	for _, path := range []string{"transport.base", "seeds.anchor", "seeds.target", "seeds.box"} {
		loc := locations[path]
		switch transports.Scheme(loc) {
		case "", transports.SchemeFile, transports.SchemeHTTP, transports.SchemeHTTPS, transports.SchemeMem:
		case transports.SchemeSFTP:
			if cfg.Transport.SFTP == nil {
				errs = append(errs, ValidationError{Path: path, Message: "sftp location requires transport.sftp"})
			}
		default:
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("unsupported location scheme %q", transports.Scheme(loc)),
			})
		}
	}

	if cfg.Transport.SFTP != nil && !cfg.Run.DryRun {
		if err := cfg.Transport.SFTP.Validate(); err != nil {
			errs = append(errs, ValidationError{Path: "transport.sftp", Message: err.Error()})
		}
	}

	if cfg.Policy.Watch && !cfg.Policy.Enabled {
		errs = append(errs, ValidationError{Path: "policy.watch", Message: "watch requires policy.enabled"})
	}
	if cfg.Policy.Watch && len(cfg.Policy.Paths) == 0 {
		errs = append(errs, ValidationError{Path: "policy.watch", Message: "watch requires policy.paths"})
	}

	return errs
}

// applyDefaults fills nested defaults that a definition file cannot express
// by omission.
func (cfg *PipelineConfig) applyDefaults() {
	if s := cfg.Transport.SFTP; s != nil {
		if s.Port == 0 {
			s.Port = 22
		}
		if s.AuthMethod == "" {
			s.AuthMethod = sftp.AuthMethodKey
		}
		if s.ConnectionTimeout == 0 {
			s.ConnectionTimeout = 30 * time.Second
		}
	}
}

func (cfg *PipelineConfig) resolvePaths(dir string) {
	for i := range cfg.Plugins {
		cfg.Plugins[i].Path = resolvePath(dir, cfg.Plugins[i].Path)
	}
	for i := range cfg.Policy.Paths {
		cfg.Policy.Paths[i] = resolvePath(dir, cfg.Policy.Paths[i])
	}
	if cfg.History.Path != "" && cfg.History.Path != ":memory:" {
		cfg.History.Path = resolvePath(dir, cfg.History.Path)
	}
}

func resolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// fieldPath turns a validator namespace such as "PipelineConfig.seeds.anchor"
// into "seeds.anchor".
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "url":
		return "must be a URL"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		format, args := e.Msg()
		ve := ValidationError{Message: fmt.Sprintf(format, args...)}

		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

func asValidationErrors(err error, target *ValidationErrors) bool {
	ve, ok := err.(ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}
