package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/updohilo/updohilo/pkg/engine"
)

func TestLoader_ParseCUE(t *testing.T) {
	src := `
name: "1iep-cue"
seeds: {
	target: "file:///data/target.pdb"
}
run: {
	max_retries: 5
	delay:       "250ms"
	remote_timeout: "1m"
}
policy: {
	enabled:   true
	threshold: -7.5
}
`
	cfg, err := NewLoader().Parse(context.Background(), []byte(src), FormatCUE, "pipeline.cue")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Name != "1iep-cue" {
		t.Errorf("Expected name 1iep-cue, got %s", cfg.Name)
	}
	if cfg.Seeds.Target != "file:///data/target.pdb" {
		t.Errorf("Expected overridden target, got %s", cfg.Seeds.Target)
	}
	if cfg.Seeds.Anchor != DefaultAnchor || cfg.Seeds.Box != DefaultBox {
		t.Errorf("Expected default anchor and box, got %+v", cfg.Seeds)
	}
	if cfg.Policy.Threshold == nil || *cfg.Policy.Threshold != -7.5 {
		t.Errorf("Expected threshold -7.5, got %v", cfg.Policy.Threshold)
	}

	want := engine.RunConfig{
		Delay:            250 * time.Millisecond,
		MaxRetries:       5,
		ChunkSize:        engine.DefaultChunkSize,
		TransportTimeout: engine.DefaultTransportTimeout,
		RemoteTimeout:    time.Minute,
		MaxParallel:      engine.DefaultMaxParallel,
	}
	if diff := cmp.Diff(want, cfg.Run.RunConfig()); diff != "" {
		t.Errorf("RunConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_ParseYAML(t *testing.T) {
	src := `
name: 1iep-yaml
run:
  dry_run: true
  delay: 10ms
  chunk_size: 50
plugins:
  - name: score
    kind: starlark
    path: score.star
    timeout: 2s
`
	cfg, err := NewLoader().Parse(context.Background(), []byte(src), FormatYAML, "pipeline.yaml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if !cfg.Run.DryRun || cfg.Run.ChunkSize != 50 || cfg.Run.Delay.Duration() != 10*time.Millisecond {
		t.Errorf("Unexpected run settings: %+v", cfg.Run)
	}
	if cfg.Run.MaxRetries != engine.DefaultMaxRetries {
		t.Errorf("Expected default max retries, got %d", cfg.Run.MaxRetries)
	}

	want := []PluginConfig{{Name: "score", Kind: PluginStarlark, Path: "score.star", Timeout: Duration(2 * time.Second)}}
	if diff := cmp.Diff(want, cfg.Plugins); diff != "" {
		t.Errorf("Plugins mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_ParseJSON(t *testing.T) {
	src := `{"name": "1iep-json", "remote": {"endpoint": "https://dock.example.com", "token": "t"}}`

	cfg, err := NewLoader().Parse(context.Background(), []byte(src), FormatJSON, "pipeline.json")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Remote.Endpoint != "https://dock.example.com" || cfg.Remote.Token != "t" {
		t.Errorf("Unexpected remote: %+v", cfg.Remote)
	}
	if cfg.Morphisms.Generate != "generate-candidate" {
		t.Errorf("Expected default generate morphism, got %s", cfg.Morphisms.Generate)
	}
}

func TestLoader_ParseEmpty(t *testing.T) {
	cfg, err := NewLoader().Parse(context.Background(), nil, FormatYAML, "empty.yaml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if diff := cmp.Diff(DefaultPipelineConfig(), cfg); diff != "" {
		t.Errorf("Expected defaults (-want +got):\n%s", diff)
	}
}

func TestLoader_ParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		src      string
		wantPath string
	}{
		{name: "cue unknown field", format: FormatCUE, src: `run: { bogus: 1 }`},
		{name: "cue bad duration", format: FormatCUE, src: `run: { delay: "soon" }`},
		{name: "cue syntax", format: FormatCUE, src: `run: {`},
		{name: "yaml unknown field", format: FormatYAML, src: "bogus: 1\n"},
		{name: "yaml bad duration", format: FormatYAML, src: "run:\n  delay: soon\n"},
		{name: "bad plugin kind", format: FormatYAML, src: "plugins:\n  - {name: x, kind: lua, path: x.lua}\n", wantPath: "plugins[0].kind"},
		{name: "duplicate plugin", format: FormatYAML, src: "plugins:\n  - {name: x, kind: wasm, path: a.wasm}\n  - {name: x, kind: wasm, path: b.wasm}\n", wantPath: "plugins[1].name"},
		{name: "sftp without config", format: FormatYAML, src: "seeds:\n  target: sftp://host/target.pdb\n", wantPath: "seeds.target"},
		{name: "unknown scheme", format: FormatYAML, src: "seeds:\n  box: s3://bucket/box.pdb\n", wantPath: "seeds.box"},
		{name: "watch without policy", format: FormatYAML, src: "policy:\n  watch: true\n  paths: [p.rego]\n", wantPath: "policy.watch"},
		{name: "sftp password missing", format: FormatYAML, src: "transport:\n  sftp: {host: h, user: u, auth_method: password}\n", wantPath: "transport.sftp"},
		{name: "missing name", format: FormatYAML, src: "name: \"\"\n", wantPath: "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().Parse(context.Background(), []byte(tt.src), tt.format, "bad."+tt.format)
			if err == nil {
				t.Fatal("Expected error")
			}

			var ve ValidationErrors
			if !errors.As(err, &ve) {
				t.Fatalf("Expected ValidationErrors, got %T: %v", err, err)
			}
			if tt.wantPath == "" {
				return
			}
			for _, e := range ve {
				if e.Path == tt.wantPath {
					if e.File != "bad."+tt.format {
						t.Errorf("Expected file name on error, got %q", e.File)
					}
					return
				}
			}
			t.Errorf("Expected an error at %s, got %v", tt.wantPath, err)
		})
	}
}

func TestLoader_SFTPDryRun(t *testing.T) {
	src := `
run:
  dry_run: true
seeds:
  target: sftp://h/target.pdb
transport:
  sftp: {host: h, user: u, auth_method: password}
`
	cfg, err := NewLoader().Parse(context.Background(), []byte(src), FormatYAML, "dry.yaml")
	if err != nil {
		t.Fatalf("Expected dry-run to skip sftp credential checks, got %v", err)
	}
	if cfg.Transport.SFTP.Port != 22 || cfg.Transport.SFTP.ConnectionTimeout != 30*time.Second {
		t.Errorf("Expected sftp defaults, got %+v", cfg.Transport.SFTP)
	}
}

func TestLoader_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.cue")
	src := `
name: "from-file"
plugins: [{name: "score", kind: "starlark", path: "plugins/score.star"}]
policy: {
	enabled: true
	paths: ["policies", "/etc/updohilo/extra.rego"]
}
history: path: "history.db"
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if got, want := cfg.Plugins[0].Path, filepath.Join(dir, "plugins/score.star"); got != want {
		t.Errorf("Expected plugin path %s, got %s", want, got)
	}
	wantPaths := []string{filepath.Join(dir, "policies"), "/etc/updohilo/extra.rego"}
	if diff := cmp.Diff(wantPaths, cfg.Policy.Paths); diff != "" {
		t.Errorf("Policy paths mismatch (-want +got):\n%s", diff)
	}
	if got, want := cfg.History.Path, filepath.Join(dir, "history.db"); got != want {
		t.Errorf("Expected history path %s, got %s", want, got)
	}

	if _, err := NewLoader().LoadFile(context.Background(), filepath.Join(dir, "pipeline.toml")); err == nil {
		t.Error("Expected error for unsupported format")
	}
	if _, err := NewLoader().LoadFile(context.Background(), filepath.Join(dir, "missing.cue")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestFormatOf(t *testing.T) {
	tests := map[string]string{
		"a.cue":  FormatCUE,
		"a.yaml": FormatYAML,
		"a.YML":  FormatYAML,
		"a.json": FormatJSON,
	}
	for path, want := range tests {
		got, err := FormatOf(path)
		if err != nil || got != want {
			t.Errorf("FormatOf(%s) = %s, %v; want %s", path, got, err, want)
		}
	}
	if _, err := FormatOf("a.txt"); err == nil {
		t.Error("Expected error for .txt")
	}
}

func TestValidationError_String(t *testing.T) {
	tests := []struct {
		err  ValidationError
		want string
	}{
		{ValidationError{File: "p.cue", Line: 3, Column: 5, Path: "run.delay", Message: "bad"}, "p.cue:3:5: run.delay: bad"},
		{ValidationError{File: "p.yaml", Message: "bad"}, "p.yaml: bad"},
		{ValidationError{Path: "name", Message: "is required"}, "name: is required"},
		{ValidationError{Message: "bad"}, "bad"},
	}
	for _, tt := range tests {
		if got := tt.err.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}

	multi := ValidationErrors{{Message: "a"}, {Message: "b"}}
	if !strings.Contains(multi.Error(), "2 errors") {
		t.Errorf("Expected error count, got %q", multi.Error())
	}
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1h30m")); err != nil {
		t.Fatal(err)
	}
	if d.Duration() != 90*time.Minute {
		t.Errorf("Expected 90m, got %v", d.Duration())
	}
	text, _ := d.MarshalText()
	if string(text) != "1h30m0s" {
		t.Errorf("Expected 1h30m0s, got %s", text)
	}
	if err := d.UnmarshalText([]byte("ninety")); err == nil {
		t.Error("Expected error for invalid duration")
	}
}
