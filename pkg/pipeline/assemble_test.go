package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/updohilo/updohilo/pkg/config"
	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/stores"
	"github.com/updohilo/updohilo/pkg/telemetry"
)

func dryConfig() *config.PipelineConfig {
	cfg := config.DefaultPipelineConfig()
	cfg.Run.DryRun = true
	cfg.Run.Delay = config.Duration(time.Millisecond)
	cfg.Run.MaxRetries = -1
	return cfg
}

func assemble(t *testing.T, cfg *config.PipelineConfig, metrics *telemetry.Metrics) *Pipeline {
	t.Helper()
	p, err := Assemble(context.Background(), cfg, zerolog.Nop(), metrics)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	t.Cleanup(func() {
		if err := p.Close(context.Background()); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return p
}

func TestAssemble_FileRoot(t *testing.T) {
	root := t.TempDir()
	seeds := map[string]string{
		config.DefaultAnchor: "CC(=O)Oc1ccccc1C(=O)O",
		config.DefaultTarget: atoms("A", 20),
		config.DefaultBox:    atoms("B", 4),
	}
	for loc, content := range seeds {
		path := filepath.Join(root, filepath.FromSlash(loc))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.DefaultPipelineConfig()
	cfg.Transport.Root = root
	p := assemble(t, cfg, nil)

	result, err := p.Run(context.Background(), WithClock(func() time.Time { return fixedTime }))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Status != engine.RunStatusSucceeded {
		t.Errorf("Expected status succeeded, got %s", result.Status)
	}

	dir := filepath.Join(root, "ligandokreado", "1iep", "2025-03-04T05:06:07.089Z")
	for _, name := range []string{"candidate.smi", "docking", "pose"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s to be written: %v", name, err)
		}
	}
}

func TestAssemble_StarlarkPluginAndHistory(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "retry.star")
	if err := os.WriteFile(script, []byte("def combine(docking, pose):\n    return {\"retry-verdict\": True}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := dryConfig()
	cfg.Plugins = []config.PluginConfig{{Name: "always-retry", Kind: config.PluginStarlark, Path: script}}
	cfg.Morphisms.Evaluate = "always-retry"
	cfg.History.Path = stores.MemoryPath

	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatal(err)
	}
	p := assemble(t, cfg, metrics)

	result, err := p.Run(context.Background())
	if !engine.IsRetryLimit(err) {
		t.Fatalf("Expected retry limit error, got %v", err)
	}
	if result.Status != engine.RunStatusExhausted {
		t.Errorf("Expected status %s, got %s", engine.RunStatusExhausted, result.Status)
	}

	runs, err := p.History.ListRuns(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 recorded run, got %d", len(runs))
	}
	if runs[0].ID != result.RunID || runs[0].Status != engine.RunStatusExhausted {
		t.Errorf("Unexpected recorded run: %+v", runs[0])
	}
}

func TestAssemble_Policy(t *testing.T) {
	cfg := dryConfig()
	cfg.Policy.Enabled = true
	p := assemble(t, cfg, nil)

	if p.Policy == nil {
		t.Fatal("Expected a policy engine")
	}

	// Dry-run poses hold no coordinate records, which the built-in policy retries.
	result, err := p.Run(context.Background())
	if !engine.IsRetryLimit(err) {
		t.Fatalf("Expected retry limit error, got %v", err)
	}
	if v := result.Store[engine.KeyRetryVerdict].Value; v != true {
		t.Errorf("Expected a true verdict, got %v", v)
	}
}

func TestAssemble_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.PipelineConfig)
	}{
		{name: "missing plugin file", mutate: func(c *config.PipelineConfig) {
			c.Plugins = []config.PluginConfig{{Name: "x", Kind: config.PluginStarlark, Path: "/nonexistent/x.star"}}
		}},
		{name: "unknown plugin kind", mutate: func(c *config.PipelineConfig) {
			path := filepath.Join(t.TempDir(), "x.lua")
			_ = os.WriteFile(path, []byte("return 1"), 0o644)
			c.Plugins = []config.PluginConfig{{Name: "x", Kind: "lua", Path: path}}
		}},
		{name: "missing policy path", mutate: func(c *config.PipelineConfig) {
			c.Policy.Enabled = true
			c.Policy.Paths = []string{"/nonexistent/policies"}
		}},
		{name: "negative delay", mutate: func(c *config.PipelineConfig) {
			c.Run.Delay = config.Duration(-time.Second)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := dryConfig()
			tt.mutate(cfg)
			if p, err := Assemble(context.Background(), cfg, zerolog.Nop(), nil); err == nil {
				_ = p.Close(context.Background())
				t.Error("Expected error")
			}
		})
	}
}

func TestPipeline_Graph(t *testing.T) {
	p := assemble(t, dryConfig(), nil)

	g, err := p.Graph("out/candidate.smi")
	if err != nil {
		t.Fatalf("Graph failed: %v", err)
	}
	if len(g.Nodes()) != 6 {
		t.Errorf("Expected 6 nodes, got %d", len(g.Nodes()))
	}
}
