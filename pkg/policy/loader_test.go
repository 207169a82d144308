package policy

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

const strictRego = `# Retry anything weaker than -9 kcal/mol.
# Ignores the configured threshold.
package updohilo.verdict.strict

import rego.v1

default retry := false

retry if input.docking.affinity > -9
`

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

func policyNames(policies []Policy) []string {
	names := make([]string, 0, len(policies))
	for _, p := range policies {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

func TestLoader_RegoFile(t *testing.T) {
	path := writePolicy(t, t.TempDir(), "whatever.rego", strictRego)

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "strict" {
		t.Errorf("Expected the package name, got %q", p.Name)
	}
	if p.Description != "Retry anything weaker than -9 kcal/mol. Ignores the configured threshold." {
		t.Errorf("Unexpected description %q", p.Description)
	}
	if !p.Enabled || p.Rego != strictRego {
		t.Errorf("Unexpected policy %+v", p)
	}
	if p.Metadata["package"] != "updohilo.verdict.strict" || p.Metadata["source"] != path {
		t.Errorf("Unexpected metadata %v", p.Metadata)
	}
}

func TestLoader_JSONFile(t *testing.T) {
	dir := t.TempDir()
	enabled := writePolicy(t, dir, "on.json", `{"name": "on", "rego": "package on\n\nretry := true\n"}`)
	disabled := writePolicy(t, dir, "off.json", `{"name": "off", "enabled": false, "rego": "package off\n\nretry := true\n"}`)

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{enabled, disabled})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	got := map[string]bool{}
	for _, p := range policies {
		got[p.Name] = p.Enabled
	}
	if diff := cmp.Diff(map[string]bool{"on": true, "off": false}, got); diff != "" {
		t.Errorf("Enabled mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_Directory(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "strict.rego", strictRego)
	writePolicy(t, dir, "nested/deeper/on.json", `{"name": "on", "rego": "package on\n\nretry := true\n"}`)
	writePolicy(t, dir, "broken.rego", "package broken\n\nretry := {\n")
	writePolicy(t, dir, "README.md", "not a policy")

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if diff := cmp.Diff([]string{"on", "strict"}, policyNames(policies)); diff != "" {
		t.Errorf("Policies mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		paths func() []string
	}{
		{name: "missing path", paths: func() []string { return []string{filepath.Join(dir, "missing")} }},
		{name: "unsupported file", paths: func() []string { return []string{writePolicy(t, dir, "policy.txt", strictRego)} }},
		{name: "rego syntax error", paths: func() []string { return []string{writePolicy(t, dir, "bad.rego", "package bad\n\nretry := {\n")} }},
		{name: "invalid json", paths: func() []string { return []string{writePolicy(t, dir, "bad.json", "{")} }},
		{name: "json without name", paths: func() []string { return []string{writePolicy(t, dir, "noname.json", `{"rego": "package x"}`)} }},
		{name: "json without rego", paths: func() []string { return []string{writePolicy(t, dir, "norego.json", `{"name": "x"}`)} }},
		{name: "duplicate names", paths: func() []string {
			return []string{
				writePolicy(t, dir, "a/strict.rego", strictRego),
				writePolicy(t, dir, "b/strict.rego", strictRego),
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), tt.paths()); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestLoader_Cache(t *testing.T) {
	path := writePolicy(t, t.TempDir(), "strict.rego", strictRego)
	loader := NewLoader(zerolog.Nop())

	if _, err := loader.LoadFromPaths(context.Background(), []string{path}); err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Fatalf("Expected 1 cached file, got %d", len(loader.cache))
	}

	// A changed file is parsed again even without a watcher.
	changed := strings.Replace(strictRego, "-9", "-10", 1) + "\n"
	writePolicy(t, filepath.Dir(path), "strict.rego", changed)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if policies[0].Rego != changed {
		t.Error("Expected the changed module")
	}

	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Errorf("Expected an empty cache, got %d", len(loader.cache))
	}
}

func TestLeadingComment(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{name: "single", src: "# Retry weak binders\npackage x", want: "Retry weak binders"},
		{name: "blank lines first", src: "\n\n## Heading\n#\n# body\npackage x", want: "Heading body"},
		{name: "stops at blank line", src: "# first\n\n# second\npackage x", want: "first"},
		{name: "none", src: "package x\n# late", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := leadingComment(tt.src); got != tt.want {
				t.Errorf("leadingComment() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWatchEngine_Reload(t *testing.T) {
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	dir := t.TempDir()
	path := writePolicy(t, dir, "always.rego", "package always\n\nimport rego.v1\n\ndefault retry := false\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := NewLoader(zerolog.Nop())
	if err := loader.WatchEngine(ctx, eng, []string{dir}); err != nil {
		t.Fatalf("WatchEngine failed: %v", err)
	}
	defer loader.StopWatching()

	writePolicy(t, dir, "always.rego", "package always\n\nimport rego.v1\n\nretry := true\n")

	input := VerdictInput{Pose: PoseSummary{Records: 10}, Threshold: DefaultThreshold}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		decision, err := eng.Verdict(ctx, input)
		if err == nil && decision.Retry && len(decision.Policies) == 1 && decision.Policies[0] == "always" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Engine was not reloaded from %s, policies: %v", path, policyNames(eng.ListPolicies()))
}

func TestWatchEngine_KeepsPoliciesOnBadReload(t *testing.T) {
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	dir := t.TempDir()
	path := writePolicy(t, dir, "strict.rego", strictRego)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := NewLoader(zerolog.Nop())
	if err := loader.WatchEngine(ctx, eng, []string{path}); err != nil {
		t.Fatalf("WatchEngine failed: %v", err)
	}

	writePolicy(t, dir, "strict.rego", "package updohilo.verdict.strict\n\nretry := {\n")
	time.Sleep(4 * reloadDebounce)

	if diff := cmp.Diff([]string{"strict"}, policyNames(eng.ListPolicies())); diff != "" {
		t.Errorf("Policies changed after a bad reload (-want +got):\n%s", diff)
	}
	if err := loader.StopWatching(); err != nil {
		t.Errorf("StopWatching failed: %v", err)
	}
	if err := loader.StopWatching(); err != nil {
		t.Errorf("Second StopWatching failed: %v", err)
	}
}

func TestWatch_MissingPath(t *testing.T) {
	err := NewLoader(zerolog.Nop()).Watch(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, func([]Policy) error { return nil })
	if err == nil {
		t.Error("Expected error for a missing path")
	}
}
