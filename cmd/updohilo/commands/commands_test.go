package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/pdb"
	"github.com/updohilo/updohilo/pkg/stores"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand("test", "abc123", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func pdbFile(t *testing.T) string {
	var b strings.Builder
	for i, chain := range []string{"A", "A", "A", "B", "B"} {
		fmt.Fprintf(&b, "ATOM  %5d  CA  ALA %1s%4d    %8.3f%8.3f%8.3f  1.00  0.00           C\n", i+1, chain, i+1, 0.0, 0.0, 0.0)
	}
	return writeFile(t, "target.pdb", "HEADER    TEST\n"+b.String()+"END\n")
}

func TestChunkCommand(t *testing.T) {
	out, err := runCLI(t, "chunk", pdbFile(t), "--size", "2", "--summary", "--json")
	if err != nil {
		t.Fatalf("chunk failed: %v\n%s", err, out)
	}

	var chunks []pdb.ChunkInfo
	if err := json.Unmarshal([]byte(out), &chunks); err != nil {
		t.Fatalf("Failed to decode output: %v\n%s", err, out)
	}
	var got []string
	for _, c := range chunks {
		got = append(got, fmt.Sprintf("%s:%d-%d", c.ChainID, c.StartResidue, c.EndResidue))
	}
	want := []string{"A:1-2", "A:3-3", "B:4-5"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Chunks mismatch (-want +got):\n%s", diff)
	}

	if _, err := runCLI(t, "chunk", pdbFile(t), "--size", "0"); err == nil {
		t.Error("Expected error for zero size")
	}
	if _, err := runCLI(t, "chunk", filepath.Join(t.TempDir(), "missing.pdb")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestGraphCommand(t *testing.T) {
	out, err := runCLI(t, "graph")
	if err != nil {
		t.Fatalf("graph failed: %v", err)
	}
	for _, want := range []string{"digraph Pipeline", `"nodeLow2" -> "nodeLow"`, "retry"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in DOT output:\n%s", want, out)
		}
	}

	out, err = runCLI(t, "graph", "--format", "json")
	if err != nil {
		t.Fatalf("graph --format json failed: %v", err)
	}
	var doc graphDocument
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("Failed to decode output: %v\n%s", err, out)
	}
	if len(doc.Nodes) != 6 {
		t.Errorf("Expected 6 nodes, got %d", len(doc.Nodes))
	}

	out, err = runCLI(t, "graph", "--format", "yaml")
	if err != nil || !strings.Contains(out, "transitions:") {
		t.Errorf("Expected YAML topology, got %v:\n%s", err, out)
	}

	if _, err := runCLI(t, "graph", "--format", "png"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestValidateCommand(t *testing.T) {
	valid := writeFile(t, "pipeline.cue", `name: "ok"
run: max_retries: 2
`)
	out, err := runCLI(t, "validate", valid)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, `pipeline "ok" is valid`) {
		t.Errorf("Unexpected output: %s", out)
	}

	out, err = runCLI(t, "-c", valid, "validate", "--show", "--json")
	if err != nil {
		t.Fatalf("validate --show failed: %v", err)
	}
	if !strings.Contains(out, `"max_retries": 2`) {
		t.Errorf("Expected resolved definition, got:\n%s", out)
	}

	invalid := writeFile(t, "pipeline.yaml", "plugins:\n  - {name: x, kind: lua, path: x.lua}\n")
	out, err = runCLI(t, "validate", invalid)
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !strings.Contains(out, "plugins[0].kind") {
		t.Errorf("Expected field path in output, got:\n%s", out)
	}

	if _, err := runCLI(t, "validate"); err == nil {
		t.Error("Expected error without a definition")
	}
}

func TestRunCommand_DryRunWithHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")

	out, err := runCLI(t, "run", "--dry-run", "--delay", "1ms", "--max-retries=-1", "--db", db, "--json")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}

	var summary runSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("Failed to decode output: %v\n%s", err, out)
	}
	if summary.Status != engine.RunStatusSucceeded {
		t.Errorf("Expected status succeeded, got %s", summary.Status)
	}
	var published bool
	for _, slot := range summary.Slots {
		if slot.Key == engine.KeyCandidate {
			published = slot.Populated
		}
	}
	if !published {
		t.Errorf("Expected a populated candidate slot, got %+v", summary.Slots)
	}

	out, err = runCLI(t, "history", "list", "--db", db, "--json")
	if err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	var runs []*stores.Run
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("Failed to decode output: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].ID != summary.RunID {
		t.Fatalf("Expected the recorded run %s, got %+v", summary.RunID, runs)
	}

	out, err = runCLI(t, "history", "list", "--db", db)
	if err != nil || !strings.Contains(out, "RUN ID") || !strings.Contains(out, summary.RunID) {
		t.Errorf("Expected a table with the run, got %v:\n%s", err, out)
	}

	out, err = runCLI(t, "history", "list", "--db", db, "--status", "failed", "--json")
	if err != nil || strings.TrimSpace(out) != "[]" {
		t.Errorf("Expected no failed runs, got %v: %s", err, out)
	}
	if _, err := runCLI(t, "history", "list", "--db", db, "--status", "pending"); err == nil {
		t.Error("Expected error for unknown status filter")
	}

	out, err = runCLI(t, "history", "show", summary.RunID, "--db", db)
	if err != nil {
		t.Fatalf("history show failed: %v", err)
	}
	for _, want := range []string{summary.RunID, "nodeLow2", "executions:"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}

	if _, err := runCLI(t, "history", "show", "missing", "--db", db); err == nil {
		t.Error("Expected error for unknown run")
	}
}

func TestRunCommand_InvalidOverrides(t *testing.T) {
	if _, err := runCLI(t, "run", "--dry-run", "--target", "s3://bucket/target.pdb"); err == nil {
		t.Error("Expected error for unsupported scheme")
	}
	if _, err := runCLI(t, "run", "--dry-run", "--watch", "--interval", "0s"); err == nil {
		t.Error("Expected error for zero interval")
	}
	if _, err := runCLI(t, "run", "--dry-run", "--trace", "zipkin"); err == nil {
		t.Error("Expected error for unsupported trace exporter")
	}
}

func TestInspectCommand(t *testing.T) {
	out, err := runCLI(t, "inspect", pdbFile(t), "--json")
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}

	var got []inspection
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("Failed to decode output: %v\n%s", err, out)
	}
	if len(got) != 1 || !got[0].Text || got[0].Chunks != 2 {
		t.Errorf("Unexpected inspection: %+v", got)
	}
	if diff := cmp.Diff([]string{"A", "B"}, got[0].Chains); diff != "" {
		t.Errorf("Chains mismatch (-want +got):\n%s", diff)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "version: test") || !strings.Contains(out, "commit: abc123") {
		t.Errorf("Unexpected output: %s", out)
	}
}
