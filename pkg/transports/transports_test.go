package transports

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/updohilo/updohilo/pkg/pdb"
)

func TestScheme(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{"file:///data/a.pdb", "file"},
		{"HTTPS://example.com/a", "https"},
		{"sftp://host/data/a", "sftp"},
		{"mem://a", "mem"},
		{"ligandokreado/1iep/target.pdb", ""},
		{"/abs/path", ""},
		{"weird path://x", ""},
		{"://x", ""},
	}
	for _, tt := range tests {
		if got := Scheme(tt.location); got != tt.want {
			t.Errorf("Scheme(%q) = %q, want %q", tt.location, got, tt.want)
		}
	}
}

func TestMux_Resolve(t *testing.T) {
	tests := []struct {
		base     string
		location string
		want     string
	}{
		{"", "a/b.pdb", "a/b.pdb"},
		{"mem://bucket/", "a/b.pdb", "mem://bucket/a/b.pdb"},
		{"mem://bucket", "/abs/b.pdb", "/abs/b.pdb"},
		{"mem://bucket", "http://x/b.pdb", "http://x/b.pdb"},
	}
	for _, tt := range tests {
		if got := NewMux(tt.base).Resolve(tt.location); got != tt.want {
			t.Errorf("Resolve(%q, %q) = %q, want %q", tt.base, tt.location, got, tt.want)
		}
	}
}

func TestMux_Dispatch(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mem.Put("mem://bucket/target.pdb", []byte("ATOM"))

	mux := NewMux("mem://bucket")
	mux.Handle(SchemeMem, mem)

	got, err := mux.Fetch(ctx, "target.pdb")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(got) != "ATOM" {
		t.Errorf("Expected ATOM, got %q", got)
	}

	if err := mux.Store(ctx, []byte("CCO"), "out/candidate.smi"); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if diff := cmp.Diff([]string{"bucket/out/candidate.smi", "bucket/target.pdb"}, mem.Locations()); diff != "" {
		t.Errorf("Unexpected locations (-want +got):\n%s", diff)
	}

	if _, err := mux.Fetch(ctx, "sftp://host/x"); !errors.Is(err, ErrUnknownScheme) {
		t.Errorf("Expected ErrUnknownScheme, got %v", err)
	}
	if _, err := NewMux("").Fetch(ctx, "bare/path"); !errors.Is(err, ErrUnknownScheme) {
		t.Errorf("Expected ErrUnknownScheme for unregistered file scheme, got %v", err)
	}
	if diff := cmp.Diff([]string{SchemeMem}, mux.Schemes()); diff != "" {
		t.Errorf("Unexpected schemes (-want +got):\n%s", diff)
	}
}

func TestMemory_NotFoundAndCopy(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	if _, err := mem.Fetch(ctx, "mem://nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	content := []byte("abc")
	mem.Put("a", content)
	content[0] = 'x'

	got, _ := mem.Fetch(ctx, "mem://a")
	if string(got) != "abc" {
		t.Errorf("Expected stored copy abc, got %q", got)
	}
}

func TestDryRun(t *testing.T) {
	ctx := context.Background()
	dry := NewDryRun(10*time.Millisecond, zerolog.Nop())

	start := time.Now()
	got, err := dry.Fetch(ctx, "ligandokreado/1iep/a.smi")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("Expected Fetch to wait for the delay")
	}
	if string(got) != "Mock content for ligandokreado/1iep/a.smi" {
		t.Errorf("Unexpected mock content %q", got)
	}

	if err := dry.Store(ctx, []byte("x"), "anywhere"); err != nil {
		t.Errorf("Store failed: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := NewDryRun(time.Second, zerolog.Nop()).Fetch(cancelled, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestMockContent_PDBChunks(t *testing.T) {
	content := MockContent("ligandokreado/1iep/target.pdb")
	if !strings.Contains(string(content), "Mock content for ligandokreado/1iep/target.pdb") {
		t.Errorf("Expected mock marker, got %q", content)
	}

	chunks := pdb.Chunk(string(content), 1000)
	if len(chunks) != 1 || chunks[0].ChainID != "A" || chunks[0].StartResidue != 1 {
		t.Errorf("Expected one chain A chunk, got %+v", chunks)
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingObserver) TransportCall(scheme, op string, bytes int, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.calls = append(r.calls, strings.Join([]string{scheme, op, status}, ":"))
}

func TestInstrument(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	tr := Instrument(NewMemory(), obs)

	_ = tr.Store(ctx, []byte("x"), "mem://a")
	_, _ = tr.Fetch(ctx, "mem://a")
	_, _ = tr.Fetch(ctx, "b")

	want := []string{"mem:store:ok", "mem:fetch:ok", "file:fetch:error"}
	if diff := cmp.Diff(want, obs.calls); diff != "" {
		t.Errorf("Unexpected calls (-want +got):\n%s", diff)
	}

	mem := NewMemory()
	if Instrument(mem, nil) != mem {
		t.Error("Expected nil observer to return the transport unchanged")
	}
}
