package sftp

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/sftp"

	"github.com/updohilo/updohilo/pkg/transports"
)

// newPipeTransport serves the local filesystem over an in-process SFTP pipe.
func newPipeTransport(t *testing.T, root string) *Transport {
	t.Helper()

	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()

	server, err := sftp.NewServer(struct {
		io.Reader
		io.WriteCloser
	}{c2sR, s2cW})
	if err != nil {
		t.Fatalf("failed to create SFTP server: %v", err)
	}
	go func() { _ = server.Serve() }()

	client, err := sftp.NewClientPipe(s2cR, c2sW)
	if err != nil {
		t.Fatalf("failed to create SFTP client: %v", err)
	}

	config := DefaultConfig("localhost", "tester")
	config.Root = filepath.ToSlash(root)
	tr := newWithClient(config, client)
	t.Cleanup(func() {
		_ = tr.Close()
		_ = server.Close()
	})
	return tr
}

func TestTransport_StoreFetch(t *testing.T) {
	root := t.TempDir()
	tr := newPipeTransport(t, root)
	ctx := context.Background()

	if err := tr.Store(ctx, []byte("CCO"), "ligandokreado/1iep/candidate.smi"); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	onDisk, err := os.ReadFile(filepath.Join(root, "ligandokreado", "1iep", "candidate.smi"))
	if err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}
	if string(onDisk) != "CCO" {
		t.Errorf("expected CCO on disk, got %q", onDisk)
	}

	got, err := tr.Fetch(ctx, "sftp://localhost"+filepath.ToSlash(root)+"/ligandokreado/1iep/candidate.smi")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(got) != "CCO" {
		t.Errorf("expected CCO, got %q", got)
	}
}

func TestTransport_FetchMissing(t *testing.T) {
	tr := newPipeTransport(t, t.TempDir())

	_, err := tr.Fetch(context.Background(), "missing.pdb")
	if !errors.Is(err, transports.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTransport_CancelledStore(t *testing.T) {
	tr := newPipeTransport(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tr.Store(ctx, []byte("x"), "x.smi")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRemotePath(t *testing.T) {
	config := DefaultConfig("host", "user")
	config.Root = "/data"
	tr := &Transport{config: config}

	tests := []struct {
		location string
		want     string
	}{
		{"sftp://user@host:2222/srv/a.pdb", "/srv/a.pdb"},
		{"sftp://host", "/"},
		{"ligandokreado/1iep/target.pdb", "/data/ligandokreado/1iep/target.pdb"},
		{"/abs/../abs/b.pdb", "/abs/b.pdb"},
	}
	for _, tt := range tests {
		if got := tr.RemotePath(tt.location); got != tt.want {
			t.Errorf("RemotePath(%q) = %q, want %q", tt.location, got, tt.want)
		}
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	config := DefaultConfig("", "user")
	if _, err := New(config); err == nil {
		t.Error("expected error for missing host")
	}
}
