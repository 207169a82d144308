package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/pdb"
	"github.com/updohilo/updohilo/pkg/transports"
)

func dockingRequest() engine.RemoteRequest {
	return engine.RemoteRequest{
		RunID:     "run-1",
		Node:      "remote-dock",
		InputKeys: []string{engine.KeyCandidate, engine.KeyTarget, engine.KeyBox},
		Inputs: map[string]any{
			engine.KeyCandidate: "CCO",
			engine.KeyTarget:    pdb.Chunks{{ChainID: "A", StartResidue: 1, EndResidue: 1, Content: "ATOM target"}},
			engine.KeyBox:       pdb.Chunks{{ChainID: "B", StartResidue: 5, EndResidue: 5, Content: "ATOM box\n"}},
		},
		OutputDir:  "out/run-1",
		OutputKeys: []string{engine.KeyDocking, engine.KeyPose},
	}
}

func TestClient_Compute(t *testing.T) {
	var got engine.RemoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"artifacts":{"docking":"MODEL 1","pose":"ATOM"},"locations":{"pose":"gs://poses/1.pdb"}}`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, WithToken("secret")).Compute(context.Background(), dockingRequest())
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	want := &engine.RemoteResponse{
		Artifacts: map[string]any{engine.KeyDocking: "MODEL 1", engine.KeyPose: "ATOM"},
		Locations: map[string]string{engine.KeyPose: "gs://poses/1.pdb"},
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("Unexpected response (-want +got):\n%s", diff)
	}
	if got.OutputDir != "out/run-1" || got.Inputs[engine.KeyCandidate] != "CCO" {
		t.Errorf("Unexpected request sent: %+v", got)
	}
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"vina crashed"}`))
			},
			want: "status 500: vina crashed",
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			want: "decode",
		},
		{
			name: "no artifacts",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{}`))
			},
			want: "no artifacts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewClient(srv.URL).Compute(context.Background(), dockingRequest())
			if !errors.Is(err, engine.ErrRemoteCompute) {
				t.Fatalf("Expected remote compute error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestClient_Deadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL).Compute(ctx, dockingRequest())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestLocal_StoresArtifacts(t *testing.T) {
	mem := transports.NewMemory()
	local := NewLocal(mem, zerolog.Nop())
	ctx := context.Background()

	resp, err := local.Compute(ctx, dockingRequest())
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	wantLocations := map[string]string{
		engine.KeyDocking: "out/run-1/docking",
		engine.KeyPose:    "out/run-1/pose",
	}
	if diff := cmp.Diff(wantLocations, resp.Locations); diff != "" {
		t.Errorf("Unexpected locations (-want +got):\n%s", diff)
	}

	stored, err := mem.Fetch(ctx, "out/run-1/pose")
	if err != nil {
		t.Fatalf("Expected stored pose: %v", err)
	}
	if string(stored) != resp.Artifacts[engine.KeyPose] {
		t.Errorf("Stored pose differs from artifact")
	}
	if !strings.Contains(string(stored), "ATOM box") {
		t.Errorf("Expected box records in pose, got %q", stored)
	}

	docking := resp.Artifacts[engine.KeyDocking].(string)
	if !strings.Contains(docking, "REMARK VINA RESULT:") || !strings.Contains(docking, "CCO") {
		t.Errorf("Unexpected docking artifact %q", docking)
	}
}

func TestLocal_Errors(t *testing.T) {
	local := NewLocal(transports.NewMemory(), zerolog.Nop())
	ctx := context.Background()

	req := dockingRequest()
	req.Inputs[engine.KeyCandidate] = ""
	if _, err := local.Compute(ctx, req); !errors.Is(err, engine.ErrRemoteCompute) {
		t.Errorf("Expected remote compute error for empty candidate, got %v", err)
	}

	req = dockingRequest()
	req.OutputKeys = []string{"affinity-map"}
	if _, err := local.Compute(ctx, req); err == nil || !strings.Contains(err.Error(), "affinity-map") {
		t.Errorf("Expected unknown artifact error, got %v", err)
	}
}
