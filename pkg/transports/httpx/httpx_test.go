package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/updohilo/updohilo/pkg/transports"
)

type objectServer struct {
	mu          sync.Mutex
	objects     map[string][]byte
	contentType map[string]string
}

func newObjectServer() *objectServer {
	return &objectServer{objects: map[string][]byte{}, contentType: map[string]string{}}
}

func (s *objectServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		body, ok := s.objects[r.URL.Path]
		if !ok {
			http.Error(w, "no such object", http.StatusNotFound)
			return
		}
		_, _ = w.Write(body)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		s.objects[r.URL.Path] = body
		s.contentType[r.URL.Path] = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestTransport_StoreFetch(t *testing.T) {
	objects := newObjectServer()
	srv := httptest.NewServer(objects)
	defer srv.Close()

	tr := New(WithHeader("Authorization", "Bearer token"))
	ctx := context.Background()
	loc := srv.URL + "/ligandokreado/1iep/candidate.smi"

	if err := tr.Store(ctx, []byte("CCO\n"), loc); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if ct := objects.contentType["/ligandokreado/1iep/candidate.smi"]; !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Expected text/plain content type, got %q", ct)
	}

	got, err := tr.Fetch(ctx, loc)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(got) != "CCO\n" {
		t.Errorf("Expected CCO, got %q", got)
	}
}

func TestTransport_Errors(t *testing.T) {
	srv := httptest.NewServer(newObjectServer())
	defer srv.Close()

	ctx := context.Background()

	_, err := New(WithHeader("Authorization", "Bearer token")).Fetch(ctx, srv.URL+"/missing")
	if !errors.Is(err, transports.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	_, err = New().Fetch(ctx, srv.URL+"/missing")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 StatusError, got %v", err)
	}
	if errors.Is(err, transports.ErrNotFound) {
		t.Error("401 must not match ErrNotFound")
	}
}

func TestTransport_MaxBodySize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	_, err := New(WithMaxBodySize(16)).Fetch(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("Expected body size error, got %v", err)
	}
}

func TestTransport_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := New().Fetch(ctx, srv.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}
