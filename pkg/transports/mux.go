package transports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/updohilo/updohilo/pkg/engine"
)

// Location schemes.
const (
	SchemeFile  = "file"
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeSFTP  = "sftp"
	SchemeMem   = "mem"
)

// ErrNotFound is returned when a location holds no content.
var ErrNotFound = errors.New("resource not found")

// ErrUnknownScheme is returned when no transport handles a location's scheme.
var ErrUnknownScheme = errors.New("no transport registered for scheme")

// Mux dispatches each call to the transport registered for the location scheme.
type Mux struct {
	mu     sync.RWMutex
	routes map[string]engine.Transport
	base   string
}

// NewMux creates a Mux. Locations without a scheme are joined to base;
// an empty base leaves them as local file paths.
func NewMux(base string) *Mux {
	return &Mux{
		routes: make(map[string]engine.Transport),
		base:   strings.TrimSuffix(base, "/"),
	}
}

// Handle registers t for scheme, replacing any previous registration.
func (m *Mux) Handle(scheme string, t engine.Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[strings.ToLower(scheme)] = t
}

// Schemes returns the registered schemes, sorted.
func (m *Mux) Schemes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	schemes := make([]string, 0, len(m.routes))
	for s := range m.routes {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Resolve returns the absolute form of location, with the base applied.
func (m *Mux) Resolve(location string) string {
	if Scheme(location) != "" || m.base == "" || strings.HasPrefix(location, "/") {
		return location
	}
	return m.base + "/" + strings.TrimPrefix(location, "/")
}

// Fetch retrieves location through the transport for its scheme.
func (m *Mux) Fetch(ctx context.Context, location string) ([]byte, error) {
	t, resolved, err := m.route(location)
	if err != nil {
		return nil, err
	}
	return t.Fetch(ctx, resolved)
}

// Store writes content to location through the transport for its scheme.
func (m *Mux) Store(ctx context.Context, content []byte, location string) error {
	t, resolved, err := m.route(location)
	if err != nil {
		return err
	}
	return t.Store(ctx, content, resolved)
}

func (m *Mux) route(location string) (engine.Transport, string, error) {
	resolved := m.Resolve(location)
	scheme := Scheme(resolved)
	if scheme == "" {
		scheme = SchemeFile
	}

	m.mu.RLock()
	t, ok := m.routes[scheme]
	m.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownScheme, scheme)
	}
	return t, resolved, nil
}

// Scheme returns the lower-cased scheme of location, or "" for a bare path.
func Scheme(location string) string {
	i := strings.Index(location, "://")
	if i <= 0 {
		return ""
	}
	scheme := location[:i]
	for _, r := range scheme {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return ""
		}
	}
	return strings.ToLower(scheme)
}

// StripScheme returns location without its "scheme://" prefix.
func StripScheme(location string) string {
	if s := Scheme(location); s != "" {
		return location[len(s)+len("://"):]
	}
	return location
}
