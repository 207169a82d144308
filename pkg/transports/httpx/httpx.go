// Package httpx implements an HTTP transport: GET to fetch, PUT to store.
package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/updohilo/updohilo/pkg/transports"
)

// DefaultMaxBodySize caps fetched bodies.
const DefaultMaxBodySize = 256 << 20

// Option configures a Transport.
type Option func(*Transport)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// WithHeader adds a header to every request, e.g. Authorization.
func WithHeader(key, value string) Option {
	return func(t *Transport) { t.headers.Set(key, value) }
}

// WithMaxBodySize caps fetched bodies at n bytes.
func WithMaxBodySize(n int64) Option {
	return func(t *Transport) { t.maxBody = n }
}

// Transport fetches and stores resources over HTTP(S).
type Transport struct {
	client  *http.Client
	headers http.Header
	maxBody int64
}

// New creates an HTTP transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		client:  &http.Client{Timeout: 5 * time.Minute},
		headers: make(http.Header),
		maxBody: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Unwrap maps 404 to transports.ErrNotFound.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return transports.ErrNotFound
	}
	return nil
}

// Fetch GETs location.
func (t *Transport) Fetch(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	t.applyHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp, http.MethodGet, location)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > t.maxBody {
		return nil, fmt.Errorf("response body exceeds %d bytes", t.maxBody)
	}
	return body, nil
}

// Store PUTs content to location with a detected Content-Type.
func (t *Transport) Store(ctx context.Context, content []byte, location string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, location, bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	t.applyHeaders(req)
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", mimetype.Detect(content).String())
	}
	req.ContentLength = int64(len(content))

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp, http.MethodPut, location)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (t *Transport) applyHeaders(req *http.Request) {
	for key, values := range t.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
}

func statusError(resp *http.Response, method, location string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Method:     method,
		URL:        location,
		StatusCode: resp.StatusCode,
		Body:       string(bytes.TrimSpace(body)),
	}
}
