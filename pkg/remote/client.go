// Package remote calls the docking service that runs the remote compute
// stage of a pipeline.
//
// Client talks to an HTTP endpoint. Local is a stand-in used when no
// endpoint is configured: it derives placeholder artifacts from the inputs
// and stores them where the pipeline expects to fetch them.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/updohilo/updohilo/pkg/engine"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(cl *Client) { cl.token = token }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

// Client posts compute requests to a docking endpoint as JSON.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	logger   zerolog.Logger
}

// NewClient creates a client for endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "remote-client").Str("endpoint", endpoint).Logger()
	return c
}

// errorBody is the error document a docking endpoint may return.
type errorBody struct {
	Error string `json:"error"`
}

// Compute posts req and decodes the artifacts. Deadlines come from ctx.
func (c *Client) Compute(ctx context.Context, req engine.RemoteRequest) (*engine.RemoteResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, engine.NewRemoteComputeError("failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, engine.NewRemoteComputeError("failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Deadline errors pass through so the engine reports a timeout.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, engine.NewRemoteComputeError("request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, engine.NewRemoteComputeError("failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			msg += ": " + eb.Error
		}
		return nil, engine.NewRemoteComputeError(msg, nil).
			WithDetail("status", resp.StatusCode)
	}

	var out engine.RemoteResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, engine.NewRemoteComputeError("failed to decode response", err)
	}
	if out.Artifacts == nil {
		return nil, engine.NewRemoteComputeError("response has no artifacts", nil)
	}

	c.logger.Debug().
		Str("node", req.Node).
		Int("status", resp.StatusCode).
		Int("artifacts", len(out.Artifacts)).
		Dur("duration", time.Since(start)).
		Msg("Remote compute returned")
	return &out, nil
}
