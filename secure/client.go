package secure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// CSRFHeaderName carries the anti-forgery token on mutating requests.
const CSRFHeaderName = "X-CSRF-Token"

// SessionHeaderName carries the client's session identifier.
const SessionHeaderName = "X-Session-ID"

// SecureClient wraps an http.Client so every outbound request goes through
// the middleware: JSON bodies are sanitized, security headers are attached,
// and mutating methods (POST, PUT, PATCH, DELETE) carry a fresh CSRF token.
// GET and HEAD never carry one.
type SecureClient struct {
	mw     *Middleware
	client *http.Client

	// sessionID is minted lazily on first need and reused for the life of
	// the client, mirroring the dashboard's single well-known session key.
	// The mutex keeps concurrent Do calls from minting divergent IDs.
	mu        sync.Mutex
	sessionID string
}

// ClientOption configures a SecureClient.
type ClientOption func(*SecureClient)

// WithHTTPClient substitutes the underlying http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(sc *SecureClient) { sc.client = c }
}

// WithSessionID pins the client to an existing session identifier instead
// of minting one on first use.
func WithSessionID(id string) ClientOption {
	return func(sc *SecureClient) { sc.sessionID = id }
}

// NewSecureClient builds a client bound to the middleware.
func NewSecureClient(mw *Middleware, opts ...ClientOption) *SecureClient {
	sc := &SecureClient{mw: mw, client: http.DefaultClient}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// SessionID returns the client's session identifier, minting it on first
// call if absent. Safe for concurrent use.
func (c *SecureClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}
	return c.sessionID
}

// Do issues the request. A non-nil body is JSON-encoded; when the body is a
// map its string leaves are sanitized first.
func (c *SecureClient) Do(ctx context.Context, method, rawurl string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		if m, ok := body.(map[string]any); ok {
			body = c.mw.SanitizeFormData(m)
		}
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawurl, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range c.mw.ApplySecurityHeaders() {
		req.Header.Set(k, SanitizeHeaderValue(v))
	}
	req.Header.Set(SessionHeaderName, c.SessionID())

	if isMutating(method) {
		token, err := c.mw.GenerateCSRFToken(c.SessionID())
		if err != nil {
			return nil, fmt.Errorf("generating csrf token: %w", err)
		}
		if token != "" {
			req.Header.Set(CSRFHeaderName, token)
		}
	}

	return c.client.Do(req)
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
