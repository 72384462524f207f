// Package testutil provides helpers for integration tests: a disposable
// PostgreSQL container and an HTTP client that checks every response
// against the OpenAPI document.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

// Client calls the API under test.
type Client struct {
	baseURL    string
	httpClient *http.Client
	validator  *OpenAPIValidator
	clientAddr string
	t          *testing.T
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithValidator checks each response against v.
func WithValidator(v *OpenAPIValidator) ClientOption {
	return func(c *Client) { c.validator = v }
}

// WithClientAddr sends addr as X-Forwarded-For, so per-client limits see
// each test as a separate caller.
func WithClientAddr(addr string) ClientOption {
	return func(c *Client) { c.clientAddr = addr }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{baseURL: baseURL, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetT binds the client to a test; validation failures are reported on t.
func (c *Client) SetT(t *testing.T) {
	c.t = t
}

// WithoutValidation returns a copy that skips schema checks, for requests
// that are expected to fail.
func (c *Client) WithoutValidation() *Client {
	clone := *c
	clone.validator = nil
	return &clone
}

func (c *Client) GET(path string) (*http.Response, error) {
	return c.Do(http.MethodGet, path, nil)
}

func (c *Client) POST(path string, body any) (*http.Response, error) {
	return c.Do(http.MethodPost, path, body)
}

func (c *Client) PATCH(path string, body any) (*http.Response, error) {
	return c.Do(http.MethodPatch, path, body)
}

func (c *Client) DELETE(path string) (*http.Response, error) {
	return c.Do(http.MethodDelete, path, nil)
}

// Do sends body, if any, as JSON.
func (c *Client) Do(method, path string, body any) (*http.Response, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.clientAddr != "" {
		req.Header.Set("X-Forwarded-For", c.clientAddr)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if c.validator != nil && c.t != nil {
		c.validator.ValidateResponse(c.t, req, resp)
	}
	return resp, nil
}

// DecodeData decodes a {"data": ...} envelope into v and closes the body.
func DecodeData(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

// RandomSlug returns prefix with a short random suffix.
func RandomSlug(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
