package ksef

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultBaseURL points at the KSeF test environment
	DefaultBaseURL = "https://ksef-test.mf.gov.pl/api"

	// DefaultTimeout bounds a single Exchange round trip
	DefaultTimeout = 60 * time.Second
)

// Response is one raw Exchange response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport is the request/response primitive the client runs on. It
// either returns the full response (any status) or fails with a
// network-level error.
type Transport interface {
	Post(ctx context.Context, path, contentType string, body []byte, headers map[string]string) (*Response, error)
	Get(ctx context.Context, path string, headers map[string]string) (*Response, error)
}

// HTTPTransport is the net/http-backed Transport.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// TransportOption configures HTTPTransport
type TransportOption func(*HTTPTransport)

// WithHTTPClient sets a custom http.Client
func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *HTTPTransport) {
		t.client = client
	}
}

// WithTimeout sets a custom round-trip timeout
func WithTimeout(timeout time.Duration) TransportOption {
	return func(t *HTTPTransport) {
		t.client.Timeout = timeout
	}
}

// NewHTTPTransport creates a Transport for the given Exchange base URL.
// An empty baseURL selects the test environment.
func NewHTTPTransport(baseURL string, opts ...TransportOption) *HTTPTransport {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	t := &HTTPTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *HTTPTransport) Post(ctx context.Context, path, contentType string, body []byte, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return t.do(req)
}

func (t *HTTPTransport) Get(ctx context.Context, path string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return t.do(req)
}

func (t *HTTPTransport) do(req *http.Request) (*Response, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
