// Package ksef implements the integration client for KSeF, the Polish
// national e-invoice exchange. It authenticates a taxpayer identity
// with a signed challenge, maintains a time-bounded session, queries
// and retrieves invoices over it, and maps the FA(2) invoice XML into
// the flat local model.
//
// Every error returned by the Client facade is a *Error carrying a
// kind from the closed taxonomy; raw transport and Exchange errors
// never cross this boundary.
package ksef

import (
	"context"
	"time"

	"github.com/RexEtImperator/skaner-faktur-projekt/internal/keystore"
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/model"
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/parser/fa"
)

// Client is the facade the rest of the application talks to. One Client
// serves one taxpayer identity and holds at most one session.
type Client struct {
	sessions *SessionManager
	query    *QueryClient
}

// ClientOption configures a Client
type ClientOption func(*clientConfig)

type clientConfig struct {
	transport   Transport
	baseURL     string
	timeout     time.Duration
	sessionOpts []SessionOption
}

// WithTransport substitutes the Exchange transport (stub in tests)
func WithTransport(t Transport) ClientOption {
	return func(cfg *clientConfig) {
		cfg.transport = t
	}
}

// WithBaseURL points the client at a different Exchange environment
func WithBaseURL(url string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.baseURL = url
	}
}

// WithRequestTimeout bounds a single Exchange round trip
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.timeout = d
	}
}

// WithSessionOptions passes options through to the session manager
func WithSessionOptions(opts ...SessionOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.sessionOpts = append(cfg.sessionOpts, opts...)
	}
}

// NewClient creates a client for one taxpayer identity. keys supplies
// the PEM signing key for creds.KeyRef.
func NewClient(creds Credentials, keys keystore.Provider, opts ...ClientOption) *Client {
	cfg := &clientConfig{
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	transport := cfg.transport
	if transport == nil {
		transport = NewHTTPTransport(cfg.baseURL, WithTimeout(cfg.timeout))
	}

	sessions := NewSessionManager(transport, keys, creds, cfg.sessionOpts...)
	return &Client{
		sessions: sessions,
		query:    NewQueryClient(transport, sessions),
	}
}

// TestSession verifies connectivity and authorization by establishing
// (or reusing) a session.
func (c *Client) TestSession(ctx context.Context) error {
	_, err := c.sessions.EnsureActive(ctx)
	return err
}

// ListInvoicesSince returns headers of invoices the Exchange acquired
// on or after since (YYYY-MM-DD).
func (c *Client) ListInvoicesSince(ctx context.Context, since string) ([]model.InvoiceHeader, error) {
	return c.query.ListHeadersSince(ctx, since)
}

// ImportInvoice fetches one invoice by KSeF reference number and maps
// it into the local model. Either the full triple is returned or an
// error; no partial result.
func (c *Client) ImportInvoice(ctx context.Context, reference string) (*model.Invoice, []model.LineItem, []model.VatBreakdownRow, error) {
	document, err := c.query.FetchFull(ctx, reference)
	if err != nil {
		return nil, nil, nil, err
	}

	invoice, items, breakdown, err := fa.Map(document)
	if err != nil {
		return nil, nil, nil, validationError("cannot map invoice document", err)
	}

	invoice.ExternalReference = reference
	return invoice, items, breakdown, nil
}
