package ksef

import (
	"context"
	"net/http"

	"github.com/RexEtImperator/skaner-faktur-projekt/internal/model"
)

const (
	defaultPageSize   = 100
	defaultPageOffset = 0
)

// QueryClient runs authenticated invoice queries over an active
// session. On a session-class failure it invalidates the session and
// retries the call exactly once against a fresh one; a second failure
// of the same class is surfaced.
type QueryClient struct {
	transport Transport
	sessions  *SessionManager
}

// NewQueryClient creates a query client bound to a session manager.
func NewQueryClient(transport Transport, sessions *SessionManager) *QueryClient {
	return &QueryClient{
		transport: transport,
		sessions:  sessions,
	}
}

// ListHeadersSince returns invoice headers acquired by the Exchange on
// or after since (YYYY-MM-DD).
func (c *QueryClient) ListHeadersSince(ctx context.Context, since string) ([]model.InvoiceHeader, error) {
	query, err := buildInvoiceQuery(since, defaultPageSize, defaultPageOffset)
	if err != nil {
		return nil, validationError("cannot build invoice query", err)
	}

	body, err := c.withSessionRetry(ctx, func(token string) (*Response, error) {
		return c.transport.Post(ctx, pathQueryInvoiceSync, contentTypeOctet, query,
			map[string]string{sessionTokenHeader: token})
	})
	if err != nil {
		return nil, err
	}

	headers, err := parseInvoiceHeaders(body)
	if err != nil {
		return nil, validationError("malformed invoice query response", err)
	}
	return headers, nil
}

// FetchFull retrieves the complete invoice document for one KSeF
// reference number.
func (c *QueryClient) FetchFull(ctx context.Context, reference string) ([]byte, error) {
	return c.withSessionRetry(ctx, func(token string) (*Response, error) {
		return c.transport.Get(ctx, pathInvoiceGet+reference,
			map[string]string{sessionTokenHeader: token})
	})
}

// withSessionRetry ensures an active session, runs call with its token,
// and on a session-class error re-authenticates and retries once.
func (c *QueryClient) withSessionRetry(ctx context.Context, call func(token string) (*Response, error)) ([]byte, error) {
	body, err := c.attempt(ctx, call)
	if err == nil || !IsSessionError(err) {
		return body, err
	}

	c.sessions.Invalidate()
	return c.attempt(ctx, call)
}

func (c *QueryClient) attempt(ctx context.Context, call func(token string) (*Response, error)) ([]byte, error) {
	sess, err := c.sessions.EnsureActive(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := call(sess.Token)
	if err != nil {
		return nil, translateTransport(err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, translateResponse(resp.StatusCode, resp.Body)
	}
	return resp.Body, nil
}
