package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RexEtImperator/skaner-faktur-projekt/internal/ksef"
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/model"
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/server"
)

// fakeFacade scripts the KSeF facade for handler tests.
type fakeFacade struct {
	creds      ksef.Credentials
	testErr    error
	listResult []model.InvoiceHeader
	listErr    error
	importErr  error
	invoice    *model.Invoice
	items      []model.LineItem
	breakdown  []model.VatBreakdownRow
}

func (f *fakeFacade) TestSession(ctx context.Context) error {
	return f.testErr
}

func (f *fakeFacade) ListInvoicesSince(ctx context.Context, since string) ([]model.InvoiceHeader, error) {
	return f.listResult, f.listErr
}

func (f *fakeFacade) ImportInvoice(ctx context.Context, reference string) (*model.Invoice, []model.LineItem, []model.VatBreakdownRow, error) {
	if f.importErr != nil {
		return nil, nil, nil, f.importErr
	}
	return f.invoice, f.items, f.breakdown, nil
}

func newTestServer(facade *fakeFacade) *server.Server {
	config := &server.Config{
		Address: ":8080",
		Debug:   true,
	}
	return server.NewServer(config, func(creds ksef.Credentials) server.Facade {
		facade.creds = creds
		return facade
	})
}

func postJSON(t *testing.T, srv *server.Server, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func validCreds() map[string]interface{} {
	return map[string]interface{}{
		"nip":     "5260250274",
		"token":   "long-term-token",
		"key_ref": "user-1",
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(&fakeFacade{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, "ok", response["status"])
	assert.NotEmpty(t, response["time"])
}

func TestTestSessionEndpoint(t *testing.T) {
	facade := &fakeFacade{}
	srv := newTestServer(facade)

	w := postJSON(t, srv, "/api/v1/ksef/test", validCreds())

	assert.Equal(t, http.StatusOK, w.Code)

	var response server.TestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)

	// Credentials reach the client factory intact.
	assert.Equal(t, "5260250274", facade.creds.NIP)
	assert.Equal(t, "long-term-token", facade.creds.AuthToken)
	assert.Equal(t, "user-1", facade.creds.KeyRef)
}

func TestTestSessionEndpoint_MissingFields(t *testing.T) {
	srv := newTestServer(&fakeFacade{})

	w := postJSON(t, srv, "/api/v1/ksef/test", map[string]interface{}{"nip": "123"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListInvoicesEndpoint(t *testing.T) {
	facade := &fakeFacade{
		listResult: []model.InvoiceHeader{
			{Reference: "REF-1", Number: "FV/1", NetAmount: decimal.RequireFromString("100")},
		},
	}
	srv := newTestServer(facade)

	payload := validCreds()
	payload["start_date"] = "2025-01-01"
	w := postJSON(t, srv, "/api/v1/ksef/invoices", payload)

	assert.Equal(t, http.StatusOK, w.Code)

	var response server.ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 1, response.Count)
	require.Len(t, response.Invoices, 1)
	assert.Equal(t, "REF-1", response.Invoices[0].Reference)
}

func TestListInvoicesEndpoint_BadDate(t *testing.T) {
	srv := newTestServer(&fakeFacade{})

	payload := validCreds()
	payload["start_date"] = "01.01.2025"
	w := postJSON(t, srv, "/api/v1/ksef/invoices", payload)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportInvoiceEndpoint(t *testing.T) {
	facade := &fakeFacade{
		invoice: &model.Invoice{ExternalReference: "REF-1", Number: "FV/1", Currency: "PLN"},
		items: []model.LineItem{
			{Description: "Towar", VatRate: "23"},
		},
		breakdown: []model.VatBreakdownRow{
			{VatRate: "23"},
		},
	}
	srv := newTestServer(facade)

	payload := validCreds()
	payload["reference"] = "REF-1"
	w := postJSON(t, srv, "/api/v1/ksef/import", payload)

	assert.Equal(t, http.StatusOK, w.Code)

	var response server.ImportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.NotNil(t, response.Invoice)
	assert.Equal(t, "REF-1", response.Invoice.ExternalReference)
	require.Len(t, response.Items, 1)
	require.Len(t, response.VatBreakdown, 1)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    *ksef.Error
		status int
	}{
		{"session auth", &ksef.Error{Kind: ksef.KindAuthSession, Message: "session invalid", Retriable: true}, http.StatusUnauthorized},
		{"credential auth", &ksef.Error{Kind: ksef.KindAuthCredentials, Message: "rejected"}, http.StatusUnauthorized},
		{"validation", &ksef.Error{Kind: ksef.KindValidation, Message: "bad nip"}, http.StatusBadRequest},
		{"transport", &ksef.Error{Kind: ksef.KindTransport, Message: "unreachable", Retriable: true}, http.StatusServiceUnavailable},
		{"unknown remote", &ksef.Error{Kind: ksef.KindUnknownRemote, Message: "code 99999"}, http.StatusBadGateway},
		{"key unavailable", &ksef.Error{Kind: ksef.KindKeyUnavailable, Message: "no key"}, http.StatusInternalServerError},
		{"signing", &ksef.Error{Kind: ksef.KindSigning, Message: "bad key"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeFacade{testErr: tt.err})

			w := postJSON(t, srv, "/api/v1/ksef/test", validCreds())
			assert.Equal(t, tt.status, w.Code)

			var response server.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, tt.err.Kind.String(), response.Kind)
			assert.Equal(t, tt.err.Retriable, response.Retriable)
		})
	}
}
