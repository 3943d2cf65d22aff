package server

import (
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/model"
)

// CredentialsRequest carries the taxpayer identity for one KSeF call:
// the NIP, the long-lived authorization token, and the keystore
// reference of the signing key.
type CredentialsRequest struct {
	NIP    string `json:"nip" binding:"required"`
	Token  string `json:"token" binding:"required"`
	KeyRef string `json:"key_ref" binding:"required"`
}

// ListRequest asks for invoice headers acquired since a date
type ListRequest struct {
	CredentialsRequest
	StartDate string `json:"start_date" binding:"required"`
}

// ImportRequest asks for one invoice by KSeF reference number
type ImportRequest struct {
	CredentialsRequest
	Reference string `json:"reference" binding:"required"`
}

// TestResponse is the response for the session test endpoint
type TestResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ListResponse is the response for the invoice list endpoint
type ListResponse struct {
	Invoices []model.InvoiceHeader `json:"invoices"`
	Count    int                   `json:"count"`
}

// ImportResponse is the response for the invoice import endpoint
type ImportResponse struct {
	Invoice      *model.Invoice          `json:"invoice"`
	Items        []model.LineItem        `json:"items"`
	VatBreakdown []model.VatBreakdownRow `json:"vat_breakdown"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retriable bool   `json:"retriable"`
}
