// Package kseflib provides a public API for fetching purchase invoices
// from the Polish national e-invoice system (KSeF).
//
// This package exposes the core types for authenticating against KSeF,
// listing acquired invoices, and downloading full FA(2) invoices as
// structured data.
//
// Example usage:
//
//	keys := kseflib.NewFileKeystore("user_certs", passphrase)
//	client := kseflib.NewClient(kseflib.Credentials{
//	    NIP:       "5260250274",
//	    AuthToken: token,
//	    KeyRef:    ref,
//	}, keys)
//	headers, err := client.ListInvoicesSince(ctx, "2025-01-01")
package kseflib

import (
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/keystore"
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/ksef"
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/model"
)

// Re-export core types for public API
type (
	Invoice         = model.Invoice
	LineItem        = model.LineItem
	VatBreakdownRow = model.VatBreakdownRow
	InvoiceHeader   = model.InvoiceHeader
)

// Re-export error types
type (
	ParseError      = model.ParseError
	ValidationError = model.ValidationError
	Error           = ksef.Error
	ErrorKind       = ksef.ErrorKind
)

// Re-export error kinds
const (
	KindKeyUnavailable  = ksef.KindKeyUnavailable
	KindSigning         = ksef.KindSigning
	KindAuthSession     = ksef.KindAuthSession
	KindAuthCredentials = ksef.KindAuthCredentials
	KindValidation      = ksef.KindValidation
	KindTransport       = ksef.KindTransport
	KindUnknownRemote   = ksef.KindUnknownRemote
)

// Re-export client types
type (
	Client       = ksef.Client
	ClientOption = ksef.ClientOption
	Credentials  = ksef.Credentials
	KeyProvider  = keystore.Provider
)

// NewClient builds a KSeF client for one taxpayer.
var NewClient = ksef.NewClient

// Client options
var (
	WithBaseURL        = ksef.WithBaseURL
	WithRequestTimeout = ksef.WithRequestTimeout
	WithSessionOptions = ksef.WithSessionOptions
)

// IsSessionError reports whether err is a retriable session-class
// authentication failure.
var IsSessionError = ksef.IsSessionError

// NewFileKeystore opens an on-disk keystore rooted at dir. Keys are
// encrypted at rest when passphrase is non-empty.
func NewFileKeystore(dir, passphrase string) *keystore.FileStore {
	return keystore.NewFileStore(dir, passphrase)
}
