package ksef

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the closed taxonomy of failures crossing the client
// boundary. Callers switch on Kind instead of inspecting raw transport
// or Exchange errors.
type ErrorKind int

const (
	// KindKeyUnavailable means the signing key could not be obtained
	KindKeyUnavailable ErrorKind = iota

	// KindSigning means the session document could not be signed
	KindSigning

	// KindAuthSession is a session-class authentication failure
	// (token missing or terminated); retried once after re-auth
	KindAuthSession

	// KindAuthCredentials is a credential-class authentication failure
	// (authentication negative); never retried
	KindAuthCredentials

	// KindValidation means the Exchange rejected the request as malformed
	KindValidation

	// KindTransport is a network-level failure with no structured
	// Exchange body; the caller may retry
	KindTransport

	// KindUnknownRemote is an Exchange error code outside the known table
	KindUnknownRemote
)

func (k ErrorKind) String() string {
	switch k {
	case KindKeyUnavailable:
		return "key_unavailable"
	case KindSigning:
		return "signing_error"
	case KindAuthSession:
		return "authentication_error_session"
	case KindAuthCredentials:
		return "authentication_error_credentials"
	case KindValidation:
		return "validation_error"
	case KindTransport:
		return "transport_error"
	case KindUnknownRemote:
		return "unknown_remote_error"
	default:
		return "unknown"
	}
}

// Error is the only error shape returned by the client facade.
type Error struct {
	Kind      ErrorKind
	Message   string
	Retriable bool

	// RemoteCode holds the Exchange exception code when one was received
	RemoteCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.RemoteCode != 0 {
		return fmt.Sprintf("ksef: %s [%d]: %s", e.Kind, e.RemoteCode, e.Message)
	}
	return fmt.Sprintf("ksef: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsSessionError reports whether err is a session-class authentication
// failure, eligible for the single invalidate-and-retry.
func IsSessionError(err error) bool {
	var kerr *Error
	return errors.As(err, &kerr) && kerr.Kind == KindAuthSession
}

// Exchange exception codes, per the KSeF exception vocabulary.
const (
	codeSessionTokenMissing    = 21301
	codeSessionTerminated      = 21305
	codeAuthenticationNegative = 21326
	codeMalformedIdentifier    = 21101
)

// exceptionResponse is the structured error envelope the Exchange
// attaches to non-2xx responses.
type exceptionResponse struct {
	Exception struct {
		ServiceCtx          string    `json:"serviceCtx"`
		ServiceCode         string    `json:"serviceCode"`
		ServiceName         string    `json:"serviceName"`
		Timestamp           time.Time `json:"timestamp"`
		ReferenceNumber     string    `json:"referenceNumber"`
		ExceptionDetailList []struct {
			ExceptionCode        int    `json:"exceptionCode"`
			ExceptionDescription string `json:"exceptionDescription"`
		} `json:"exceptionDetailList"`
	} `json:"exception"`
}

// TranslateRemote maps an Exchange exception code onto the local
// taxonomy. Unknown codes become KindUnknownRemote with the raw
// description preserved for diagnostics.
func TranslateRemote(code int, description string) *Error {
	switch code {
	case codeSessionTokenMissing, codeSessionTerminated:
		return &Error{
			Kind:       KindAuthSession,
			Message:    "session expired or invalid",
			Retriable:  true,
			RemoteCode: code,
		}
	case codeAuthenticationNegative:
		return &Error{
			Kind:       KindAuthCredentials,
			Message:    "authentication rejected: check the authorization token and signing key",
			Retriable:  false,
			RemoteCode: code,
		}
	case codeMalformedIdentifier:
		return &Error{
			Kind:       KindValidation,
			Message:    "malformed identifier: " + description,
			Retriable:  false,
			RemoteCode: code,
		}
	default:
		return &Error{
			Kind:       KindUnknownRemote,
			Message:    description,
			Retriable:  false,
			RemoteCode: code,
		}
	}
}

// translateResponse turns a non-2xx Exchange response into a local
// error. A body without the structured exception envelope is treated as
// a transport-level failure.
func translateResponse(status int, body []byte) *Error {
	var env exceptionResponse
	if err := json.Unmarshal(body, &env); err == nil && len(env.Exception.ExceptionDetailList) > 0 {
		detail := env.Exception.ExceptionDetailList[0]
		return TranslateRemote(detail.ExceptionCode, detail.ExceptionDescription)
	}

	return &Error{
		Kind:      KindTransport,
		Message:   fmt.Sprintf("unexpected response from KSeF (status %d)", status),
		Retriable: true,
	}
}

// translateTransport wraps a network-level failure.
func translateTransport(err error) *Error {
	return &Error{
		Kind:      KindTransport,
		Message:   "cannot reach KSeF",
		Retriable: true,
		Cause:     err,
	}
}

func keyUnavailable(err error) *Error {
	return &Error{
		Kind:    KindKeyUnavailable,
		Message: "cannot load the signing key; make sure it has been uploaded",
		Cause:   err,
	}
}

func signingError(err error) *Error {
	return &Error{
		Kind:    KindSigning,
		Message: "cannot sign the session initialization document",
		Cause:   err,
	}
}

func validationError(message string, cause error) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: message,
		Cause:   cause,
	}
}
