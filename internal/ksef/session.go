package ksef

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/RexEtImperator/skaner-faktur-projekt/internal/keystore"
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/xmldsig"
)

const (
	// DefaultSessionDuration is the assumed session lifetime, anchored
	// at the challenge timestamp. The Exchange does not return an
	// expiry, so this stays configurable.
	DefaultSessionDuration = 10 * time.Hour

	// DefaultSafetyMargin is subtracted from the expiry when deciding
	// whether a held session is still usable.
	DefaultSafetyMargin = time.Minute

	// MinSafetyMargin is the floor any configured margin is clamped to
	MinSafetyMargin = time.Minute
)

// initSessionReferencePath locates the element the enveloped signature
// is computed over.
const initSessionReferencePath = "//InitSessionRequest"

// Credentials identify one taxpayer against the Exchange: the NIP, the
// long-lived authorization token, and the keystore reference of the
// signing key.
type Credentials struct {
	NIP       string
	AuthToken string
	KeyRef    string
}

// Session is an established Exchange session. Usable while
// now < ExpiresAt - safety margin.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// SessionManager owns the only mutable session state and drives the
// challenge / sign / init cycle. Concurrent callers needing
// authentication are coalesced onto a single in-flight cycle.
type SessionManager struct {
	transport Transport
	keys      keystore.Provider
	creds     Credentials

	sessionDuration time.Duration
	safetyMargin    time.Duration
	clock           clockwork.Clock

	mu      sync.Mutex
	current *Session

	group singleflight.Group
}

// SessionOption configures a SessionManager
type SessionOption func(*SessionManager)

// WithClock substitutes the time source (fake clock in tests)
func WithClock(clock clockwork.Clock) SessionOption {
	return func(m *SessionManager) {
		m.clock = clock
	}
}

// WithSessionDuration overrides the assumed session lifetime
func WithSessionDuration(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.sessionDuration = d
		}
	}
}

// WithSafetyMargin overrides the expiry safety margin, clamped to
// MinSafetyMargin.
func WithSafetyMargin(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d < MinSafetyMargin {
			d = MinSafetyMargin
		}
		m.safetyMargin = d
	}
}

// NewSessionManager creates a manager for one taxpayer identity.
func NewSessionManager(transport Transport, keys keystore.Provider, creds Credentials, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		transport:       transport,
		keys:            keys,
		creds:           creds,
		sessionDuration: DefaultSessionDuration,
		safetyMargin:    DefaultSafetyMargin,
		clock:           clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureActive returns the held session if it is still inside the
// validity window, or runs one full authentication cycle. Safe for
// concurrent use; at most one cycle is in flight at a time.
func (m *SessionManager) EnsureActive(ctx context.Context) (Session, error) {
	if sess, ok := m.active(); ok {
		return sess, nil
	}

	v, err, _ := m.group.Do("session", func() (interface{}, error) {
		// A concurrent caller may have finished the cycle while this
		// one was queued.
		if sess, ok := m.active(); ok {
			return sess, nil
		}
		return m.authenticate(ctx)
	})
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

// Invalidate drops the held session, forcing re-authentication on the
// next EnsureActive. Called when a downstream request reports a
// session-class error.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
}

func (m *SessionManager) active() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Session{}, false
	}
	if !m.clock.Now().Before(m.current.ExpiresAt.Add(-m.safetyMargin)) {
		// Lazy expiry: an expired session is treated as absent.
		m.current = nil
		return Session{}, false
	}
	return *m.current, true
}

// authenticate runs challenge / sign / init-session. No partial state
// is retained on failure.
func (m *SessionManager) authenticate(ctx context.Context) (Session, error) {
	keyPEM, err := m.keys.PrivateKey(m.creds.KeyRef)
	if err != nil {
		return Session{}, keyUnavailable(err)
	}

	challenge, err := m.requestChallenge(ctx)
	if err != nil {
		return Session{}, err
	}

	document, err := buildInitSessionRequest(challenge.Challenge, m.creds.NIP, m.creds.AuthToken)
	if err != nil {
		return Session{}, signingError(err)
	}

	signed, err := xmldsig.Sign(document, initSessionReferencePath, keyPEM)
	if err != nil {
		return Session{}, signingError(err)
	}

	token, err := m.initSession(ctx, signed)
	if err != nil {
		return Session{}, err
	}

	sess := Session{
		Token:     token,
		ExpiresAt: challenge.Timestamp.Add(m.sessionDuration),
	}

	m.mu.Lock()
	m.current = &sess
	m.mu.Unlock()

	return sess, nil
}

func (m *SessionManager) requestChallenge(ctx context.Context) (*challengeResponse, error) {
	body, err := json.Marshal(challengeRequest{
		ContextIdentifier: contextIdentifier{Type: "NIP", Identifier: m.creds.NIP},
	})
	if err != nil {
		return nil, validationError("cannot encode challenge request", err)
	}

	resp, err := m.transport.Post(ctx, pathAuthorisationChallenge, contentTypeJSON, body, nil)
	if err != nil {
		return nil, translateTransport(err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, translateResponse(resp.StatusCode, resp.Body)
	}

	var challenge challengeResponse
	if err := json.Unmarshal(resp.Body, &challenge); err != nil {
		return nil, &Error{
			Kind:      KindTransport,
			Message:   "malformed challenge response",
			Retriable: true,
			Cause:     err,
		}
	}
	return &challenge, nil
}

func (m *SessionManager) initSession(ctx context.Context, signed []byte) (string, error) {
	resp, err := m.transport.Post(ctx, pathInitSessionSigned, contentTypeOctet, signed, nil)
	if err != nil {
		return "", translateTransport(err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", translateResponse(resp.StatusCode, resp.Body)
	}

	var init initSessionResponse
	if err := json.Unmarshal(resp.Body, &init); err != nil {
		return "", &Error{
			Kind:      KindTransport,
			Message:   "malformed session initialization response",
			Retriable: true,
			Cause:     err,
		}
	}
	if init.SessionToken.Token == "" {
		return "", &Error{
			Kind:    KindUnknownRemote,
			Message: "session initialization returned no token",
		}
	}
	return init.SessionToken.Token, nil
}
