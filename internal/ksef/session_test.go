package ksef_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RexEtImperator/skaner-faktur-projekt/internal/ksef"
)

var (
	testKeyOnce sync.Once
	testKeyPEM  []byte
)

// sharedKeyPEM generates one RSA key for the whole test binary; key
// generation is the slow part of these tests.
func sharedKeyPEM(t *testing.T) []byte {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKeyPEM = pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})
	})
	return testKeyPEM
}

type stubKeys struct {
	pem []byte
	err error
}

func (s stubKeys) PrivateKey(ref string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.pem, nil
}

// stubTransport records every call and answers from a scripted handler.
type stubTransport struct {
	mu      sync.Mutex
	calls   []string
	handler func(method, path string, body []byte, headers map[string]string) (*ksef.Response, error)
}

func (s *stubTransport) Post(ctx context.Context, path, contentType string, body []byte, headers map[string]string) (*ksef.Response, error) {
	s.record("POST " + path)
	return s.handler("POST", path, body, headers)
}

func (s *stubTransport) Get(ctx context.Context, path string, headers map[string]string) (*ksef.Response, error) {
	s.record("GET " + path)
	return s.handler("GET", path, nil, headers)
}

func (s *stubTransport) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *stubTransport) countCalls(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

func (s *stubTransport) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func okJSON(v interface{}) *ksef.Response {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return &ksef.Response{StatusCode: http.StatusOK, Body: body}
}

func challengeBody(challenge string, issuedAt time.Time) *ksef.Response {
	return okJSON(map[string]interface{}{
		"challenge": challenge,
		"timestamp": issuedAt.Format(time.RFC3339),
	})
}

func sessionTokenBody(token string) *ksef.Response {
	return okJSON(map[string]interface{}{
		"sessionToken": map[string]interface{}{"token": token},
	})
}

func sessionTerminatedBody() *ksef.Response {
	return &ksef.Response{
		StatusCode: http.StatusUnauthorized,
		Body: []byte(`{"exception":{"exceptionDetailList":[
			{"exceptionCode":21305,"exceptionDescription":"Session has been terminated"}]}}`),
	}
}

// authHandler answers the two authentication endpoints and delegates
// everything else.
func authHandler(clockNow func() time.Time, token string, rest func(method, path string, headers map[string]string) (*ksef.Response, error)) func(string, string, []byte, map[string]string) (*ksef.Response, error) {
	return func(method, path string, body []byte, headers map[string]string) (*ksef.Response, error) {
		switch {
		case strings.Contains(path, "AuthorisationChallenge"):
			return challengeBody("abc123", clockNow()), nil
		case strings.Contains(path, "InitSessionSigned"):
			return sessionTokenBody(token), nil
		default:
			if rest == nil {
				return nil, fmt.Errorf("unexpected call: %s %s", method, path)
			}
			return rest(method, path, headers)
		}
	}
}

func testCreds() ksef.Credentials {
	return ksef.Credentials{
		NIP:       "5260250274",
		AuthToken: "long-term-token",
		KeyRef:    "user-1",
	}
}

func TestSessionManager_ReusesActiveSession(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	transport := &stubTransport{handler: authHandler(clock.Now, "tok-1", nil)}

	m := ksef.NewSessionManager(transport, stubKeys{pem: sharedKeyPEM(t)}, testCreds(),
		ksef.WithClock(clock))

	first, err := m.EnsureActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", first.Token)

	second, err := m.EnsureActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Exactly one challenge/sign/init cycle for both calls.
	assert.Equal(t, 1, transport.countCalls("AuthorisationChallenge"))
	assert.Equal(t, 1, transport.countCalls("InitSessionSigned"))
}

func TestSessionManager_ExpiryTriggersReauth(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	transport := &stubTransport{handler: authHandler(clock.Now, "tok-1", nil)}

	m := ksef.NewSessionManager(transport, stubKeys{pem: sharedKeyPEM(t)}, testCreds(),
		ksef.WithClock(clock),
		ksef.WithSessionDuration(10*time.Minute))

	_, err := m.EnsureActive(context.Background())
	require.NoError(t, err)

	// Still inside the window: expiry at +10m, safety margin 60s.
	clock.Advance(8 * time.Minute)
	_, err = m.EnsureActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, transport.countCalls("AuthorisationChallenge"))

	// Crossing expiresAt - safetyMargin forces a fresh cycle.
	clock.Advance(90 * time.Second)
	_, err = m.EnsureActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, transport.countCalls("AuthorisationChallenge"))
	assert.Equal(t, 2, transport.countCalls("InitSessionSigned"))
}

func TestSessionManager_SingleFlight(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))

	transport := &stubTransport{}
	transport.handler = func(method, path string, body []byte, headers map[string]string) (*ksef.Response, error) {
		if strings.Contains(path, "AuthorisationChallenge") {
			// Hold the cycle open so concurrent callers pile up on it.
			time.Sleep(50 * time.Millisecond)
			return challengeBody("abc123", clock.Now()), nil
		}
		return sessionTokenBody("tok-1"), nil
	}

	m := ksef.NewSessionManager(transport, stubKeys{pem: sharedKeyPEM(t)}, testCreds(),
		ksef.WithClock(clock))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	tokens := make([]string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := m.EnsureActive(context.Background())
			errs[i] = err
			tokens[i] = sess.Token
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "tok-1", tokens[i])
	}
	assert.Equal(t, 1, transport.countCalls("AuthorisationChallenge"),
		"concurrent callers must share a single authentication cycle")
}

func TestSessionManager_KeyUnavailable(t *testing.T) {
	transport := &stubTransport{handler: func(string, string, []byte, map[string]string) (*ksef.Response, error) {
		return nil, fmt.Errorf("transport must not be touched")
	}}

	m := ksef.NewSessionManager(transport, stubKeys{err: fmt.Errorf("no key on disk")}, testCreds())

	_, err := m.EnsureActive(context.Background())
	var kerr *ksef.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, ksef.KindKeyUnavailable, kerr.Kind)
	assert.Zero(t, transport.totalCalls())
}

func TestSessionManager_SigningErrorOnBadKey(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	transport := &stubTransport{handler: authHandler(clock.Now, "tok-1", nil)}

	m := ksef.NewSessionManager(transport, stubKeys{pem: []byte("not a pem")}, testCreds(),
		ksef.WithClock(clock))

	_, err := m.EnsureActive(context.Background())
	var kerr *ksef.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, ksef.KindSigning, kerr.Kind)
}

func TestSessionManager_ChallengeFailureLeavesNoSession(t *testing.T) {
	calls := 0
	transport := &stubTransport{}
	transport.handler = func(method, path string, body []byte, headers map[string]string) (*ksef.Response, error) {
		if strings.Contains(path, "AuthorisationChallenge") {
			calls++
			if calls == 1 {
				return nil, fmt.Errorf("connection refused")
			}
			return challengeBody("abc123", time.Now()), nil
		}
		return sessionTokenBody("tok-2"), nil
	}

	m := ksef.NewSessionManager(transport, stubKeys{pem: sharedKeyPEM(t)}, testCreds())

	_, err := m.EnsureActive(context.Background())
	var kerr *ksef.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, ksef.KindTransport, kerr.Kind)
	assert.True(t, kerr.Retriable)

	// No partial state: the next call runs a full fresh cycle.
	sess, err := m.EnsureActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", sess.Token)
}

func TestSessionManager_CredentialRejectionSurfaced(t *testing.T) {
	transport := &stubTransport{}
	transport.handler = func(method, path string, body []byte, headers map[string]string) (*ksef.Response, error) {
		if strings.Contains(path, "AuthorisationChallenge") {
			return challengeBody("abc123", time.Now()), nil
		}
		return &ksef.Response{
			StatusCode: http.StatusUnauthorized,
			Body: []byte(`{"exception":{"exceptionDetailList":[
				{"exceptionCode":21326,"exceptionDescription":"Authentication negative"}]}}`),
		}, nil
	}

	m := ksef.NewSessionManager(transport, stubKeys{pem: sharedKeyPEM(t)}, testCreds())

	_, err := m.EnsureActive(context.Background())
	var kerr *ksef.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, ksef.KindAuthCredentials, kerr.Kind)
	assert.False(t, kerr.Retriable)
}

func TestSessionManager_SafetyMarginFloor(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	transport := &stubTransport{handler: authHandler(clock.Now, "tok-1", nil)}

	// A margin below the floor is clamped to one minute.
	m := ksef.NewSessionManager(transport, stubKeys{pem: sharedKeyPEM(t)}, testCreds(),
		ksef.WithClock(clock),
		ksef.WithSessionDuration(10*time.Minute),
		ksef.WithSafetyMargin(time.Second))

	_, err := m.EnsureActive(context.Background())
	require.NoError(t, err)

	clock.Advance(9*time.Minute + 30*time.Second)
	_, err = m.EnsureActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, transport.countCalls("AuthorisationChallenge"))
}
