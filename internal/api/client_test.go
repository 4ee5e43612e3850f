package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/loadctl/internal/core/session"
)

// memStore is an in-memory session.Store.
type memStore struct {
	mu   sync.Mutex
	sess session.Session
}

func newMemStore(s session.Session) *memStore {
	return &memStore{sess: s}
}

func (m *memStore) Get(context.Context) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.Clone(), nil
}

func (m *memStore) Replace(_ context.Context, s session.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = s.Clone()
	return nil
}

func (m *memStore) UpdateTokens(_ context.Context, p session.TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sess.Authenticated() {
		return session.ErrNoSession
	}
	m.sess = m.sess.WithTokens(p)
	return nil
}

func (m *memStore) UpdateProfile(_ context.Context, p session.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sess.Authenticated() {
		return session.ErrNoSession
	}
	m.sess.User = &p
	return nil
}

func (m *memStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = session.Session{}
	return nil
}

func loggedIn() session.Session {
	return session.New(
		session.TokenPair{AccessToken: "old-access", RefreshToken: "old-refresh"},
		session.Profile{ID: "u1", Email: "ops@example.com", CompanyID: "c1"},
	)
}

// backend is a fake REST server. Requests to /auth/refresh are answered by
// refresh, everything else by handler.
type backend struct {
	refreshCalls atomic.Int32
	calls        atomic.Int32
	refresh      http.HandlerFunc
	handler      http.HandlerFunc
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/auth/refresh" {
		b.refreshCalls.Add(1)
		b.refresh(w, r)
		return
	}
	b.calls.Add(1)
	b.handler(w, r)
}

func newTestClient(t *testing.T, b *backend, store session.Store) *Client {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	return New(Config{
		BaseURL:     srv.URL,
		RefreshPath: "/auth/refresh",
		Timeout:     5 * time.Second,
	}, store, zerolog.New(io.Discard))
}

func rotateTo(access, refresh string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") != "" {
			http.Error(w, "refresh must not carry a bearer token", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(session.TokenPair{AccessToken: access, RefreshToken: refresh})
	}
}

func rejectRefresh(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "refresh token revoked", http.StatusUnauthorized)
}

// requireBearer answers 401 unless the request carries the given token.
func requireBearer(token string, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

func TestCall_Success(t *testing.T) {
	b := &backend{
		refresh: rotateTo("unused", "unused"),
		handler: requireBearer("old-access", map[string]string{"id": "L1"}),
	}
	store := newMemStore(loggedIn())
	client := newTestClient(t, b, store)

	var out struct{ ID string }
	err := client.Do(context.Background(), "loads/L1", Options{}, &out)
	require.NoError(t, err)

	assert.Equal(t, "L1", out.ID)
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Equal(t, int32(0), b.refreshCalls.Load())
}

func TestCall_RefreshThenRetry(t *testing.T) {
	b := &backend{
		refresh: rotateTo("new-access", "new-refresh"),
		handler: requireBearer("new-access", map[string]string{"id": "L1"}),
	}
	store := newMemStore(loggedIn())
	client := newTestClient(t, b, store)

	var out struct{ ID string }
	err := client.Do(context.Background(), "/loads/L1", Options{}, &out)
	require.NoError(t, err)

	assert.Equal(t, "L1", out.ID, "body of the retried response")
	assert.Equal(t, int32(1), b.refreshCalls.Load(), "exactly one refresh")
	assert.Equal(t, int32(2), b.calls.Load(), "original plus exactly one retry")

	sess, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", sess.AccessToken)
	assert.Equal(t, "new-refresh", sess.RefreshToken)
	require.NotNil(t, sess.User)
	assert.Equal(t, "u1", sess.User.ID, "profile kept across refresh")
}

func TestCall_RefreshFailsIsSessionExpired(t *testing.T) {
	b := &backend{
		refresh: rejectRefresh,
		handler: requireBearer("never", nil),
	}
	client := newTestClient(t, b, newMemStore(loggedIn()))

	err := client.Do(context.Background(), "/loads", Options{}, nil)

	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), b.refreshCalls.Load(), "exactly one refresh attempt")
	assert.Equal(t, int32(1), b.calls.Load(), "no retry after failed refresh")
}

func TestCall_RetryAlso401(t *testing.T) {
	b := &backend{
		refresh: rotateTo("new-access", "new-refresh"),
		handler: requireBearer("never", nil),
	}
	client := newTestClient(t, b, newMemStore(loggedIn()))

	err := client.Do(context.Background(), "/loads", Options{}, nil)

	require.ErrorIs(t, err, ErrSessionExpired)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Equal(t, int32(2), b.calls.Load())
}

func TestCall_401WithoutRefreshToken(t *testing.T) {
	b := &backend{
		refresh: rotateTo("new-access", "new-refresh"),
		handler: requireBearer("never", nil),
	}
	client := newTestClient(t, b, newMemStore(session.Session{}))

	err := client.Call(context.Background(), "/loads", Options{}, Credentials{AccessToken: "a"}, nil)

	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(0), b.refreshCalls.Load())
}

func TestCall_NonSuccessStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "server text", status: http.StatusConflict, body: "load already accepted", message: "load already accepted"},
		{name: "empty body", status: http.StatusInternalServerError, body: "", message: "internal server error"},
		{name: "not found", status: http.StatusNotFound, body: "no such load\n", message: "no such load"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &backend{
				refresh: rotateTo("unused", "unused"),
				handler: func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(tt.status)
					_, _ = io.WriteString(w, tt.body)
				},
			}
			client := newTestClient(t, b, newMemStore(loggedIn()))

			err := client.Do(context.Background(), "/loads", Options{}, nil)

			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.NotErrorIs(t, err, ErrSessionExpired)
			assert.Equal(t, tt.status, reqErr.Status)
			assert.Equal(t, tt.message, reqErr.Message())
			assert.Equal(t, tt.status, StatusOf(err))
			assert.Equal(t, int32(0), b.refreshCalls.Load())
		})
	}
}

func TestCall_SendsBodyAndHeaders(t *testing.T) {
	var (
		gotMethod string
		gotBody   map[string]any
		gotHeader string
		gotQuery  string
		gotReqID  string
	)
	b := &backend{
		refresh: rotateTo("unused", "unused"),
		handler: func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotHeader = r.Header.Get("X-Trace")
			gotQuery = r.URL.Query().Get("status")
			gotReqID = r.Header.Get("X-Request-ID")
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusNoContent)
		},
	}
	client := newTestClient(t, b, newMemStore(loggedIn()))

	err := client.Do(context.Background(), "loads", Options{
		Method:  "post",
		Body:    map[string]string{"reference": "R-1"},
		Headers: map[string]string{"X-Trace": "abc"},
		Query:   map[string]string{"status": "open"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "R-1", gotBody["reference"])
	assert.Equal(t, "abc", gotHeader)
	assert.Equal(t, "open", gotQuery)
	assert.NotEmpty(t, gotReqID)
}

func TestCall_AnonymousSendsNoBearer(t *testing.T) {
	var auth string
	b := &backend{
		refresh: rotateTo("unused", "unused"),
		handler: func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusOK)
		},
	}
	client := newTestClient(t, b, newMemStore(session.Session{}))

	require.NoError(t, client.Do(context.Background(), "/health", Options{}, nil))
	assert.Empty(t, auth)
}

func TestCall_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	release := make(chan struct{})
	b := &backend{
		refresh: func(w http.ResponseWriter, r *http.Request) {
			<-release
			rotateTo("new-access", "new-refresh")(w, r)
		},
		handler: requireBearer("new-access", map[string]string{"ok": "yes"}),
	}
	store := newMemStore(loggedIn())
	client := newTestClient(t, b, store)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Do(context.Background(), "/loads", Options{}, nil)
		}(i)
	}

	// Every caller has been rejected once before the refresh completes.
	require.Eventually(t, func() bool { return b.calls.Load() >= n }, 5*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), b.refreshCalls.Load())
}

func TestCall_AdoptsTokensRotatedByAnotherCall(t *testing.T) {
	b := &backend{
		refresh: rejectRefresh,
		handler: requireBearer("rotated-access", nil),
	}
	store := newMemStore(loggedIn())
	client := newTestClient(t, b, store)

	// The stored pair has moved on since these credentials were read.
	require.NoError(t, store.UpdateTokens(context.Background(), session.TokenPair{
		AccessToken:  "rotated-access",
		RefreshToken: "rotated-refresh",
	}))

	err := client.Call(context.Background(), "/loads", Options{}, storedCredentials(loggedIn()), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(0), b.refreshCalls.Load())
}

func TestCall_ExplicitCredentialsRefreshOutsideStore(t *testing.T) {
	var gotRefresh string
	b := &backend{
		refresh: func(w http.ResponseWriter, r *http.Request) {
			var req refreshRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			gotRefresh = req.RefreshToken
			_ = json.NewEncoder(w).Encode(session.TokenPair{AccessToken: "other-new", RefreshToken: "other-refresh-2"})
		},
		handler: requireBearer("other-new", nil),
	}
	store := newMemStore(loggedIn())
	client := newTestClient(t, b, store)

	err := client.Call(context.Background(), "/loads", Options{},
		Credentials{AccessToken: "other-access", RefreshToken: "other-refresh"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "other-refresh", gotRefresh, "caller's own refresh token is exchanged")
	assert.Equal(t, int32(1), b.refreshCalls.Load())

	sess, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, loggedIn().Tokens(), sess.Tokens(), "stored session untouched")
}

func TestCall_401WithoutAccessTokenIsRequestError(t *testing.T) {
	b := &backend{
		refresh: rotateTo("unused", "unused"),
		handler: func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "invalid email or password", http.StatusUnauthorized)
		},
	}
	client := newTestClient(t, b, newMemStore(loggedIn()))

	err := client.Call(context.Background(), "/auth/login", Options{Method: http.MethodPost}, Credentials{}, nil)

	assert.NotErrorIs(t, err, ErrSessionExpired)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
	assert.Equal(t, "invalid email or password", reqErr.Message())
	assert.Equal(t, int32(0), b.refreshCalls.Load())
}

func TestStream_OpensBody(t *testing.T) {
	b := &backend{
		refresh: rotateTo("new-access", "new-refresh"),
		handler: func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer new-access" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
			_, _ = io.WriteString(w, "data: {}\n\n")
		},
	}
	client := newTestClient(t, b, newMemStore(loggedIn()))

	body, err := client.Stream(context.Background(), "/events", Options{
		Headers: map[string]string{"Accept": "text/event-stream"},
	})
	require.NoError(t, err)
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: {}\n\n", string(data))
	assert.Equal(t, int32(1), b.refreshCalls.Load())
}

func TestStream_ErrorStatus(t *testing.T) {
	b := &backend{
		refresh: rotateTo("unused", "unused"),
		handler: func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "stream disabled", http.StatusServiceUnavailable)
		},
	}
	client := newTestClient(t, b, newMemStore(loggedIn()))

	_, err := client.Stream(context.Background(), "/events", Options{})

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusServiceUnavailable, reqErr.Status)
	assert.Equal(t, "stream disabled", reqErr.Message())
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "loads", want: "/loads"},
		{in: "/loads", want: "/loads"},
		{in: "//loads", want: "/loads"},
		{in: "", want: "/"},
		{in: "https://events.example.com/events", want: "https://events.example.com/events"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeEndpoint(tt.in), tt.in)
	}
}

type stubRefresher struct {
	calls atomic.Int32
	pair  session.TokenPair
	ok    bool
}

func (s *stubRefresher) Refresh(context.Context, string) (session.TokenPair, bool) {
	s.calls.Add(1)
	return s.pair, s.ok
}

func TestCall_CustomRefresher(t *testing.T) {
	b := &backend{
		refresh: rejectRefresh,
		handler: requireBearer("stub-access", nil),
	}
	refresher := &stubRefresher{pair: session.TokenPair{AccessToken: "stub-access", RefreshToken: "stub-refresh"}, ok: true}
	client := newTestClient(t, b, newMemStore(loggedIn())).WithRefresher(refresher)

	require.NoError(t, client.Do(context.Background(), "/loads", Options{}, nil))
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, int32(0), b.refreshCalls.Load())
}

func TestRefreshCoordinator_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "rejected", handler: rejectRefresh},
		{name: "malformed body", handler: func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "{not json")
		}},
		{name: "missing tokens", handler: func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"accessToken":"only"}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &backend{refresh: tt.handler, handler: requireBearer("never", nil)}
			client := newTestClient(t, b, newMemStore(loggedIn()))

			_, ok := client.refresher.Refresh(context.Background(), "old-refresh")
			assert.False(t, ok)
		})
	}
}

func TestRefreshCoordinator_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := New(Config{BaseURL: url, RefreshPath: "auth/refresh"}, newMemStore(loggedIn()), zerolog.New(io.Discard))

	_, ok := client.refresher.Refresh(context.Background(), "old-refresh")
	assert.False(t, ok)

	err := client.Do(context.Background(), "/loads", Options{}, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSessionExpired))
}
