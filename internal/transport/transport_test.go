package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gamershub/hubclient/internal/api"
	"github.com/gamershub/hubclient/internal/apperrors"
	"github.com/gamershub/hubclient/internal/logger"
	"github.com/gamershub/hubclient/internal/session"
	"github.com/gamershub/hubclient/internal/store"
	"github.com/gamershub/hubclient/internal/testutil"
	"github.com/gamershub/hubclient/internal/token"
)

type fakeSession struct {
	token        string
	expired      bool
	needsRefresh bool

	refreshCalls atomic.Int32
	refreshed    string
	refreshErr   error

	sessionEnded atomic.Bool
}

func (s *fakeSession) AccessToken() (string, bool) {
	return s.token, s.token != ""
}

func (s *fakeSession) TokenExpired(string) bool      { return s.expired }
func (s *fakeSession) TokenNeedsRefresh(string) bool { return s.needsRefresh }
func (s *fakeSession) Expire()                       { s.sessionEnded.Store(true) }

func (s *fakeSession) RefreshToken(ctx context.Context) (string, error) {
	s.refreshCalls.Add(1)
	if s.refreshErr != nil {
		return "", s.refreshErr
	}
	return s.refreshed, nil
}

// recordingServer notes Authorization headers and request bodies.
type recordingServer struct {
	*httptest.Server
	headers []string
	bodies  []string
	status  []int
	hits    int
}

func newRecordingServer(t *testing.T, statuses ...int) *recordingServer {
	t.Helper()

	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.headers = append(rs.headers, r.Header.Get("Authorization"))
		rs.bodies = append(rs.bodies, string(body))

		status := http.StatusOK
		if rs.hits < len(statuses) {
			status = statuses[rs.hits]
		}
		rs.hits++
		w.WriteHeader(status)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func newClient(session Session) *http.Client {
	return &http.Client{Transport: New(nil, session, logger.NewNoOpLogger())}
}

func TestAuthTransport_AttachesBearer(t *testing.T) {
	srv := newRecordingServer(t)
	session := &fakeSession{token: "tok-1"}

	resp, err := newClient(session).Get(srv.URL + "/threads")

	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"Bearer tok-1"}, srv.headers)
}

func TestAuthTransport_NoTokenPassesThrough(t *testing.T) {
	srv := newRecordingServer(t)
	session := &fakeSession{}

	resp, err := newClient(session).Get(srv.URL + "/threads")

	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, []string{""}, srv.headers, "no credential must be attached without a session")
}

func TestAuthTransport_RefreshEndpointUntouched(t *testing.T) {
	srv := newRecordingServer(t)
	session := &fakeSession{token: "tok-1", needsRefresh: true}

	resp, err := newClient(session).Post(srv.URL+"/auth/refresh-token", "application/json", strings.NewReader("{}"))

	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, []string{""}, srv.headers)
	require.Equal(t, int32(0), session.refreshCalls.Load(), "the refresh endpoint must never trigger a refresh")
}

func TestAuthTransport_ExpiredTokenFailsLocally(t *testing.T) {
	srv := newRecordingServer(t)
	session := &fakeSession{token: "tok-1", expired: true}

	_, err := newClient(session).Get(srv.URL + "/threads")

	require.ErrorIs(t, err, apperrors.ErrTokenExpired)
	require.True(t, session.sessionEnded.Load(), "an expired token must end the session as a forced expiry")
	require.Equal(t, 0, srv.hits, "nothing must reach the server")
}

// The full stack variant: a real manager must surface a transport-detected
// expiry through the session-expired hook, exactly like any other forced
// ending, so the user learns why they were signed out.
func TestAuthTransport_ExpiredTokenNotifiesSessionExpiry(t *testing.T) {
	backend, err := api.NewClient(api.Config{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err, "can't build API client")

	st := store.NewSessionStore(store.NewMemoryTier(), store.NewMemoryTier())
	require.NoError(t, st.SetRememberMe(false))
	// 30s to live is inside the default 60s grace period, so locally expired
	require.NoError(t, st.SaveToken(testutil.TokenExpiringIn(t, 30*time.Second)))

	manager, err := session.NewManager(session.Config{}, backend, st, token.New(token.Config{}))
	require.NoError(t, err, "can't build session manager")

	notices := make(chan string, 1)
	manager.OnSessionExpired(func(reason string) { notices <- reason })

	client := &http.Client{Transport: New(nil, manager, logger.NewNoOpLogger())}
	_, err = client.Get("http://gamershub.example/threads")

	require.ErrorIs(t, err, apperrors.ErrTokenExpired)
	require.Equal(t, session.StatusLoggedOut, manager.Current().Status)

	select {
	case reason := <-notices:
		require.NotEmpty(t, reason, "the notice must say why the session ended")
	case <-time.After(time.Second):
		t.Fatal("session-expired hook never fired for a transport-detected expiry")
	}

	_, ok := st.Token()
	require.False(t, ok, "the dead session must be fully cleared")
}

func TestAuthTransport_ProactiveRefresh(t *testing.T) {
	t.Run("near-expiry token is renewed before a protected request", func(t *testing.T) {
		srv := newRecordingServer(t)
		session := &fakeSession{token: "tok-old", needsRefresh: true, refreshed: "tok-new"}

		resp, err := newClient(session).Get(srv.URL + "/threads")

		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, int32(1), session.refreshCalls.Load())
		require.Equal(t, []string{"Bearer tok-new"}, srv.headers)
	})

	t.Run("public routes skip the proactive refresh", func(t *testing.T) {
		srv := newRecordingServer(t)
		session := &fakeSession{token: "tok-old", needsRefresh: true, refreshed: "tok-new"}

		resp, err := newClient(session).Get(srv.URL + "/auth/forgot-password")

		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, int32(0), session.refreshCalls.Load())
		require.Equal(t, []string{"Bearer tok-old"}, srv.headers, "a valid token is still attached")
	})

	t.Run("transient refresh failure sends with the current token", func(t *testing.T) {
		srv := newRecordingServer(t)
		session := &fakeSession{token: "tok-old", needsRefresh: true, refreshErr: apperrors.ErrNetwork}

		resp, err := newClient(session).Get(srv.URL + "/threads")

		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, []string{"Bearer tok-old"}, srv.headers)
	})
}

func TestAuthTransport_RetryAfter401(t *testing.T) {
	t.Run("one refresh and retry on 401", func(t *testing.T) {
		srv := newRecordingServer(t, http.StatusUnauthorized, http.StatusOK)
		session := &fakeSession{token: "tok-old", refreshed: "tok-new"}

		resp, err := newClient(session).Get(srv.URL + "/threads")

		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, []string{"Bearer tok-old", "Bearer tok-new"}, srv.headers)
		require.Equal(t, int32(1), session.refreshCalls.Load())
	})

	t.Run("request body is replayed on the retry", func(t *testing.T) {
		srv := newRecordingServer(t, http.StatusUnauthorized, http.StatusOK)
		session := &fakeSession{token: "tok-old", refreshed: "tok-new"}

		resp, err := newClient(session).Post(srv.URL+"/posts", "application/json", strings.NewReader(`{"title":"hi"}`))

		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, []string{`{"title":"hi"}`, `{"title":"hi"}`}, srv.bodies)
	})

	t.Run("second 401 is surfaced, not retried again", func(t *testing.T) {
		srv := newRecordingServer(t, http.StatusUnauthorized, http.StatusUnauthorized)
		session := &fakeSession{token: "tok-old", refreshed: "tok-new"}

		resp, err := newClient(session).Get(srv.URL + "/threads")

		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, 2, srv.hits, "exactly one retry")
		require.Equal(t, int32(1), session.refreshCalls.Load())
	})

	t.Run("failed refresh returns the original 401", func(t *testing.T) {
		srv := newRecordingServer(t, http.StatusUnauthorized)
		session := &fakeSession{token: "tok-old", refreshErr: apperrors.ErrRefreshRejected}

		resp, err := newClient(session).Get(srv.URL + "/threads")

		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, 1, srv.hits)
	})

	t.Run("401 from a public route is not retried", func(t *testing.T) {
		srv := newRecordingServer(t, http.StatusUnauthorized)
		session := &fakeSession{token: "tok-old", refreshed: "tok-new"}

		resp, err := newClient(session).Post(srv.URL+"/auth/login", "application/json", strings.NewReader("{}"))

		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, int32(0), session.refreshCalls.Load(), "a 401 from login means bad credentials, not a dead token")
	})
}
