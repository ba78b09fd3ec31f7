// Package transport augments outgoing HTTP requests with the session's
// bearer credential and handles token renewal transparently: proactively
// when the token is close to expiry, reactively when the server answers 401.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gamershub/hubclient/internal/apperrors"
	"github.com/gamershub/hubclient/internal/logger"
)

// Session is the slice of the session manager the transport needs.
type Session interface {
	AccessToken() (string, bool)
	TokenExpired(token string) bool
	TokenNeedsRefresh(token string) bool
	RefreshToken(ctx context.Context) (string, error)

	// Expire ends the session as a forced expiry, not a voluntary logout:
	// the session-expired notification must reach the user
	Expire()
}

// refreshPathSuffix marks the refresh endpoint itself: augmenting it would
// recurse.
const refreshPathSuffix = "/auth/refresh-token"

// publicPathPrefixes are endpoints that never require a credential. A
// near-expiry token is not renewed for them, though a still-valid one is
// attached anyway since the server ignores it.
var publicPathPrefixes = []string{
	"/auth/",
	"/health",
}

// AuthTransport is an http.RoundTripper that injects the current access
// token into every request and keeps it fresh. A request that goes out
// without a token (no session) passes through untouched.
type AuthTransport struct {
	// Base performs the actual request; nil means http.DefaultTransport
	Base http.RoundTripper

	Session Session
	Logger  logger.Logger
}

func New(base http.RoundTripper, session Session, log logger.Logger) *AuthTransport {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &AuthTransport{
		Base:    base,
		Session: session,
		Logger:  log,
	}
}

func (t *AuthTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func isPublicPath(path string) bool {
	for _, prefix := range publicPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// RoundTrip implements http.RoundTripper.
//
// The refresh endpoint is passed through untouched: the session layer sets
// its credentials explicitly, and triggering a refresh from inside a refresh
// would recurse. For everything else: an expired token ends the session and
// fails the request locally, a near-expiry token on a protected route is
// renewed first, and a 401 answer triggers one refresh-and-retry before the
// failure is surfaced.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.HasSuffix(req.URL.Path, refreshPathSuffix) {
		return t.base().RoundTrip(req)
	}

	tok, ok := t.Session.AccessToken()
	if !ok || tok == "" {
		return t.base().RoundTrip(req)
	}

	if t.Session.TokenExpired(tok) {
		t.Logger.Warn("Access token expired before request could be sent",
			"method", req.Method, "path", req.URL.Path)
		t.Session.Expire()
		return nil, fmt.Errorf("%w: can't send %s %s", apperrors.ErrTokenExpired, req.Method, req.URL.Path)
	}

	if t.Session.TokenNeedsRefresh(tok) && !isPublicPath(req.URL.Path) {
		fresh, err := t.Session.RefreshToken(req.Context())
		if err != nil {
			// Transient refresh failures don't block the request: the
			// current token is still valid, just close to expiry
			t.Logger.Debug("Proactive refresh failed, sending with current token",
				"path", req.URL.Path, "error", err.Error())
		} else {
			tok = fresh
		}
	}

	resp, err := t.send(req, tok)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || isPublicPath(req.URL.Path) {
		return resp, nil
	}

	// The server rejected a token the client considered valid. Refresh once
	// and retry; a second rejection is surfaced as-is.
	t.Logger.Info("Request rejected with 401, refreshing and retrying",
		"method", req.Method, "path", req.URL.Path)

	fresh, refreshErr := t.Session.RefreshToken(req.Context())
	if refreshErr != nil {
		return resp, nil
	}

	retry, rewindErr := rewind(req)
	if rewindErr != nil {
		t.Logger.Warn("Can't rewind request body for retry", "path", req.URL.Path, "error", rewindErr.Error())
		return resp, nil
	}

	resp.Body.Close()
	return t.send(retry, fresh)
}

// send dispatches a clone of req carrying the bearer credential, leaving the
// caller's request untouched.
func (t *AuthTransport) send(req *http.Request, tok string) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+tok)
	return t.base().RoundTrip(r)
}

// rewind produces a retryable copy of req with its body reset. Requests with
// a body but no GetBody can't be replayed.
func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.GetBody == nil {
		if req.Body != nil {
			return nil, fmt.Errorf("request body is not replayable")
		}
		return req, nil
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("error while rewinding request body. Err: %w", err)
	}

	r := req.Clone(req.Context())
	r.Body = body
	return r, nil
}
