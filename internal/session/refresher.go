package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/gamershub/hubclient/internal/apperrors"
	"github.com/gamershub/hubclient/internal/logger"
	"github.com/gamershub/hubclient/internal/models"
	"github.com/gamershub/hubclient/internal/store"
)

// errStaleCompletion marks a refresh that finished after the session it was
// started for had already ended. The result is discarded.
var errStaleCompletion = errors.New("refresh completed for a stale session")

// refreshAPI is the slice of the backend client the refresher needs
type refreshAPI interface {
	RefreshToken(ctx context.Context, accessToken string, refreshToken string) (*models.AuthResponse, error)
}

// flight is one in-progress refresh operation. done is closed once token and
// err are final: subscribers arriving before completion wait on it, and
// subscribers arriving after completion read the result immediately instead
// of hanging.
type flight struct {
	id    uuid.UUID
	epoch uint64
	done  chan struct{}

	token string
	err   error
}

// Refresher serializes token refreshes: no matter how many callers need a
// fresh token at once, at most one request hits the refresh endpoint and
// every caller observes that single outcome.
type Refresher struct {
	api    refreshAPI
	store  *store.SessionStore
	logger logger.Logger

	// epoch returns the manager's current session generation. apply lands a
	// successful refresh (persist + publish), rejecting stale epochs.
	// forceLogout tears the session down after an authorization rejection.
	epoch       func() uint64
	apply       func(epoch uint64, auth *models.AuthResponse) error
	forceLogout func()

	mu       sync.Mutex
	inflight *flight
}

func newRefresher(
	api refreshAPI,
	sessionStore *store.SessionStore,
	log logger.Logger,
	epoch func() uint64,
	apply func(epoch uint64, auth *models.AuthResponse) error,
	forceLogout func(),
) *Refresher {
	return &Refresher{
		api:         api,
		store:       sessionStore,
		logger:      log,
		epoch:       epoch,
		apply:       apply,
		forceLogout: forceLogout,
	}
}

// Refresh obtains a new access token. If a refresh is already in progress
// the caller joins it and receives the same token or the same error; only
// the first caller performs the network call.
//
// On success the new token pair (and user, when the backend returns one) is
// already persisted and published by the time Refresh returns. On an
// authorization rejection the whole session is logged out before the error
// is returned; transient failures leave the session untouched so a later
// attempt can retry.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	r.mu.Lock()
	if f := r.inflight; f != nil {
		r.mu.Unlock()

		select {
		case <-f.done:
			return f.token, f.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f := &flight{
		id:    uuid.New(),
		epoch: r.epoch(),
		done:  make(chan struct{}),
	}
	r.inflight = f
	r.mu.Unlock()

	f.token, f.err = r.run(ctx, f)

	r.mu.Lock()
	r.inflight = nil
	r.mu.Unlock()
	close(f.done)

	return f.token, f.err
}

func (r *Refresher) run(ctx context.Context, f *flight) (string, error) {
	log := r.logger.With("refresh_id", f.id.String())

	refreshToken, ok := r.store.RefreshToken()
	if !ok || refreshToken == "" {
		return "", apperrors.ErrNoRefreshToken
	}

	// The backend wants the old access token as the bearer credential even
	// though it may already be near expiry
	accessToken, _ := r.store.Token()

	auth, err := r.api.RefreshToken(ctx, accessToken, refreshToken)
	if err != nil {
		if errors.Is(err, apperrors.ErrRefreshRejected) {
			log.Warn("Refresh token rejected, ending session", "error", err.Error())
			r.forceLogout()
		} else {
			log.Warn("Token refresh failed, keeping session", "error", err.Error())
		}
		return "", err
	}

	if err := r.apply(f.epoch, auth); err != nil {
		log.Debug("Discarding refresh result", "error", err.Error())
		return "", err
	}

	log.Debug("Access token refreshed")
	return auth.Token, nil
}
