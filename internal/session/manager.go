// Package session owns the client's authentication lifecycle: it loads the
// persisted session at startup, publishes the three-valued current-user
// state, renews the access token proactively and reactively, and guarantees
// that a dead session always resolves to a complete logout.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gamershub/hubclient/internal/api"
	"github.com/gamershub/hubclient/internal/apperrors"
	"github.com/gamershub/hubclient/internal/logger"
	"github.com/gamershub/hubclient/internal/models"
	"github.com/gamershub/hubclient/internal/store"
	"github.com/gamershub/hubclient/internal/token"
)

const (
	defaultCheckInterval         = 5 * time.Minute
	defaultRevalidateProbability = 0.2
	defaultSoftAlertLead         = 5 * time.Minute
	defaultHardAlertLag          = time.Minute
)

// backendAPI is the slice of the HTTP client the manager needs. *api.Client
// satisfies it; tests may substitute their own.
type backendAPI interface {
	Login(ctx context.Context, req api.LoginRequest) (*models.AuthResponse, error)
	Register(ctx context.Context, req api.RegisterRequest) (*models.AuthResponse, error)
	Profile(ctx context.Context, accessToken string) (*models.User, error)
	UpdateProfile(ctx context.Context, accessToken string, req api.UpdateProfileRequest) (*models.User, error)
	RefreshToken(ctx context.Context, accessToken string, refreshToken string) (*models.AuthResponse, error)
}

// Manager configuration. The zero value of every field means "use the
// default"; the revalidation probability accepts a negative value to switch
// opportunistic server checks off entirely.
type Config struct {
	// How often the background liveness check runs
	CheckInterval time.Duration

	// Probability that a liveness tick on a healthy token still revalidates
	// against the server, to catch server-side revocation. The 20% default
	// is a heuristic carried over from the web client; tune freely.
	RevalidateProbability float64

	// SoftAlertLead is how long before expiry the proactive-refresh alert
	// fires; HardAlertLag how long after expiry the force-logout alert does.
	SoftAlertLead time.Duration
	HardAlertLag  time.Duration

	// How many attempts the startup profile reconciliation makes
	ProfileAttempts int

	Logger logger.Logger
}

// Manager is the per-process session context. Construct exactly one and pass
// it to whatever needs auth state; there is deliberately no package-level
// instance.
type Manager struct {
	backend backendAPI
	store   *store.SessionStore
	codec   *token.Codec
	logger  logger.Logger

	refresher *Refresher
	bc        *broadcaster

	checkInterval         time.Duration
	revalidateProbability float64
	softAlertLead         time.Duration
	hardAlertLag          time.Duration
	profileAttempts       int

	mu          sync.Mutex
	epoch       uint64
	statusKnown bool
	softTimer   *time.Timer
	hardTimer   *time.Timer
	monitorStop chan struct{}
	onExpired   func(reason string)
	runCtx      context.Context

	// test hooks
	randFloat func() float64
}

func NewManager(cfg Config, backend backendAPI, sessionStore *store.SessionStore, codec *token.Codec) (*Manager, error) {
	if backend == nil || sessionStore == nil || codec == nil {
		return nil, errors.New("backend, store and codec must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.CheckInterval, defaultCheckInterval)
	setDefaultDuration(&cfg.SoftAlertLead, defaultSoftAlertLead)
	setDefaultDuration(&cfg.HardAlertLag, defaultHardAlertLag)

	if cfg.RevalidateProbability == 0 {
		cfg.RevalidateProbability = defaultRevalidateProbability
	}
	if cfg.RevalidateProbability < 0 {
		cfg.RevalidateProbability = 0
	}
	if cfg.ProfileAttempts == 0 {
		cfg.ProfileAttempts = defaultProfileAttempts
	}

	m := &Manager{
		backend: backend,
		store:   sessionStore,
		codec:   codec,
		logger:  cfg.Logger,

		bc: newBroadcaster(),

		checkInterval:         cfg.CheckInterval,
		revalidateProbability: cfg.RevalidateProbability,
		softAlertLead:         cfg.SoftAlertLead,
		hardAlertLag:          cfg.HardAlertLag,
		profileAttempts:       cfg.ProfileAttempts,

		randFloat: rand.Float64,
	}

	m.refresher = newRefresher(backend, sessionStore, cfg.Logger, m.currentEpoch, m.applyRefresh, m.expireSession)

	return m, nil
}

// Start runs the startup sequence: restore the persisted session if there is
// one, publish the resulting state, and reconcile the cached user against
// the server in the background. Synchronous work (reading the store,
// checking local expiry, the optimistic publish) completes before Start
// returns; the profile reconciliation resolves asynchronously.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx

	tok, ok := m.store.Token()
	if !ok || tok == "" {
		m.statusKnown = true
		m.publishLocked(AuthState{Status: StatusLoggedOut})
		m.mu.Unlock()
		return
	}

	if m.codec.IsExpired(tok) {
		m.logger.Warn("Persisted token already expired, dropping session")
		m.logoutLocked(false, "")
		m.mu.Unlock()
		return
	}

	// Publish the cached user right away so callers aren't blocked on the
	// network; the profile fetch below overwrites it once it lands
	if user, ok := m.store.User(); ok {
		m.publishLocked(AuthState{Status: StatusLoggedIn, User: user})
	}

	epoch := m.epoch
	m.mu.Unlock()

	go m.reconcileProfile(ctx, epoch, tok)
}

// reconcileProfile fetches the profile with bounded exponential backoff.
// Success confirms the cached session; exhaustion (or an outright
// authorization rejection) drops it.
func (m *Manager) reconcileProfile(ctx context.Context, epoch uint64, accessToken string) {
	var lastErr error

	for attempt := 1; attempt <= m.profileAttempts; attempt++ {
		if delay := backoffDelay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		user, err := m.backend.Profile(ctx, accessToken)
		if err == nil {
			m.mu.Lock()
			defer m.mu.Unlock()
			if epoch != m.epoch {
				return
			}

			if err := m.store.SaveUser(user); err != nil {
				m.logger.Error("Can't cache user record", "error", err.Error())
			}
			m.statusKnown = true
			m.publishLocked(AuthState{Status: StatusLoggedIn, User: user})
			m.scheduleAlertsLocked(accessToken)
			m.startMonitorLocked()
			return
		}

		lastErr = err
		if errors.Is(err, apperrors.ErrProfileRejected) {
			// The server says this session is dead; retrying won't help
			break
		}
		m.logger.Warn("Startup profile fetch failed", "attempt", attempt, "error", err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return
	}
	m.logger.Warn("Could not confirm persisted session, dropping it", "error", lastErr.Error())
	m.logoutLocked(true, "please log in again")
}

// Login authenticates and adopts the resulting session. The remember-me
// choice is persisted before anything else so the credential writes land in
// the tier it selects.
func (m *Manager) Login(ctx context.Context, email string, password string, rememberMe bool) (*models.User, error) {
	if err := m.store.SetRememberMe(rememberMe); err != nil {
		return nil, fmt.Errorf("error while persisting remember-me choice. Err: %w", err)
	}

	auth, err := m.backend.Login(ctx, api.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	if auth.Token == "" {
		return nil, fmt.Errorf("%w: login response carries no token", apperrors.ErrServerError)
	}

	return m.adoptSession(auth)
}

// Register creates an account. When the backend returns a token the session
// is adopted immediately; when it instead requires email verification the
// response is returned as-is and no session starts.
func (m *Manager) Register(ctx context.Context, username string, email string, password string, rememberMe bool) (*models.AuthResponse, error) {
	if err := m.store.SetRememberMe(rememberMe); err != nil {
		return nil, fmt.Errorf("error while persisting remember-me choice. Err: %w", err)
	}

	auth, err := m.backend.Register(ctx, api.RegisterRequest{Username: username, Email: email, Password: password})
	if err != nil {
		return nil, err
	}

	if auth.Token != "" && !auth.RequiresVerification {
		user, err := m.adoptSession(auth)
		if err != nil {
			return nil, err
		}
		auth.User = user
	}
	return auth, nil
}

// adoptSession persists the token pair and user and publishes the logged-in
// state. Bumping the epoch first invalidates every timer and in-flight
// completion belonging to the previous session.
func (m *Manager) adoptSession(auth *models.AuthResponse) (*models.User, error) {
	user := auth.User
	if user == nil {
		// Unusual but survivable: fall back to the token payload
		if p, err := m.codec.Decode(auth.Token); err == nil {
			user = &models.User{ID: p.SubjectID, Username: p.Username, Role: p.Role}
		}
	}
	if user == nil {
		// A logged-in state always carries a user; a response this broken
		// is not adopted at all
		return nil, fmt.Errorf("%w: auth response carries neither a user nor a decodable token", apperrors.ErrServerError)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.epoch++

	// A login over a still-live session with a different remember-me choice
	// must not strand the old credentials in the previously active tier
	if err := m.store.ClearCredentials(); err != nil {
		m.logger.Error("Can't clear previous credentials", "error", err.Error())
	}

	if err := m.store.SaveToken(auth.Token); err != nil {
		m.logger.Error("Can't persist access token", "error", err.Error())
	}
	if auth.RefreshToken != "" {
		if err := m.store.SaveRefreshToken(auth.RefreshToken); err != nil {
			m.logger.Error("Can't persist refresh token", "error", err.Error())
		}
	}
	if err := m.store.SaveUser(user); err != nil {
		m.logger.Error("Can't cache user record", "error", err.Error())
	}

	m.statusKnown = true
	m.publishLocked(AuthState{Status: StatusLoggedIn, User: user})
	m.scheduleAlertsLocked(auth.Token)
	m.startMonitorLocked()

	m.logger.Info("Logged in", "username", user.Username, "remember_me", m.store.RememberMe())
	return user, nil
}

// Logout ends the session unconditionally: both storage tiers and the
// remember-me flag are cleared, timers cancelled, and the logged-out state
// is published before Logout returns, so no subscriber can observe a stale
// logged-in state afterwards.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logoutLocked(false, "")
}

// Expire ends the session as a forced expiry: like Logout, but the
// session-expired hook fires so the host can tell the user why they were
// signed out. The transport uses it when it catches an expired token.
func (m *Manager) Expire() {
	m.expireSession()
}

// expireSession is the forced variant used when the session died server-side
func (m *Manager) expireSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logoutLocked(true, "your session has expired, please log in again")
}

func (m *Manager) logoutLocked(notify bool, reason string) {
	m.epoch++
	m.cancelAlertsLocked()
	m.stopMonitorLocked()

	if err := m.store.Clear(); err != nil {
		m.logger.Error("Can't clear session storage", "error", err.Error())
	}

	m.statusKnown = true
	m.publishLocked(AuthState{Status: StatusLoggedOut})

	if notify && m.onExpired != nil {
		// The navigation hook may call back into the manager, so it can't
		// run under the lock
		go m.onExpired(reason)
	}
}

// Profile fetches the authenticated user's profile from the server and
// updates the published state. An authorization rejection means the session
/// is dead: it resolves to a full logout, exactly like a local expiry.
func (m *Manager) Profile(ctx context.Context) (*models.User, error) {
	tok, ok := m.store.Token()
	if !ok {
		return nil, apperrors.ErrNotLoggedIn
	}

	epoch := m.currentEpoch()
	user, err := m.backend.Profile(ctx, tok)
	if err != nil {
		if errors.Is(err, apperrors.ErrProfileRejected) {
			m.expireSession()
		}
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch == m.epoch {
		if err := m.store.SaveUser(user); err != nil {
			m.logger.Error("Can't cache user record", "error", err.Error())
		}
		m.publishLocked(AuthState{Status: StatusLoggedIn, User: user})
	}
	return user, nil
}

// UpdateProfile sends a profile edit and publishes the updated user.
func (m *Manager) UpdateProfile(ctx context.Context, req api.UpdateProfileRequest) (*models.User, error) {
	tok, ok := m.store.Token()
	if !ok {
		return nil, apperrors.ErrNotLoggedIn
	}

	epoch := m.currentEpoch()
	user, err := m.backend.UpdateProfile(ctx, tok, req)
	if err != nil {
		if errors.Is(err, apperrors.ErrProfileRejected) {
			m.expireSession()
		}
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch == m.epoch {
		if err := m.store.SaveUser(user); err != nil {
			m.logger.Error("Can't cache user record", "error", err.Error())
		}
		m.publishLocked(AuthState{Status: StatusLoggedIn, User: user})
	}
	return user, nil
}

// RefreshToken renews the access token through the single-flight refresher.
func (m *Manager) RefreshToken(ctx context.Context) (string, error) {
	return m.refresher.Refresh(ctx)
}

// applyRefresh lands a finished refresh: persist the rotated credentials,
// republish the user if the response carried one, and reschedule the
// expiration alerts for the new token. Completions from a previous session
// epoch are rejected without side effects.
func (m *Manager) applyRefresh(epoch uint64, auth *models.AuthResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		return errStaleCompletion
	}

	if err := m.store.SaveToken(auth.Token); err != nil {
		return fmt.Errorf("error while persisting refreshed token. Err: %w", err)
	}
	if auth.RefreshToken != "" {
		if err := m.store.SaveRefreshToken(auth.RefreshToken); err != nil {
			m.logger.Error("Can't persist rotated refresh token", "error", err.Error())
		}
	}
	if auth.User != nil {
		if err := m.store.SaveUser(auth.User); err != nil {
			m.logger.Error("Can't cache user record", "error", err.Error())
		}
		m.publishLocked(AuthState{Status: StatusLoggedIn, User: auth.User})
	}

	m.scheduleAlertsLocked(auth.Token)
	return nil
}

// AccessToken returns the currently stored access token, if any.
func (m *Manager) AccessToken() (string, bool) {
	return m.store.Token()
}

// TokenExpired reports whether tok should be treated as locally expired.
func (m *Manager) TokenExpired(tok string) bool {
	return m.codec.IsExpired(tok)
}

// TokenNeedsRefresh reports whether tok is close enough to expiry to renew.
func (m *Manager) TokenNeedsRefresh(tok string) bool {
	return m.codec.NeedsRefresh(tok)
}

// Current returns the latest published auth state.
func (m *Manager) Current() AuthState {
	return m.bc.Current()
}

// CurrentUser returns the published user, or nil when not logged in.
func (m *Manager) CurrentUser() *models.User {
	return m.bc.Current().User
}

// IsLoggedIn reports whether the published state is logged-in.
func (m *Manager) IsLoggedIn() bool {
	return m.bc.Current().Status == StatusLoggedIn
}

/// IsAuthStatusKnown reports whether the startup sequence has resolved: false
// means "still determining", which is distinct from "logged out".
func (m *Manager) IsAuthStatusKnown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusKnown
}

// Subscribe returns a channel of auth state updates. The current state is
// replayed immediately, so late subscribers never start blind. Call cancel
// to unsubscribe.
func (m *Manager) Subscribe() (<-chan AuthState, func()) {
	return m.bc.Subscribe()
}

// OnSessionExpired registers the navigation hook invoked (in its own
// goroutine) whenever the session ends for any reason other than an explicit
// Logout call.
func (m *Manager) OnSessionExpired(fn func(reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpired = fn
}

func (m *Manager) currentEpoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// publishLocked publishes while m.mu is held; broadcaster has its own lock
// and never calls back into the manager.
func (m *Manager) publishLocked(state AuthState) {
	m.bc.Publish(state)
}

// scheduleAlertsLocked (re)arms the two expiration alerts for tok: a soft
// one before expiry that refreshes proactively, and a hard one after expiry
// that force-logs-out if the token is somehow still there and still expired
// (i.e. the proactive refresh silently failed). Both check the epoch before
// acting so alerts from a replaced session are inert.
func (m *Manager) scheduleAlertsLocked(tok string) {
	m.cancelAlertsLocked()

	exp, ok := m.codec.ExpiresAt(tok)
	if !ok {
		return
	}

	epoch := m.epoch
	m.softTimer = time.AfterFunc(time.Until(exp.Add(-m.softAlertLead)), func() { m.softAlarm(epoch) })
	m.hardTimer = time.AfterFunc(time.Until(exp.Add(m.hardAlertLag)), func() { m.hardAlarm(epoch) })
}

func (m *Manager) cancelAlertsLocked() {
	if m.softTimer != nil {
		m.softTimer.Stop()
		m.softTimer = nil
	}
	if m.hardTimer != nil {
		m.hardTimer.Stop()
		m.hardTimer = nil
	}
}

func (m *Manager) softAlarm(epoch uint64) {
	if epoch != m.currentEpoch() {
		return
	}

	m.logger.Info("Access token expiring soon, renewing proactively")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := m.refresher.Refresh(ctx); err != nil {
		// Not fatal: the hard alarm is the backstop
		m.logger.Warn("Proactive refresh failed", "error", err.Error())
	}
}

func (m *Manager) hardAlarm(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		return
	}

	tok, ok := m.store.Token()
	if ok && m.codec.IsExpired(tok) {
		m.logger.Warn("Access token still expired past the deadline, forcing logout")
		m.logoutLocked(true, "your session has expired, please log in again")
	}
}
