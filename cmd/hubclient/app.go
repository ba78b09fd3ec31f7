package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dgraph-io/badger/v4"

	"github.com/gamershub/hubclient/internal/api"
	"github.com/gamershub/hubclient/internal/logger"
	"github.com/gamershub/hubclient/internal/session"
	"github.com/gamershub/hubclient/internal/store"
	"github.com/gamershub/hubclient/internal/token"
	"github.com/gamershub/hubclient/internal/transport"
)

// ClientApp wires the session stack together: durable storage, token codec,
// backend client and the session manager, plus an http.Client that carries
// the session credential for whatever the host application requests.
type ClientApp struct {
	Session *session.Manager

	// HTTPClient attaches and renews the access token transparently; use it
	// for every authenticated call against the backend
	HTTPClient *http.Client

	config *Config
	logger logger.Logger
	db     *badger.DB
}

func NewClientApp(ctx context.Context, c *Config) (*ClientApp, error) {
	log := logger.New(c.Environment, c.LogLevel)

	durable, db, err := store.Open(c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("error while opening session database. Err: %w", err)
	}
	sessionStore := store.NewSessionStore(durable, store.NewMemoryTier())

	codec := token.New(token.Config{})

	apiClient, err := api.NewClient(api.Config{
		BaseURL: c.APIURL,
		Logger:  log.With("component", "api"),
	})
	if err != nil {
		db.Close() // nolint:errcheck
		return nil, fmt.Errorf("error while creating API client. Err: %w", err)
	}

	manager, err := session.NewManager(session.Config{
		Logger: log.With("component", "session"),
	}, apiClient, sessionStore, codec)
	if err != nil {
		db.Close() // nolint:errcheck
		return nil, fmt.Errorf("error while creating session manager. Err: %w", err)
	}

	httpClient := &http.Client{
		Transport: transport.New(nil, manager, log.With("component", "transport")),
	}

	return &ClientApp{
		Session:    manager,
		HTTPClient: httpClient,
		config:     c,
		logger:     log,
		db:         db,
	}, nil
}

// Run restores or establishes a session and reports auth state transitions
// until the context is cancelled.
func (a *ClientApp) Run(ctx context.Context) error {
	updates, unsubscribe := a.Session.Subscribe()
	defer unsubscribe()

	a.Session.OnSessionExpired(func(reason string) {
		a.logger.Warn("Session ended", "reason", reason)
	})

	a.Session.Start(ctx)

	if a.config.Email != "" && a.config.Password != "" {
		user, err := a.Session.Login(ctx, a.config.Email, a.config.Password, a.config.RememberMe)
		if err != nil {
			return fmt.Errorf("error while logging in. Err: %w", err)
		}
		a.logger.Info("Login succeeded", "username", user.Username)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case state := <-updates:
			switch state.Status {
			case session.StatusLoggedIn:
				a.logger.Info("Auth state", "status", state.Status.String(), "username", state.User.Username)
			default:
				a.logger.Info("Auth state", "status", state.Status.String())
			}
		}
	}
}

// Close flushes and closes the durable session database
func (a *ClientApp) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("error while closing session database. Err: %w", err)
	}
	return nil
}
