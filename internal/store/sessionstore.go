package store

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/gamershub/hubclient/internal/models"
)

// SessionStore composes the two tiers and routes the credential keys to
// whichever tier the persisted remember-me flag selects. The flag itself
// always lives in the durable tier, so the choice survives a full restart.
//
// All operations are synchronous; badger and the in-memory map both complete
// without suspension. Writes are idempotent overwrites, which is all the
// session layer needs for safety.
type SessionStore struct {
	durable Tier
	session Tier
}

func NewSessionStore(durable Tier, session Tier) *SessionStore {
	return &SessionStore{
		durable: durable,
		session: session,
	}
}

// SetRememberMe persists the durability choice. Must be written before the
// tokens it governs so they land in the right tier.
func (s *SessionStore) SetRememberMe(remember bool) error {
	value := "false"
	if remember {
		value = "true"
	}
	return s.durable.Set(KeyRememberMe, value)
}

// RememberMe reports the persisted durability choice. Absent means false:
// an unknown session defaults to the less durable tier.
func (s *SessionStore) RememberMe() bool {
	v, ok := s.durable.Get(KeyRememberMe)
	return ok && v == "true"
}

// active returns the tier the remember-me flag currently selects
func (s *SessionStore) active() Tier {
	if s.RememberMe() {
		return s.durable
	}
	return s.session
}

func (s *SessionStore) SaveToken(token string) error {
	return s.active().Set(KeyAuthToken, token)
}

func (s *SessionStore) Token() (string, bool) {
	return s.active().Get(KeyAuthToken)
}

func (s *SessionStore) SaveRefreshToken(token string) error {
	return s.active().Set(KeyRefreshToken, token)
}

func (s *SessionStore) RefreshToken() (string, bool) {
	return s.active().Get(KeyRefreshToken)
}

func (s *SessionStore) SaveUser(user *models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("error while serializing user. Err: %w", err)
	}
	return s.active().Set(KeyCurrentUser, string(data))
}

func (s *SessionStore) User() (*models.User, bool) {
	data, ok := s.active().Get(KeyCurrentUser)
	if !ok {
		return nil, false
	}

	var user models.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		// A corrupt cached user is dropped, not surfaced: the session
		// manager will refetch the profile anyway
		return nil, false
	}

	return &user, true
}

// ClearCredentials removes the credential keys from BOTH tiers but keeps the
// remember-me flag. Clearing both sides guarantees that flipping the flag
// between logins never leaves orphaned credentials in the tier that is no
// longer active.
func (s *SessionStore) ClearCredentials() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, tier := range []Tier{s.durable, s.session} {
		keep(tier.Remove(KeyAuthToken))
		keep(tier.Remove(KeyRefreshToken))
		keep(tier.Remove(KeyCurrentUser))
	}

	return firstErr
}

// Clear removes every session key from both tiers plus the remember-me flag.
func (s *SessionStore) Clear() error {
	credErr := s.ClearCredentials()

	if err := s.durable.Remove(KeyRememberMe); err != nil && credErr == nil {
		return err
	}
	return credErr
}
