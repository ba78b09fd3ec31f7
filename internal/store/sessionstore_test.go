package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/gamershub/hubclient/internal/models"
)

func newTestStore(t *testing.T) (*SessionStore, *MemoryTier, *MemoryTier) {
	t.Helper()

	// Both tiers are memory-backed here; the badger tier has its own tests
	durable := NewMemoryTier()
	session := NewMemoryTier()
	return NewSessionStore(durable, session), durable, session
}

func TestSessionStore_TierSelection(t *testing.T) {
	t.Run("remember me routes to durable tier", func(t *testing.T) {
		s, durable, session := newTestStore(t)

		require.NoError(t, s.SetRememberMe(true))
		require.NoError(t, s.SaveToken("tok"))
		require.NoError(t, s.SaveRefreshToken("ref"))
		require.NoError(t, s.SaveUser(&models.User{ID: 1, Username: "gamer"}))

		_, ok := durable.Get(KeyAuthToken)
		require.True(t, ok, "token should land in the durable tier")
		_, ok = durable.Get(KeyRefreshToken)
		require.True(t, ok, "refresh token should land in the durable tier")
		_, ok = durable.Get(KeyCurrentUser)
		require.True(t, ok, "user should land in the durable tier")

		for _, key := range []string{KeyAuthToken, KeyRefreshToken, KeyCurrentUser} {
			_, ok := session.Get(key)
			require.False(t, ok, "session tier should not hold %q", key)
		}
	})

	t.Run("no remember me keeps durable tier empty", func(t *testing.T) {
		s, durable, session := newTestStore(t)

		require.NoError(t, s.SetRememberMe(false))
		require.NoError(t, s.SaveToken("tok"))
		require.NoError(t, s.SaveRefreshToken("ref"))
		require.NoError(t, s.SaveUser(&models.User{ID: 1, Username: "gamer"}))

		for _, key := range []string{KeyAuthToken, KeyRefreshToken, KeyCurrentUser} {
			_, ok := durable.Get(key)
			require.False(t, ok, "durable tier should not hold %q", key)
		}

		_, ok := session.Get(KeyAuthToken)
		require.True(t, ok, "token should land in the session tier")
	})

	t.Run("remember me flag itself is always durable", func(t *testing.T) {
		s, durable, _ := newTestStore(t)

		require.NoError(t, s.SetRememberMe(false))

		v, ok := durable.Get(KeyRememberMe)
		require.True(t, ok, "flag must live in the durable tier even when false")
		require.Equal(t, "false", v)
	})
}

func TestSessionStore_RoundTrip(t *testing.T) {
	s, _, _ := newTestStore(t)
	require.NoError(t, s.SetRememberMe(true))

	t.Run("token", func(t *testing.T) {
		_, ok := s.Token()
		require.False(t, ok, "no token before save")

		require.NoError(t, s.SaveToken("tok-1"))

		got, ok := s.Token()
		require.True(t, ok)
		require.Equal(t, "tok-1", got)
	})

	t.Run("user serialization", func(t *testing.T) {
		joined := time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC)
		user := &models.User{
			ID:         7,
			Username:   "gamer",
			Email:      "gamer@example.com",
			JoinDate:   joined,
			Role:       models.RoleModerator,
			IsVerified: true,
		}

		require.NoError(t, s.SaveUser(user))

		got, ok := s.User()
		require.True(t, ok)
		require.Equal(t, user, got, "user should round-trip through serialization")
	})

	t.Run("corrupt cached user reads as absent", func(t *testing.T) {
		s, durable, _ := newTestStore(t)
		require.NoError(t, s.SetRememberMe(true))
		require.NoError(t, durable.Set(KeyCurrentUser, "{not json"))

		_, ok := s.User()
		require.False(t, ok, "corrupt user record should be treated as absent")
	})
}

func TestSessionStore_Clear(t *testing.T) {
	s, durable, session := newTestStore(t)

	// Populate both tiers to simulate a tier flip that left strays behind
	require.NoError(t, s.SetRememberMe(true))
	require.NoError(t, s.SaveToken("durable-tok"))
	require.NoError(t, session.Set(KeyAuthToken, "stray-tok"))
	require.NoError(t, session.Set(KeyRefreshToken, "stray-ref"))

	require.NoError(t, s.Clear())

	for _, tier := range []*MemoryTier{durable, session} {
		for _, key := range []string{KeyAuthToken, KeyRefreshToken, KeyCurrentUser} {
			_, ok := tier.Get(key)
			require.False(t, ok, "%q should be absent after clear", key)
		}
	}

	_, ok := durable.Get(KeyRememberMe)
	require.False(t, ok, "remember-me flag should be cleared too")
}

func TestSessionStore_ClearCredentials(t *testing.T) {
	s, durable, session := newTestStore(t)

	require.NoError(t, s.SetRememberMe(true))
	require.NoError(t, s.SaveToken("durable-tok"))
	require.NoError(t, session.Set(KeyAuthToken, "stray-tok"))

	require.NoError(t, s.ClearCredentials())

	_, ok := durable.Get(KeyAuthToken)
	require.False(t, ok)
	_, ok = session.Get(KeyAuthToken)
	require.False(t, ok)

	require.True(t, s.RememberMe(), "the durability choice must survive a credentials-only clear")
}

func TestBadgerTier(t *testing.T) {
	open := func(t *testing.T, dir string) (*BadgerTier, *badger.DB) {
		tier, db, err := Open(dir)
		require.NoError(t, err, "badger tier should open")
		return tier, db
	}

	t.Run("get set remove", func(t *testing.T) {
		tier, db := open(t, t.TempDir())
		defer db.Close() // nolint:errcheck

		_, ok := tier.Get(KeyAuthToken)
		require.False(t, ok, "empty db should have no token")

		require.NoError(t, tier.Set(KeyAuthToken, "tok"))

		v, ok := tier.Get(KeyAuthToken)
		require.True(t, ok)
		require.Equal(t, "tok", v)

		require.NoError(t, tier.Remove(KeyAuthToken))
		_, ok = tier.Get(KeyAuthToken)
		require.False(t, ok)

		require.NoError(t, tier.Remove(KeyAuthToken), "removing absent key should be fine")
	})

	t.Run("values survive reopen", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "sessions")

		tier, db := open(t, dir)
		require.NoError(t, tier.Set(KeyAuthToken, "tok"))
		require.NoError(t, tier.Set(KeyRememberMe, "true"))
		require.NoError(t, db.Close())

		tier, db = open(t, dir)
		defer db.Close() // nolint:errcheck

		v, ok := tier.Get(KeyAuthToken)
		require.True(t, ok, "token should survive restart")
		require.Equal(t, "tok", v)

		v, ok = tier.Get(KeyRememberMe)
		require.True(t, ok, "remember-me flag should survive restart")
		require.Equal(t, "true", v)
	})
}
