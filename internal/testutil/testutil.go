package testutil

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Claims carried by the tokens the backend mints. Tests only need a subset.
type TokenOpts struct {
	UserID   int64
	Username string
	Role     string

	// ExpiresAt of zero means "no exp claim at all"
	ExpiresAt time.Time
}

// MintToken signs a HS256 token with the given claims. The signing key is
// irrelevant: the client codec never verifies signatures, it only needs a
// structurally valid three segment token.
func MintToken(t *testing.T, opts TokenOpts) string {
	t.Helper()

	claims := jwt.MapClaims{
		"id":       opts.UserID,
		"username": opts.Username,
		"role":     opts.Role,
	}
	if !opts.ExpiresAt.IsZero() {
		claims["exp"] = opts.ExpiresAt.Unix()
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
	require.NoError(t, err, "minting test token should not fail")

	return token
}

// TokenExpiringIn mints a token for a default test user that expires in d.
func TokenExpiringIn(t *testing.T, d time.Duration) string {
	t.Helper()

	return MintToken(t, TokenOpts{
		UserID:    1,
		Username:  "gamer",
		Role:      "user",
		ExpiresAt: time.Now().Add(d),
	})
}

// OpenBadger opens an in-memory badger instance and closes it when the test
// stops. Tests that need restart persistence should open their own DB at a
// t.TempDir path instead.
func OpenBadger(t *testing.T) *badger.DB {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err, "in-memory badger should open without errors")
	t.Cleanup(func() {
		require.NoError(t, db.Close(), "badger should close cleanly")
	})

	return db
}
