// Package token inspects JWT access tokens on the client side.
//
// The codec is advisory only: it decodes the payload segment without
// verifying the signature, because the authoritative validation happens on
// the server. The client only needs the expiry facts to decide when to
// renew or drop a session.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Grace period subtracted from the real expiry so a token is treated as
	// expired slightly before it actually is. Prevents sending a request
	// whose token expires in flight.
	defaultExpiryGrace = 60 * time.Second

	// Tokens expiring within this window are candidates for proactive
	// renewal.
	defaultRefreshThreshold = 30 * time.Minute
)

// Undecodable is the sentinel TimeToExpiration returns when the token can't
// be decoded or carries no expiry claim.
const Undecodable = -1 * time.Second

// Payload is the decoded (unverified) content of an access token.
type Payload struct {
	SubjectID int64
	Username  string
	Role      string

	// ExpiresAt is nil when the token carries no exp claim
	ExpiresAt *time.Time
}

type accessClaims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type Config struct {
	// Both knobs are deliberately configurable: the defaults come from the
	// backend team and were never justified, so deployments may tune them.
	ExpiryGrace      time.Duration
	RefreshThreshold time.Duration
}

// Codec decodes tokens and answers expiry questions about them.
// Safe for concurrent use: it holds no mutable state.
type Codec struct {
	expiryGrace      time.Duration
	refreshThreshold time.Duration
	parser           *jwt.Parser

	// now is overridable in tests
	now func() time.Time
}

func New(cfg Config) *Codec {
	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.ExpiryGrace, defaultExpiryGrace)
	setDefaultDuration(&cfg.RefreshThreshold, defaultRefreshThreshold)

	return &Codec{
		expiryGrace:      cfg.ExpiryGrace,
		refreshThreshold: cfg.RefreshThreshold,
		parser:           jwt.NewParser(),
		now:              time.Now,
	}
}

// Decode extracts the payload segment of a three part JWT without verifying
// the signature. Returns an error for anything that is not a structurally
// valid JWT.
func (c *Codec) Decode(token string) (Payload, error) {
	claims := &accessClaims{}

	_, _, err := c.parser.ParseUnverified(token, claims)
	if err != nil {
		return Payload{}, fmt.Errorf("error while decoding token payload. Err: %w", err)
	}

	p := Payload{
		SubjectID: claims.UserID,
		Username:  claims.Username,
		Role:      claims.Role,
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		p.ExpiresAt = &exp
	}

	return p, nil
}

// IsExpired reports whether the token should be treated as expired. Tokens
// that can't be decoded or carry no exp claim count as expired. The expiry
// grace period is subtracted from the real expiry first.
func (c *Codec) IsExpired(token string) bool {
	p, err := c.Decode(token)
	if err != nil || p.ExpiresAt == nil {
		return true
	}

	effectiveExpiry := p.ExpiresAt.Add(-c.expiryGrace)
	return c.now().After(effectiveExpiry)
}

// TimeToExpiration returns the remaining lifetime of the token, negative if
// it already expired, or Undecodable if the token can't be decoded or has no
// exp claim. The value is truncated to whole seconds to match the backend's
// second-granularity exp claim.
func (c *Codec) TimeToExpiration(token string) time.Duration {
	p, err := c.Decode(token)
	if err != nil || p.ExpiresAt == nil {
		return Undecodable
	}

	return p.ExpiresAt.Sub(c.now()).Truncate(time.Second)
}

// NeedsRefresh reports whether the token is still valid but expires within
// the refresh threshold, i.e. it is worth renewing proactively.
func (c *Codec) NeedsRefresh(token string) bool {
	ttl := c.TimeToExpiration(token)
	return ttl > 0 && ttl < c.refreshThreshold
}

// ExpiresAt returns the absolute expiry instant of the token, or false when
// the token can't be decoded or has no exp claim. Used to schedule
// expiration alerts.
func (c *Codec) ExpiresAt(token string) (time.Time, bool) {
	p, err := c.Decode(token)
	if err != nil || p.ExpiresAt == nil {
		return time.Time{}, false
	}
	return *p.ExpiresAt, true
}
