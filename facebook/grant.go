package facebook

import (
	"time"

	"golang.org/x/oauth2"
)

// AccessGrant is an issued access token with its optional metadata.
// It is immutable; absent fields are reported through the ok result of
// their accessors.
type AccessGrant struct {
	accessToken string

	scope    string
	hasScope bool

	refreshToken string
	hasRefresh   bool

	expiresIn  time.Duration
	expireTime time.Time
	hasExpiry  bool
}

// GrantOption sets an optional AccessGrant field.
type GrantOption func(*AccessGrant)

// WithGrantScope records the granted scope.
func WithGrantScope(scope string) GrantOption {
	return func(g *AccessGrant) {
		g.scope = scope
		g.hasScope = true
	}
}

// WithGrantRefreshToken records a refresh token.
func WithGrantRefreshToken(token string) GrantOption {
	return func(g *AccessGrant) {
		g.refreshToken = token
		g.hasRefresh = true
	}
}

// WithGrantExpiry records a lifetime of expiresIn counted from issuedAt.
func WithGrantExpiry(expiresIn time.Duration, issuedAt time.Time) GrantOption {
	return func(g *AccessGrant) {
		g.expiresIn = expiresIn
		g.expireTime = issuedAt.Add(expiresIn)
		g.hasExpiry = true
	}
}

// NewAccessGrant creates a grant for accessToken.
func NewAccessGrant(accessToken string, opts ...GrantOption) *AccessGrant {
	g := &AccessGrant{accessToken: accessToken}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AccessToken returns the access token.
func (g *AccessGrant) AccessToken() string { return g.accessToken }

// Scope returns the granted scope, if the endpoint reported one.
func (g *AccessGrant) Scope() (string, bool) { return g.scope, g.hasScope }

// RefreshToken returns the refresh token, if any.
func (g *AccessGrant) RefreshToken() (string, bool) { return g.refreshToken, g.hasRefresh }

// ExpiresIn returns the lifetime reported at issuance.
func (g *AccessGrant) ExpiresIn() (time.Duration, bool) { return g.expiresIn, g.hasExpiry }

// ExpireTime returns the absolute expiry.
func (g *AccessGrant) ExpireTime() (time.Time, bool) { return g.expireTime, g.hasExpiry }

// Expired reports whether the grant is expired at now. Grants without an
// expiry never expire.
func (g *AccessGrant) Expired(now time.Time) bool {
	return g.hasExpiry && !now.Before(g.expireTime)
}

// Token converts the grant to an oauth2.Token. Expiry is zero when absent,
// which oauth2 treats as never expiring.
func (g *AccessGrant) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken: g.accessToken,
		TokenType:   "Bearer",
	}
	if g.hasRefresh {
		tok.RefreshToken = g.refreshToken
	}
	if g.hasExpiry {
		tok.Expiry = g.expireTime
		tok.ExpiresIn = int64(g.expiresIn / time.Second)
	}
	if g.hasScope {
		tok = tok.WithExtra(map[string]any{"scope": g.scope})
	}
	return tok
}
