package oauth2client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/AmmannChristian/go-fbauth/facebook"
)

// DefaultExpiryLeeway is how long before expiry a grant is extended.
const DefaultExpiryLeeway = time.Minute

// ErrNoGrant is returned when the manager has no grant to extend.
var ErrNoGrant = errors.New("oauth2client: no access grant")

// Extender trades an access token for a fresh grant. facebook.Client implements it.
type Extender interface {
	ExtendAccess(ctx context.Context, refreshToken, scope string, extra url.Values) (*facebook.AccessGrant, error)
}

// AppIssuer issues app access tokens through the client_credentials grant.
// facebook.Client implements it.
type AppIssuer interface {
	AppAccess(ctx context.Context, scopes ...string) (*facebook.AccessGrant, error)
}

// TokenManager keeps an access grant usable by extending it shortly before
// it expires. It is safe for concurrent access; concurrent callers that find
// the grant due share a single extension request.
type TokenManager struct {
	extender     Extender
	issuer       AppIssuer
	grant        *facebook.AccessGrant
	mu           sync.RWMutex
	ctx          context.Context // fallback context for GetToken
	expiryLeeway time.Duration
	scope        string
	logger       *zap.Logger
	clock        clockwork.Clock
	group        singleflight.Group
}

// Option is a functional option for configuring TokenManager.
type Option func(*TokenManager)

// WithLogger sets the logger for extension events.
func WithLogger(logger *zap.Logger) Option {
	return func(tm *TokenManager) {
		tm.logger = logger
	}
}

// WithExpiryLeeway sets how long before expiry the grant is extended.
func WithExpiryLeeway(d time.Duration) Option {
	return func(tm *TokenManager) {
		if d >= 0 {
			tm.expiryLeeway = d
		}
	}
}

// WithScope sets the scope requested on each extension.
func WithScope(scope string) Option {
	return func(tm *TokenManager) {
		tm.scope = scope
	}
}

// WithClock sets the clock used for expiry checks.
func WithClock(clock clockwork.Clock) Option {
	return func(tm *TokenManager) {
		tm.clock = clock
	}
}

// NewTokenManager creates a manager for initial, extending it through extender.
//
// Parameters:
//   - ctx: Context for extensions triggered by GetToken and the token source
//   - extender: Performs the fb_exchange_token grant (usually a *facebook.Client)
//   - initial: The grant to start from; may be nil until Set is called
//   - opts: Optional configuration options
func NewTokenManager(ctx context.Context, extender Extender, initial *facebook.AccessGrant, opts ...Option) *TokenManager {
	// Keep extensions independent from caller cancellations while preserving values.
	if ctx == nil {
		ctx = context.Background()
	} else {
		ctx = context.WithoutCancel(ctx)
	}

	tm := &TokenManager{
		extender:     extender,
		grant:        initial,
		ctx:          ctx,
		expiryLeeway: DefaultExpiryLeeway,
		logger:       zap.NewNop(),
		clock:        clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(tm)
	}

	return tm
}

// NewAppTokenManager creates a manager for the app access token. The first
// call fetches a token through issuer; a new one is fetched once it comes
// within the expiry leeway. WithScope values are sent space separated.
func NewAppTokenManager(ctx context.Context, issuer AppIssuer, opts ...Option) *TokenManager {
	tm := NewTokenManager(ctx, nil, nil, opts...)
	tm.issuer = issuer
	return tm
}

// GetTokenWithContext returns a valid access token, extending the grant if
// it is within the expiry leeway. ctx bounds how long this caller waits; a
// shared extension keeps running for the other waiters.
func (tm *TokenManager) GetTokenWithContext(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	grant, err := tm.validGrant(ctx)
	if err != nil {
		return "", err
	}
	return grant.AccessToken(), nil
}

// GetToken returns a valid access token using the manager's context.
//
// Deprecated: Use GetTokenWithContext instead to properly handle context cancellation and deadlines.
func (tm *TokenManager) GetToken() (string, error) {
	return tm.GetTokenWithContext(tm.ctx)
}

// Grant returns the current grant without extending it.
func (tm *TokenManager) Grant() *facebook.AccessGrant {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.grant
}

// Set replaces the current grant, for example after a new code exchange.
func (tm *TokenManager) Set(grant *facebook.AccessGrant) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.grant = grant
}

// TokenSource exposes the manager as an oauth2.TokenSource.
func (tm *TokenManager) TokenSource() oauth2.TokenSource {
	return tokenSource{tm: tm}
}

type tokenSource struct {
	tm *TokenManager
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	grant, err := s.tm.validGrant(s.tm.ctx)
	if err != nil {
		return nil, err
	}
	return grant.Token(), nil
}

func (tm *TokenManager) validGrant(ctx context.Context) (*facebook.AccessGrant, error) {
	// Fast path: check the cached grant under the read lock.
	tm.mu.RLock()
	grant := tm.grant
	valid := tm.grantValid(grant)
	tm.mu.RUnlock()

	if valid {
		return grant, nil
	}
	if grant == nil && tm.issuer == nil {
		return nil, ErrNoGrant
	}

	ch := tm.group.DoChan("extend", func() (any, error) {
		return tm.extend(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*facebook.AccessGrant), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("oauth2client: waiting for token: %w", ctx.Err())
	}
}

func (tm *TokenManager) extend(ctx context.Context) (*facebook.AccessGrant, error) {
	// Double-check: another flight may have replaced the grant already.
	tm.mu.RLock()
	current := tm.grant
	valid := tm.grantValid(current)
	tm.mu.RUnlock()

	if valid {
		return current, nil
	}

	next, err := tm.renew(ctx, current)
	if err != nil {
		return nil, err
	}

	tm.mu.Lock()
	// Keep a grant installed with Set while the request was in flight.
	if tm.grant == current {
		tm.grant = next
	}
	tm.mu.Unlock()

	msg := "extended access token"
	if tm.issuer != nil {
		msg = "issued app access token"
	}
	if expires, ok := next.ExpireTime(); ok {
		tm.logger.Info(msg, zap.Time("expires", expires))
	} else {
		tm.logger.Info(msg, zap.Bool("expires", false))
	}

	return next, nil
}

func (tm *TokenManager) renew(ctx context.Context, current *facebook.AccessGrant) (*facebook.AccessGrant, error) {
	if tm.issuer != nil {
		next, err := tm.issuer.AppAccess(ctx, strings.Fields(tm.scope)...)
		if err != nil {
			tm.logger.Warn("app access token request failed", zap.Error(err))
			return nil, fmt.Errorf("oauth2client: failed to fetch app token: %w", err)
		}
		return next, nil
	}
	if current == nil {
		return nil, ErrNoGrant
	}

	next, err := tm.extender.ExtendAccess(ctx, current.AccessToken(), tm.scope, nil)
	if err != nil {
		tm.logger.Warn("access token extension failed", zap.Error(err))
		return nil, fmt.Errorf("oauth2client: failed to extend token: %w", err)
	}
	return next, nil
}

// grantValid reports whether grant is usable with the leeway window applied.
// Grants without expiry stay valid until replaced.
func (tm *TokenManager) grantValid(grant *facebook.AccessGrant) bool {
	if grant == nil || grant.AccessToken() == "" {
		return false
	}
	expires, ok := grant.ExpireTime()
	if !ok {
		return true
	}
	return expires.Sub(tm.clock.Now()) > tm.expiryLeeway
}
