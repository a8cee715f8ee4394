package facebook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/AmmannChristian/go-fbauth/formcodec"
	"github.com/AmmannChristian/go-fbauth/httpclient"
)

const (
	// DefaultTokenURL is the Graph API token endpoint.
	DefaultTokenURL = "https://graph.facebook.com/v2.2/oauth/access_token"

	// DefaultAuthorizeURL is the login dialog.
	DefaultAuthorizeURL = "https://www.facebook.com/v2.2/dialog/oauth"

	// GrantTypeExchangeToken is the grant type that extends a token's lifetime.
	GrantTypeExchangeToken = "fb_exchange_token"
)

// Endpoint is the default endpoint. Client credentials always travel as
// form parameters.
var Endpoint = oauth2.Endpoint{
	AuthURL:   DefaultAuthorizeURL,
	TokenURL:  DefaultTokenURL,
	AuthStyle: oauth2.AuthStyleInParams,
}

// Option is a functional option for NewClient.
type Option func(*Client)

// WithHTTPClient sends token requests through client. Its transport is
// wrapped with response buffering; client itself is not modified.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTransport sends token requests through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// WithSelectorConfig selects a transport from cfg. The client owns the
// selection and releases it on Close.
func WithSelectorConfig(cfg httpclient.Config) Option {
	return func(c *Client) {
		c.selectorCfg = &cfg
	}
}

// WithEndpoint overrides the authorize and token URLs.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithRedirectURL sets the default redirect URI for AuthorizeURL and
// ExchangeForAccess.
func WithRedirectURL(redirectURL string) Option {
	return func(c *Client) {
		c.redirectURL = redirectURL
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClock sets the clock used to compute grant expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithTimeout sets the request timeout when the client builds its own http.Client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// Client talks to the Facebook token endpoint.
type Client struct {
	clientID     string
	clientSecret string
	endpoint     oauth2.Endpoint
	redirectURL  string

	httpClient  *http.Client
	transport   http.RoundTripper
	selectorCfg *httpclient.Config
	timeout     time.Duration
	selection   *httpclient.Selection

	decoder formcodec.Decoder
	logger  *zap.Logger
	clock   clockwork.Clock

	closeOnce sync.Once
	closeErr  error
}

// NewClient creates a client for the application identified by clientID and
// clientSecret. Without a transport option it selects a pooled transport
// that Close releases.
func NewClient(clientID, clientSecret string, opts ...Option) (*Client, error) {
	if clientID == "" {
		return nil, errors.New("facebook: client ID is required")
	}
	if clientSecret == "" {
		return nil, errors.New("facebook: client secret is required")
	}

	c := &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		endpoint:     Endpoint,
		timeout:      httpclient.DefaultTimeout,
		decoder:      formcodec.Decoder{AcceptAnyContentType: true},
		logger:       zap.NewNop(),
		clock:        clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.endpoint.TokenURL == "" {
		return nil, errors.New("facebook: token URL is required")
	}
	c.endpoint.AuthStyle = oauth2.AuthStyleInParams

	if err := c.initHTTPClient(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) initHTTPClient() error {
	if c.httpClient != nil {
		hc := *c.httpClient
		hc.Transport = httpclient.BufferResponses(hc.Transport)
		c.httpClient = &hc
		return nil
	}

	rt := c.transport
	if rt == nil {
		cfg := httpclient.DefaultConfig()
		if c.selectorCfg != nil {
			cfg = *c.selectorCfg
		}
		sel, err := httpclient.Select(cfg, httpclient.WithLogger(c.logger), httpclient.WithClock(c.clock))
		if err != nil {
			return fmt.Errorf("facebook: select transport: %w", err)
		}
		c.selection = sel
		rt = sel.Transport
	}

	c.httpClient = &http.Client{
		Transport: httpclient.BufferResponses(rt),
		Timeout:   c.timeout,
	}
	return nil
}

// Close releases a transport the client selected itself. Supplied transports
// are left alone.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.selection != nil {
			c.closeErr = c.selection.Close()
		}
	})
	return c.closeErr
}

// Selection returns the transport the client selected, or nil when one was supplied.
func (c *Client) Selection() *httpclient.Selection {
	return c.selection
}

// Config returns the equivalent oauth2 configuration.
func (c *Client) Config(scopes ...string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint:     c.endpoint,
		RedirectURL:  c.redirectURL,
		Scopes:       scopes,
	}
}

// AuthorizeURL returns the login dialog URL for state and scopes.
func (c *Client) AuthorizeURL(state string, scopes []string, opts ...oauth2.AuthCodeOption) string {
	return c.Config(scopes...).AuthCodeURL(state, opts...)
}

// ExchangeForAccess trades an authorization code for a grant. An empty
// redirectURI falls back to the configured redirect URL.
func (c *Client) ExchangeForAccess(ctx context.Context, code, redirectURI string, extra url.Values) (*AccessGrant, error) {
	if redirectURI == "" {
		redirectURI = c.redirectURL
	}

	params := c.credentials()
	params.Set("code", code)
	if redirectURI != "" {
		params.Set("redirect_uri", redirectURI)
	}
	params.Set("grant_type", "authorization_code")
	merge(params, extra)

	return c.postForAccessGrant(ctx, params)
}

// RefreshAccess runs the standard refresh grant.
func (c *Client) RefreshAccess(ctx context.Context, refreshToken string, extra url.Values) (*AccessGrant, error) {
	params := c.credentials()
	params.Set("refresh_token", refreshToken)
	params.Set("grant_type", "refresh_token")
	merge(params, extra)

	return c.postForAccessGrant(ctx, params)
}

// ExtendAccess exchanges refreshToken for a long-lived token. Keys in extra
// replace the computed parameters of the same name.
func (c *Client) ExtendAccess(ctx context.Context, refreshToken, scope string, extra url.Values) (*AccessGrant, error) {
	params := c.credentials()
	params.Set(GrantTypeExchangeToken, refreshToken)
	if scope != "" {
		params.Set("scope", scope)
	}
	params.Set("grant_type", GrantTypeExchangeToken)
	merge(params, extra)

	return c.postForAccessGrant(ctx, params)
}

func (c *Client) credentials() url.Values {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("client_secret", c.clientSecret)
	return params
}

// merge copies extra into params; each key replaces the whole value list.
func merge(params, extra url.Values) {
	for k, v := range extra {
		params[k] = append([]string(nil), v...)
	}
}

func (c *Client) postForAccessGrant(ctx context.Context, params url.Values) (*AccessGrant, error) {
	grantType := params.Get("grant_type")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.TokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("facebook: build token request: %w", err)
	}
	req.Header.Set("Content-Type", formcodec.ContentType)
	req.Header.Set("Accept", "application/x-www-form-urlencoded, text/plain, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("token request failed", zap.String("grantType", grantType), zap.Error(err))
		return nil, fmt.Errorf("facebook: token request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("token response received",
		zap.String("grantType", grantType),
		zap.Int("status", resp.StatusCode),
		zap.String("contentType", resp.Header.Get("Content-Type")))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, err := bodyOf(resp)
		if err != nil {
			return nil, fmt.Errorf("facebook: read error response: %w", err)
		}
		return nil, newTokenError(resp.StatusCode, body)
	}

	values, err := c.decoder.Decode(resp)
	if err != nil {
		body, _ := bodyOf(resp)
		return nil, &TokenError{StatusCode: resp.StatusCode, Body: body, Err: fmt.Errorf("%w: %w", ErrMalformedResponse, err)}
	}

	grant, err := c.grantFrom(values)
	if err != nil {
		body, _ := bodyOf(resp)
		return nil, &TokenError{StatusCode: resp.StatusCode, Body: body, Err: err}
	}
	return grant, nil
}

// grantFrom reads the token response fields. expires is the Graph API name
// for the lifetime in seconds; expires_in is accepted when it is missing.
func (c *Client) grantFrom(values url.Values) (*AccessGrant, error) {
	token := values.Get("access_token")
	if token == "" {
		return nil, fmt.Errorf("%w: missing access_token", ErrMalformedResponse)
	}

	var opts []GrantOption

	expires := values.Get("expires")
	if expires == "" {
		expires = values.Get("expires_in")
	}
	if expires != "" {
		seconds, err := strconv.ParseInt(expires, 10, 64)
		if err != nil || seconds < 0 {
			return nil, fmt.Errorf("%w: invalid expires %q", ErrMalformedResponse, expires)
		}
		opts = append(opts, WithGrantExpiry(time.Duration(seconds)*time.Second, c.clock.Now()))
	}

	if values.Has("scope") {
		opts = append(opts, WithGrantScope(values.Get("scope")))
	}
	if refresh := values.Get("refresh_token"); refresh != "" {
		opts = append(opts, WithGrantRefreshToken(refresh))
	}

	return NewAccessGrant(token, opts...), nil
}

// bodyOf returns the complete body, replaying a buffered one from the start.
func bodyOf(resp *http.Response) ([]byte, error) {
	if data, ok := httpclient.ReplayBody(resp); ok {
		return data, nil
	}
	return io.ReadAll(resp.Body)
}
