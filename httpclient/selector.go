package httpclient

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/AmmannChristian/go-fbauth/connpool"
)

// Mode selects the transport strategy.
type Mode string

const (
	// ModePooled builds a bounded connection pool with keep-alive reuse.
	ModePooled Mode = "pooled"

	// ModeSimple opens one connection per request.
	ModeSimple Mode = "simple"
)

const (
	// DefaultProxyPort is used when a proxy host is set without a port.
	DefaultProxyPort = 80

	// DefaultTimeout is the default request timeout of clients built here.
	DefaultTimeout = 30 * time.Second
)

// ErrInvalidProxy is returned for proxy settings that cannot be used.
var ErrInvalidProxy = errors.New("httpclient: invalid proxy configuration")

// Config describes the transport to select.
type Config struct {
	// Mode is the transport strategy. Empty means ModePooled.
	Mode Mode

	// ProxyHost routes all traffic through a proxy when set.
	ProxyHost string

	// ProxyPort is the proxy port. Zero means DefaultProxyPort when ProxyHost is set.
	ProxyPort int

	// ProxyScheme is "http" (default) or "socks5".
	ProxyScheme string

	// MaxTotal, MaxPerRoute, ValidateAfterInactivity and TimeToLive configure the
	// pool of ModePooled. Zero values take the connpool defaults.
	MaxTotal                int
	MaxPerRoute             int
	ValidateAfterInactivity time.Duration
	TimeToLive              time.Duration

	// IdleTimeout and SweepInterval configure the reaper started for a proxied
	// pooled transport. Zero values take the connpool defaults.
	IdleTimeout   time.Duration
	SweepInterval time.Duration

	// TLSConfig is applied to the transport. Nil means TLS 1.2+ defaults.
	TLSConfig *tls.Config
}

// DefaultConfig returns a pooled configuration without proxy.
func DefaultConfig() Config {
	return Config{Mode: ModePooled}
}

// SelectOption is a functional option for Select.
type SelectOption func(*selectOptions)

type selectOptions struct {
	logger *zap.Logger
	clock  clockwork.Clock
	dial   connpool.DialFunc
}

// WithLogger sets the logger used by the pool and reaper.
func WithLogger(logger *zap.Logger) SelectOption {
	return func(o *selectOptions) {
		o.logger = logger
	}
}

// WithClock sets the clock used by the pool and reaper.
func WithClock(clock clockwork.Clock) SelectOption {
	return func(o *selectOptions) {
		o.clock = clock
	}
}

// WithDialer replaces the dialer of the pooled transport.
func WithDialer(dial connpool.DialFunc) SelectOption {
	return func(o *selectOptions) {
		o.dial = dial
	}
}

// Selection is the result of Select. It owns the pool and the reaper of a
// pooled transport; callers must Close it when done.
type Selection struct {
	// Transport executes requests.
	Transport http.RoundTripper

	// Mode is the selected strategy.
	Mode Mode

	// Proxy is the proxy URL in use, or nil.
	Proxy *url.URL

	// Pool is the connection pool of a pooled transport, nil otherwise.
	Pool *connpool.Pool

	// Reaper evicts idle connections from Pool. It is only started for a
	// proxied pooled transport and is nil otherwise.
	Reaper *connpool.Reaper

	base      *http.Transport
	closeOnce sync.Once
	closeErr  error
}

// Close stops the reaper, closes pooled connections and drops idle transport
// connections. It is safe to call more than once.
func (s *Selection) Close() error {
	s.closeOnce.Do(func() {
		if s.Reaper != nil {
			s.Reaper.Shutdown()
		}
		if s.base != nil {
			s.base.CloseIdleConnections()
		}
		if s.Pool != nil {
			s.closeErr = s.Pool.Close()
		}
	})
	return s.closeErr
}

// Select builds the transport described by cfg.
//
// A pooled transport with a proxy starts one idle connection reaper bound to
// its pool; the reaper is returned in the Selection and stopped by Close.
// Invalid proxy or pool settings fail immediately.
func Select(cfg Config, opts ...SelectOption) (*Selection, error) {
	o := &selectOptions{
		logger: zap.NewNop(),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(o)
	}

	proxyURL, err := proxyURLFor(cfg)
	if err != nil {
		return nil, err
	}

	tlsConfig := cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModePooled
	}

	switch mode {
	case ModePooled:
		return selectPooled(cfg, proxyURL, tlsConfig, o)
	case ModeSimple:
		return selectSimple(proxyURL, tlsConfig, o), nil
	default:
		return nil, fmt.Errorf("httpclient: unknown transport mode %q", cfg.Mode)
	}
}

func selectPooled(cfg Config, proxyURL *url.URL, tlsConfig *tls.Config, o *selectOptions) (*Selection, error) {
	poolCfg := connpool.DefaultConfig()
	if cfg.MaxTotal > 0 {
		poolCfg.MaxTotal = cfg.MaxTotal
	}
	if cfg.MaxPerRoute > 0 {
		poolCfg.MaxPerRoute = cfg.MaxPerRoute
	}
	if cfg.ValidateAfterInactivity != 0 {
		poolCfg.ValidateAfterInactivity = cfg.ValidateAfterInactivity
	}
	poolCfg.TimeToLive = cfg.TimeToLive

	poolOpts := []connpool.Option{
		connpool.WithLogger(o.logger),
		connpool.WithClock(o.clock),
	}
	if o.dial != nil {
		poolOpts = append(poolOpts, connpool.WithDialer(o.dial))
	}

	pool, err := connpool.New(poolCfg, poolOpts...)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %w", err)
	}

	base := &http.Transport{
		DialContext:           pool.DialContext,
		TLSClientConfig:       tlsConfig,
		MaxIdleConns:          poolCfg.MaxTotal,
		MaxIdleConnsPerHost:   poolCfg.MaxPerRoute,
		MaxConnsPerHost:       poolCfg.MaxPerRoute,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 0,
	}
	if proxyURL != nil {
		base.Proxy = http.ProxyURL(proxyURL)
	}

	sel := &Selection{
		Transport: pool.Wrap(base),
		Mode:      ModePooled,
		Proxy:     proxyURL,
		Pool:      pool,
		base:      base,
	}

	if proxyURL != nil {
		sel.Reaper = connpool.NewReaper(pool,
			connpool.WithSweepInterval(cfg.SweepInterval),
			connpool.WithIdleTimeout(cfg.IdleTimeout),
			connpool.WithReaperClock(o.clock),
			connpool.WithReaperLogger(o.logger),
		)
		sel.Reaper.Start()
	}

	o.logger.Debug("selected pooled transport",
		zap.Int("maxTotal", poolCfg.MaxTotal),
		zap.Int("maxPerRoute", poolCfg.MaxPerRoute),
		zap.Bool("proxy", proxyURL != nil),
		zap.Bool("reaper", sel.Reaper != nil))

	return sel, nil
}

func selectSimple(proxyURL *url.URL, tlsConfig *tls.Config, o *selectOptions) *Selection {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	base := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 0,
	}
	if proxyURL != nil {
		base.Proxy = http.ProxyURL(proxyURL)
	}

	o.logger.Debug("selected simple transport", zap.Bool("proxy", proxyURL != nil))

	return &Selection{
		Transport: base,
		Mode:      ModeSimple,
		Proxy:     proxyURL,
		base:      base,
	}
}

// proxyURLFor validates the proxy settings and returns the proxy URL, or nil
// when no proxy is configured.
func proxyURLFor(cfg Config) (*url.URL, error) {
	host := strings.TrimSpace(cfg.ProxyHost)
	if host == "" {
		if cfg.ProxyPort != 0 {
			return nil, fmt.Errorf("%w: proxy port %d set without proxy host", ErrInvalidProxy, cfg.ProxyPort)
		}
		return nil, nil
	}

	if strings.ContainsAny(host, "/@ ") {
		return nil, fmt.Errorf("%w: proxy host %q must be a bare host name or address", ErrInvalidProxy, cfg.ProxyHost)
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return nil, fmt.Errorf("%w: proxy host %q must not include a port, use ProxyPort", ErrInvalidProxy, cfg.ProxyHost)
	}
	bracketed := strings.HasPrefix(host, "[")
	if bracketed != strings.HasSuffix(host, "]") {
		return nil, fmt.Errorf("%w: proxy host %q has unbalanced brackets", ErrInvalidProxy, cfg.ProxyHost)
	}
	if bare := strings.Trim(host, "[]"); bracketed || strings.Contains(bare, ":") {
		if net.ParseIP(bare) == nil {
			return nil, fmt.Errorf("%w: proxy host %q is not a valid IPv6 address", ErrInvalidProxy, cfg.ProxyHost)
		}
	}

	port := cfg.ProxyPort
	if port == 0 {
		port = DefaultProxyPort
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: proxy port %d out of range", ErrInvalidProxy, port)
	}

	scheme := strings.ToLower(cfg.ProxyScheme)
	switch scheme {
	case "":
		scheme = "http"
	case "http", "socks5":
	default:
		return nil, fmt.Errorf("%w: unsupported proxy scheme %q", ErrInvalidProxy, cfg.ProxyScheme)
	}

	return &url.URL{Scheme: scheme, Host: net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))}, nil
}
