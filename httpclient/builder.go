package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/AmmannChristian/go-fbauth/connpool"
)

// Builder provides a fluent interface for constructing HTTP clients on top of
// a selected transport, with optional bearer authentication, TLS/mTLS,
// response buffering and pool metrics.
type Builder struct {
	selector Config

	// Bearer authentication
	tokenProvider TokenProvider

	// TLS configuration
	tlsEnabled    bool
	tlsCAFile     string
	tlsCertFile   string
	tlsKeyFile    string
	tlsSkipVerify bool

	// HTTP client configuration
	timeout         time.Duration
	baseTransport   http.RoundTripper
	followRedirects bool
	buffered        bool

	logger           *zap.Logger
	clock            clockwork.Clock
	registerer       prometheus.Registerer
	metricsNamespace string
}

// NewBuilder creates a new HTTP client builder with a pooled transport.
func NewBuilder() *Builder {
	return &Builder{
		selector:        DefaultConfig(),
		timeout:         DefaultTimeout,
		followRedirects: true,
	}
}

// WithConfig replaces the transport selection settings.
func (b *Builder) WithConfig(cfg Config) *Builder {
	tlsConfig := b.selector.TLSConfig
	b.selector = cfg
	if cfg.TLSConfig == nil {
		b.selector.TLSConfig = tlsConfig
	}
	return b
}

// WithMode sets the transport strategy.
func (b *Builder) WithMode(mode Mode) *Builder {
	b.selector.Mode = mode
	return b
}

// WithProxy routes requests through an HTTP proxy. A zero port means DefaultProxyPort.
func (b *Builder) WithProxy(host string, port int) *Builder {
	b.selector.ProxyHost = host
	b.selector.ProxyPort = port
	return b
}

// WithPoolLimits sets the total and per-route connection limits of the pooled transport.
func (b *Builder) WithPoolLimits(maxTotal, maxPerRoute int) *Builder {
	b.selector.MaxTotal = maxTotal
	b.selector.MaxPerRoute = maxPerRoute
	return b
}

// WithTokenManager enables bearer authentication using tp.
func (b *Builder) WithTokenManager(tp TokenProvider) *Builder {
	b.tokenProvider = tp
	return b
}

// WithTLS enables TLS for the connection.
//
// Parameters:
//   - caFile: Path to CA certificate for server verification (optional, uses system roots if empty)
//   - certFile: Path to client certificate for mTLS (optional, must be paired with keyFile)
//   - keyFile: Path to client private key for mTLS (optional, must be paired with certFile)
func (b *Builder) WithTLS(caFile, certFile, keyFile string) *Builder {
	b.tlsEnabled = true
	b.tlsCAFile = caFile
	b.tlsCertFile = certFile
	b.tlsKeyFile = keyFile
	return b
}

// WithInsecureSkipVerify disables TLS certificate verification (NOT RECOMMENDED for production).
func (b *Builder) WithInsecureSkipVerify() *Builder {
	b.tlsSkipVerify = true
	return b
}

// WithTimeout sets the request timeout for the HTTP client.
// Default is 30 seconds if not specified.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.timeout = timeout
	return b
}

// WithBaseTransport bypasses transport selection and uses transport as is.
// Pool limits, proxy and TLS settings are ignored in that case.
func (b *Builder) WithBaseTransport(transport http.RoundTripper) *Builder {
	b.baseTransport = transport
	return b
}

// WithoutRedirects disables automatic redirect following.
func (b *Builder) WithoutRedirects() *Builder {
	b.followRedirects = false
	return b
}

// WithBufferedResponses reads every response body into memory so it can be
// inspected more than once. See BufferResponses.
func (b *Builder) WithBufferedResponses() *Builder {
	b.buffered = true
	return b
}

// WithLogger sets the logger of the pool and reaper.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock sets the clock of the pool and reaper.
func (b *Builder) WithClock(clock clockwork.Clock) *Builder {
	b.clock = clock
	return b
}

// WithRegisterer registers a pool metrics collector under namespace when the
// pooled transport is selected.
func (b *Builder) WithRegisterer(reg prometheus.Registerer, namespace string) *Builder {
	b.registerer = reg
	b.metricsNamespace = namespace
	return b
}

// Client is an http.Client bound to the transport it was built with.
// Close releases the pool and stops the reaper, if any.
type Client struct {
	*http.Client

	selection *Selection
	collector *connpool.Collector
	reg       prometheus.Registerer
}

// Selection returns the selected transport, or nil when a base transport was supplied.
func (c *Client) Selection() *Selection {
	return c.selection
}

// Pool returns the connection pool of a pooled transport, or nil.
func (c *Client) Pool() *connpool.Pool {
	if c.selection == nil {
		return nil
	}
	return c.selection.Pool
}

// Close unregisters pool metrics and closes the selected transport.
func (c *Client) Close() error {
	if c.collector != nil && c.reg != nil {
		c.reg.Unregister(c.collector)
		c.collector = nil
	}
	if c.selection == nil {
		return nil
	}
	return c.selection.Close()
}

// Build constructs the HTTP client with the configured options.
func (b *Builder) Build() (*Client, error) {
	client := &Client{}

	transport := b.baseTransport
	if transport == nil {
		cfg := b.selector
		if b.tlsEnabled || b.tlsSkipVerify {
			tlsConfig, err := b.buildTLSConfig()
			if err != nil {
				return nil, fmt.Errorf("httpclient: TLS config failed: %w", err)
			}
			cfg.TLSConfig = tlsConfig
		}

		var opts []SelectOption
		if b.logger != nil {
			opts = append(opts, WithLogger(b.logger))
		}
		if b.clock != nil {
			opts = append(opts, WithClock(b.clock))
		}

		sel, err := Select(cfg, opts...)
		if err != nil {
			return nil, err
		}
		client.selection = sel
		transport = sel.Transport

		if b.registerer != nil && sel.Pool != nil {
			collector := connpool.NewCollector(sel.Pool, b.metricsNamespace)
			if err := b.registerer.Register(collector); err != nil {
				_ = sel.Close()
				return nil, fmt.Errorf("httpclient: register pool metrics: %w", err)
			}
			client.collector = collector
			client.reg = b.registerer
		}
	}

	if b.buffered {
		transport = BufferResponses(transport)
	}

	if b.tokenProvider != nil {
		transport = NewOAuth2Transport(b.tokenProvider, transport)
	}

	client.Client = &http.Client{
		Transport: transport,
		Timeout:   b.timeout,
	}

	if !b.followRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return client, nil
}

// buildTLSConfig constructs the TLS configuration for the HTTP client.
func (b *Builder) buildTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: b.tlsSkipVerify, // #nosec G402
	}

	if b.tlsCAFile != "" {
		caCert, err := os.ReadFile(b.tlsCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}

		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = certPool
	}

	if b.tlsCertFile != "" && b.tlsKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(b.tlsCertFile, b.tlsKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	} else if b.tlsCertFile != "" || b.tlsKeyFile != "" {
		return nil, errors.New("both TLS cert and key files must be provided for mTLS")
	}

	return tlsConfig, nil
}

// NewHTTPClient is a convenience function that creates a pooled HTTP client
// with bearer authentication. For more configuration options, use Builder instead.
func NewHTTPClient(tp TokenProvider) (*Client, error) {
	return NewBuilder().WithTokenManager(tp).Build()
}
