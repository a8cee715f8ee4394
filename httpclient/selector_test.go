package httpclient

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/AmmannChristian/go-fbauth/connpool"
	"github.com/AmmannChristian/go-fbauth/testutil"
)

func TestSelect_DefaultIsPooledWithoutReaper(t *testing.T) {
	sel, err := Select(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sel.Close() })

	assert.Equal(t, ModePooled, sel.Mode)
	require.NotNil(t, sel.Pool)
	assert.Nil(t, sel.Reaper)
	assert.Nil(t, sel.Proxy)
	assert.Equal(t, connpool.DefaultMaxTotal, sel.Pool.MaxTotal())
	assert.Equal(t, connpool.DefaultMaxPerRoute, sel.Pool.MaxPerRoute())

	require.NotNil(t, sel.base)
	assert.Equal(t, uint16(tls.VersionTLS12), sel.base.TLSClientConfig.MinVersion)
	assert.False(t, sel.base.DisableKeepAlives)
	assert.Nil(t, sel.base.Proxy)
}

func TestSelect_EmptyModeMeansPooled(t *testing.T) {
	sel, err := Select(Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sel.Close() })

	assert.Equal(t, ModePooled, sel.Mode)
}

func TestSelect_PoolLimits(t *testing.T) {
	sel, err := Select(Config{Mode: ModePooled, MaxTotal: 8, MaxPerRoute: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sel.Close() })

	assert.Equal(t, 8, sel.Pool.MaxTotal())
	assert.Equal(t, 3, sel.Pool.MaxPerRoute())
	assert.Equal(t, 3, sel.base.MaxConnsPerHost)
	assert.Equal(t, 8, sel.base.MaxIdleConns)
}

func TestSelect_InvalidPoolLimits(t *testing.T) {
	_, err := Select(Config{Mode: ModePooled, MaxTotal: 2, MaxPerRoute: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, connpool.ErrInvalidConfig)
}

func TestSelect_ProxyStartsReaper(t *testing.T) {
	sel, err := Select(Config{Mode: ModePooled, ProxyHost: "proxy.internal"})
	require.NoError(t, err)

	require.NotNil(t, sel.Proxy)
	assert.Equal(t, "http://proxy.internal:80", sel.Proxy.String())
	require.NotNil(t, sel.Reaper)
	assert.Equal(t, connpool.StateRunning, sel.Reaper.State())

	require.NoError(t, sel.Close())
	assert.Equal(t, connpool.StateStopped, sel.Reaper.State())

	// Close is idempotent.
	require.NoError(t, sel.Close())
}

func TestSelect_SimpleMode(t *testing.T) {
	sel, err := Select(Config{Mode: ModeSimple, ProxyHost: "10.0.0.1", ProxyPort: 3128})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sel.Close() })

	assert.Equal(t, ModeSimple, sel.Mode)
	assert.Nil(t, sel.Pool)
	assert.Nil(t, sel.Reaper, "simple transports never start a reaper")
	require.NotNil(t, sel.base)
	assert.True(t, sel.base.DisableKeepAlives)

	req, err := http.NewRequest(http.MethodGet, "https://graph.facebook.com/me", nil)
	require.NoError(t, err)
	proxyURL, err := sel.base.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:3128", proxyURL.String())
}

func TestSelect_Socks5Proxy(t *testing.T) {
	sel, err := Select(Config{Mode: ModeSimple, ProxyHost: "localhost", ProxyPort: 1080, ProxyScheme: "SOCKS5"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sel.Close() })

	assert.Equal(t, "socks5://localhost:1080", sel.Proxy.String())
}

func TestSelect_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "port without host", cfg: Config{ProxyPort: 8080}},
		{name: "port out of range", cfg: Config{ProxyHost: "proxy", ProxyPort: 70000}},
		{name: "negative port", cfg: Config{ProxyHost: "proxy", ProxyPort: -1}},
		{name: "host with scheme", cfg: Config{ProxyHost: "http://proxy"}},
		{name: "host with credentials", cfg: Config{ProxyHost: "user@proxy"}},
		{name: "unknown scheme", cfg: Config{ProxyHost: "proxy", ProxyScheme: "ftp"}},
		{name: "host with port", cfg: Config{ProxyHost: "proxy.internal:3128"}},
		{name: "host with port and proxy port", cfg: Config{ProxyHost: "proxy.internal:3128", ProxyPort: 3128}},
		{name: "bracketed address with port", cfg: Config{ProxyHost: "[::1]:3128"}},
		{name: "colon in host name", cfg: Config{ProxyHost: "proxy:internal:x"}},
		{name: "brackets around host name", cfg: Config{ProxyHost: "[proxy.internal]"}},
		{name: "unbalanced bracket", cfg: Config{ProxyHost: "[::1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Select(tt.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidProxy)
		})
	}
}

func TestSelect_IPv6Proxy(t *testing.T) {
	for _, host := range []string{"::1", "[::1]"} {
		sel, err := Select(Config{Mode: ModeSimple, ProxyHost: host, ProxyPort: 3128})
		require.NoError(t, err, host)
		assert.Equal(t, "http://[::1]:3128", sel.Proxy.String())
		require.NoError(t, sel.Close())
	}
}

func TestSelect_UnknownMode(t *testing.T) {
	_, err := Select(Config{Mode: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown transport mode "bogus"`)
}

func TestSelect_ProxiedPoolIsSwept(t *testing.T) {
	// An HTTP proxy receives absolute-form requests, so a plain server can stand in for one.
	proxy := testutil.NewLocalHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "via proxy "+r.URL.Host)
	}))
	t.Cleanup(proxy.Close)

	host, port := splitHostPort(t, proxy.Listener.Addr().String())
	clock := clockwork.NewFakeClock()

	sel, err := Select(Config{
		Mode:          ModePooled,
		ProxyHost:     host,
		ProxyPort:     port,
		IdleTimeout:   10 * time.Second,
		SweepInterval: time.Second,
	}, WithClock(clock), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sel.Close() })

	client := &http.Client{Transport: sel.Transport}
	resp, err := client.Get("http://graph.example.invalid/oauth/access_token")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "via proxy graph.example.invalid", string(body))

	require.Equal(t, 1, sel.Pool.Stats().Idle)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(11 * time.Second)

	assert.Eventually(t, func() bool {
		return sel.Pool.Stats().Total == 0
	}, 2*time.Second, 10*time.Millisecond, "reaper should close the idle proxied connection")
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()

	u, err := http.NewRequest(http.MethodGet, "http://"+addr, nil)
	require.NoError(t, err)

	route := connpool.RouteOf(u.URL)
	return route.Host, route.Port
}
