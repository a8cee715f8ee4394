package httpclient

import (
	"crypto/tls"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AmmannChristian/go-fbauth/testutil"
)

func buildClient(t *testing.T, b *Builder) *Client {
	t.Helper()

	client, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func baseOf(t *testing.T, client *Client) *http.Transport {
	t.Helper()

	sel := client.Selection()
	if sel == nil || sel.base == nil {
		t.Fatal("client has no selected base transport")
	}
	return sel.base
}

func TestNewBuilder(t *testing.T) {
	builder := NewBuilder()

	if builder == nil {
		t.Fatal("builder should not be nil")
	}

	if builder.timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", builder.timeout)
	}

	if !builder.followRedirects {
		t.Error("redirects should be enabled by default")
	}

	if builder.selector.Mode != ModePooled {
		t.Errorf("expected pooled mode by default, got %q", builder.selector.Mode)
	}
}

func TestBuilder_WithTokenManager(t *testing.T) {
	tp := staticToken("tok")
	builder := NewBuilder().WithTokenManager(tp)

	if builder.tokenProvider != tp {
		t.Error("TokenProvider not set correctly")
	}
}

func TestBuilder_WithProxyAndLimits(t *testing.T) {
	builder := NewBuilder().
		WithProxy("proxy.internal", 3128).
		WithPoolLimits(10, 5).
		WithMode(ModeSimple)

	if builder.selector.ProxyHost != "proxy.internal" || builder.selector.ProxyPort != 3128 {
		t.Errorf("unexpected proxy settings: %+v", builder.selector)
	}
	if builder.selector.MaxTotal != 10 || builder.selector.MaxPerRoute != 5 {
		t.Errorf("unexpected pool limits: %+v", builder.selector)
	}
	if builder.selector.Mode != ModeSimple {
		t.Errorf("unexpected mode %q", builder.selector.Mode)
	}
}

func TestBuilder_WithTLS(t *testing.T) {
	builder := NewBuilder().
		WithTLS("/path/to/ca.crt", "/path/to/cert.crt", "/path/to/key.pem")

	if !builder.tlsEnabled {
		t.Error("TLS should be enabled")
	}

	if builder.tlsCAFile != "/path/to/ca.crt" {
		t.Errorf("unexpected CA file: %s", builder.tlsCAFile)
	}

	if builder.tlsCertFile != "/path/to/cert.crt" {
		t.Errorf("unexpected cert file: %s", builder.tlsCertFile)
	}

	if builder.tlsKeyFile != "/path/to/key.pem" {
		t.Errorf("unexpected key file: %s", builder.tlsKeyFile)
	}
}

func TestBuilder_WithoutRedirects(t *testing.T) {
	builder := NewBuilder().WithoutRedirects()

	if builder.followRedirects {
		t.Error("redirects should be disabled")
	}
}

func TestBuilder_Build_Simple(t *testing.T) {
	client := buildClient(t, NewBuilder())

	if client.Timeout != 30*time.Second {
		t.Errorf("expected timeout 30s, got %v", client.Timeout)
	}

	if client.Pool() == nil {
		t.Fatal("default build should select a pooled transport")
	}

	if client.Selection().Reaper != nil {
		t.Error("reaper should not start without a proxy")
	}
}

func TestBuilder_Build_WithProxyStartsReaper(t *testing.T) {
	client := buildClient(t, NewBuilder().WithProxy("127.0.0.1", 0))

	sel := client.Selection()
	if sel.Reaper == nil {
		t.Fatal("proxied pooled transport should start a reaper")
	}
	if got := sel.Proxy.String(); got != "http://127.0.0.1:80" {
		t.Errorf("unexpected proxy URL %q", got)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-sel.Reaper.Done():
	case <-time.After(time.Second):
		t.Fatal("reaper still running after Close")
	}
}

func TestBuilder_Build_InvalidProxy(t *testing.T) {
	_, err := NewBuilder().WithProxy("", 8080).Build()
	if err == nil {
		t.Fatal("expected error for port without host")
	}
}

func TestBuilder_Build_WithoutRedirects(t *testing.T) {
	client := buildClient(t, NewBuilder().WithoutRedirects())

	if client.CheckRedirect == nil {
		t.Fatal("CheckRedirect should be set")
	}

	err := client.CheckRedirect(nil, nil)
	if err != http.ErrUseLastResponse {
		t.Errorf("expected ErrUseLastResponse, got %v", err)
	}
}

func TestBuilder_Build_WithBaseTransport(t *testing.T) {
	customTransport := &http.Transport{}
	client := buildClient(t, NewBuilder().WithBaseTransport(customTransport))

	if client.Transport != customTransport {
		t.Error("client should use custom transport when no token provider is set")
	}

	if client.Selection() != nil {
		t.Error("no selection expected for a custom base transport")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close without selection should succeed, got %v", err)
	}
}

func TestBuilder_Build_WithBaseTransport_AndTokenManager(t *testing.T) {
	customTransport := &http.Transport{}

	client := buildClient(t, NewBuilder().
		WithBaseTransport(customTransport).
		WithTokenManager(staticToken("tok")))

	oauth2Transport, ok := client.Transport.(*OAuth2Transport)
	if !ok {
		t.Fatal("transport should be OAuth2Transport")
	}

	if oauth2Transport.Base != customTransport {
		t.Error("OAuth2Transport should wrap custom transport")
	}
}

func TestBuilder_Build_WithBufferedResponses(t *testing.T) {
	base := testutil.FormResponse(http.StatusOK, "text/plain", "access_token=a")

	client := buildClient(t, NewBuilder().WithBaseTransport(base).WithBufferedResponses())

	resp, err := client.Get("https://graph.example.com/oauth/access_token")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if _, ok := resp.Body.(*BufferedBody); !ok {
		t.Fatalf("expected buffered body, got %T", resp.Body)
	}
}

func TestBuilder_Build_WithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()

	client, err := NewBuilder().WithRegisterer(reg, "fbauth").Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected pool metrics to be registered")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The collector is unregistered on Close, so a second client can register again.
	second, err := NewBuilder().WithRegisterer(reg, "fbauth").Build()
	if err != nil {
		t.Fatalf("second Build failed: %v", err)
	}
	_ = second.Close()
}

func TestBuilder_BuildTLSConfig_Simple(t *testing.T) {
	builder := NewBuilder()
	builder.tlsEnabled = true

	tlsConfig, err := builder.buildTLSConfig()
	if err != nil {
		t.Fatalf("buildTLSConfig failed: %v", err)
	}

	if tlsConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("expected TLS 1.2, got %d", tlsConfig.MinVersion)
	}
}

func TestBuilder_BuildTLSConfig_WithCAFile(t *testing.T) {
	caFile := filepath.Join(t.TempDir(), "ca.crt")
	testutil.WriteTestCACert(t, caFile)

	builder := NewBuilder()
	builder.tlsEnabled = true
	builder.tlsCAFile = caFile

	tlsConfig, err := builder.buildTLSConfig()
	if err != nil {
		t.Fatalf("buildTLSConfig failed: %v", err)
	}

	if tlsConfig.RootCAs == nil {
		t.Error("RootCAs should not be nil")
	}
}

func TestBuilder_BuildTLSConfig_InvalidCAFile(t *testing.T) {
	builder := NewBuilder()
	builder.tlsEnabled = true
	builder.tlsCAFile = "/nonexistent/ca.crt"

	if _, err := builder.buildTLSConfig(); err == nil {
		t.Error("expected error for invalid CA file")
	}
}

func TestBuilder_BuildTLSConfig_InvalidCAContent(t *testing.T) {
	caFile := filepath.Join(t.TempDir(), "ca.crt")
	if err := os.WriteFile(caFile, []byte("invalid cert content"), 0o600); err != nil {
		t.Fatalf("failed to write CA file: %v", err)
	}

	builder := NewBuilder()
	builder.tlsEnabled = true
	builder.tlsCAFile = caFile

	if _, err := builder.buildTLSConfig(); err == nil {
		t.Error("expected error for invalid CA content")
	}
}

func TestBuilder_BuildTLSConfig_OnlyCert(t *testing.T) {
	builder := NewBuilder()
	builder.tlsEnabled = true
	builder.tlsCertFile = "/path/to/cert.crt"

	if _, err := builder.buildTLSConfig(); err == nil {
		t.Error("expected error for cert without key")
	}
}

func TestBuilder_Build_WithTLS_UsesConfig(t *testing.T) {
	caFile := filepath.Join(t.TempDir(), "ca.crt")
	testutil.WriteTestCACert(t, caFile)

	client := buildClient(t, NewBuilder().WithTLS(caFile, "", ""))

	transport := baseOf(t, client)
	if transport.TLSClientConfig == nil {
		t.Fatal("TLSClientConfig should be set")
	}

	if transport.TLSClientConfig.RootCAs == nil {
		t.Error("RootCAs should be configured from CA file")
	}
}

func TestBuilder_Build_WithMutualTLS_LoadsCertificates(t *testing.T) {
	tmpDir := t.TempDir()
	caFile := filepath.Join(tmpDir, "ca.crt")
	certFile := filepath.Join(tmpDir, "client.crt")
	keyFile := filepath.Join(tmpDir, "client.key")

	testutil.WriteTestCACert(t, caFile)
	testutil.WriteTestCertAndKey(t, certFile, keyFile)

	client := buildClient(t, NewBuilder().WithTLS(caFile, certFile, keyFile))

	if len(baseOf(t, client).TLSClientConfig.Certificates) == 0 {
		t.Fatal("expected client certificates to be loaded")
	}
}

func TestBuilder_Build_WithMutualTLS_InvalidCert(t *testing.T) {
	tmpDir := t.TempDir()
	certFile := filepath.Join(tmpDir, "client.crt")
	keyFile := filepath.Join(tmpDir, "client.key")

	if err := os.WriteFile(certFile, []byte("bad cert"), 0o600); err != nil {
		t.Fatalf("failed to write cert file: %v", err)
	}
	if err := os.WriteFile(keyFile, []byte("bad key"), 0o600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	_, err := NewBuilder().WithTLS("", certFile, keyFile).Build()
	if err == nil {
		t.Fatal("expected error for invalid cert/key")
	}

	if !strings.Contains(err.Error(), "load client certificate") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBuilder_Build_WithInsecureSkipVerifyOnly(t *testing.T) {
	client := buildClient(t, NewBuilder().WithInsecureSkipVerify().WithMode(ModeSimple))

	transport := baseOf(t, client)
	if transport.TLSClientConfig == nil || !transport.TLSClientConfig.InsecureSkipVerify {
		t.Fatal("expected InsecureSkipVerify to be true")
	}
	if !transport.DisableKeepAlives {
		t.Error("simple mode should disable keep-alives")
	}
}

func TestBuilder_Build_Integration(t *testing.T) {
	server := testutil.NewLocalHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "success")
	}))
	defer server.Close()

	client := buildClient(t, NewBuilder().
		WithTokenManager(staticToken("tok")).
		WithTimeout(10*time.Second))

	for i := 0; i < 3; i++ {
		resp, err := client.Get(server.URL)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200, got %d", resp.StatusCode)
		}
	}

	stats := client.Pool().Stats()
	if stats.Dials != 1 {
		t.Errorf("expected one pooled dial, got %d", stats.Dials)
	}
	if stats.Leased != 0 {
		t.Errorf("expected no outstanding leases, got %d", stats.Leased)
	}
}

func BenchmarkBuilder_Build(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		client, err := NewBuilder().Build()
		if err != nil {
			b.Fatalf("Build failed: %v", err)
		}
		_ = client.Close()
	}
}
