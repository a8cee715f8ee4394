package testutil

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// NewLocalHTTPServer starts an HTTP server bound to IPv4 loopback only.
// The sandbox blocks IPv6 listeners, so force tcp4 to keep tests runnable.
func NewLocalHTTPServer(tb testing.TB, handler http.Handler) *httptest.Server {
	tb.Helper()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("failed to create IPv4 listener: %v", err)
	}

	server := httptest.NewUnstartedServer(handler)
	server.Listener = listener
	server.Start()

	return server
}

// RoundTripFunc allows inlining http.RoundTripper implementations.
type RoundTripFunc func(*http.Request) (*http.Response, error)

// RoundTrip calls the underlying function.
func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// MockTokenServer simulates a token endpoint without real sockets.
// It records the decoded form of every request and serves responses through
// its Transport.
type MockTokenServer struct {
	URL       string
	Transport RoundTripFunc

	mu    sync.Mutex
	forms []url.Values
}

// NewMockTokenServer builds a mock token endpoint backed by an in-memory RoundTripper.
// If handler is nil, it answers with a form-encoded grant labelled text/plain.
func NewMockTokenServer(tb testing.TB, handler RoundTripFunc) *MockTokenServer {
	tb.Helper()

	if handler == nil {
		handler = FormResponse(http.StatusOK, "text/plain; charset=UTF-8", "access_token=mock-access-token&expires=5184000")
	}

	server := &MockTokenServer{URL: "https://mock-graph.example.com"}
	server.Transport = func(req *http.Request) (*http.Response, error) {
		if req.Body != nil {
			body, err := io.ReadAll(req.Body)
			if err != nil {
				tb.Errorf("failed to read token request body: %v", err)
			}
			_ = req.Body.Close()

			form, err := url.ParseQuery(string(body))
			if err != nil {
				tb.Errorf("token request body is not form encoded: %v", err)
			}
			server.mu.Lock()
			server.forms = append(server.forms, form)
			server.mu.Unlock()

			req.Body = io.NopCloser(bytes.NewReader(body))
		}
		return handler(req)
	}

	return server
}

// Client returns an http.Client that talks to the mock.
func (m *MockTokenServer) Client() *http.Client {
	return &http.Client{Transport: m.Transport}
}

// Forms returns a copy of every recorded request form.
func (m *MockTokenServer) Forms() []url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()

	forms := make([]url.Values, len(m.forms))
	copy(forms, m.forms)
	return forms
}

// LastForm returns the most recent request form, or nil.
func (m *MockTokenServer) LastForm() url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.forms) == 0 {
		return nil
	}
	return m.forms[len(m.forms)-1]
}

// FormResponse returns a RoundTripper that always responds with the given status, content type and body.
func FormResponse(status int, contentType, body string) RoundTripFunc {
	return func(req *http.Request) (*http.Response, error) {
		header := make(http.Header)
		if contentType != "" {
			header.Set("Content-Type", contentType)
		}
		return &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Header:     header,
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    req,
		}, nil
	}
}

// WriteTestCACert writes a self-signed CA certificate to the provided path for TLS tests.
func WriteTestCACert(tb testing.TB, path string) {
	tb.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("failed to generate CA key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		Subject:               pkix.Name{CommonName: "test-ca"},
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		tb.Fatalf("failed to create CA certificate: %v", err)
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		tb.Fatalf("failed to write CA certificate: %v", err)
	}
}

// WriteTestCertAndKey writes a self-signed certificate and key to the provided paths.
func WriteTestCertAndKey(tb testing.TB, certPath, keyPath string) {
	tb.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		Subject:      pkix.Name{CommonName: "test-cert"},
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		tb.Fatalf("failed to create certificate: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		tb.Fatalf("failed to write certificate: %v", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		tb.Fatalf("failed to write key: %v", err)
	}
}
