package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TokenProvider yields the Facebook access token to send with a Graph API
// call. oauth2client.TokenManager implements it for user grants it extends
// with fb_exchange_token and for app tokens issued by client_credentials.
type TokenProvider interface {
	GetTokenWithContext(ctx context.Context) (string, error)
}

// OAuth2Transport authenticates Graph API calls with the token of a managed
// access grant. Each request is cloned and sent with that token as a Bearer
// credential, so a grant extended between calls is picked up by the next one.
type OAuth2Transport struct {
	// Base sends the authenticated request; usually the selected pooled or
	// simple transport. Nil means http.DefaultTransport.
	Base http.RoundTripper

	// TokenManager holds the grant whose token is sent.
	TokenManager TokenProvider
}

// RoundTrip fetches the token under the request context, so a deadline on
// the Graph call also bounds a grant extension it triggers.
func (t *OAuth2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.TokenManager == nil {
		return nil, errors.New("httpclient: no access grant manager configured")
	}

	token, err := t.TokenManager.GetTokenWithContext(req.Context())
	if err != nil {
		return nil, fmt.Errorf("httpclient: access token for %s: %w", req.URL.Host, err)
	}

	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", "Bearer "+token)
	return t.base().RoundTrip(authed)
}

func (t *OAuth2Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

// CloseIdleConnections forwards to the base transport when it supports it.
func (t *OAuth2Transport) CloseIdleConnections() {
	type closeIdler interface {
		CloseIdleConnections()
	}
	if ci, ok := t.Base.(closeIdler); ok {
		ci.CloseIdleConnections()
	}
}

// NewOAuth2Transport sends Graph API calls over base with tokens from tp.
func NewOAuth2Transport(tp TokenProvider, base http.RoundTripper) *OAuth2Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &OAuth2Transport{
		Base:         base,
		TokenManager: tp,
	}
}
