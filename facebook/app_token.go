package facebook

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AppTokenConfig returns the client credentials configuration that issues
// app access tokens from the client's token endpoint.
func (c *Client) AppTokenConfig(scopes ...string) *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		TokenURL:     c.endpoint.TokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
}

// AppTokenSource returns a token source for the app access token. Requests
// use the client's transport and ctx for as long as the source is used.
func (c *Client) AppTokenSource(ctx context.Context, scopes ...string) oauth2.TokenSource {
	return c.AppTokenConfig(scopes...).TokenSource(c.oauth2Context(ctx))
}

// AppAccess runs the client_credentials grant and returns the app access
// token as a grant.
func (c *Client) AppAccess(ctx context.Context, scopes ...string) (*AccessGrant, error) {
	tok, err := c.AppTokenConfig(scopes...).Token(c.oauth2Context(ctx))
	if err != nil {
		c.logger.Warn("token request failed", zap.String("grantType", "client_credentials"), zap.Error(err))
		return nil, fmt.Errorf("facebook: app token request: %w", err)
	}
	return c.grantFromToken(tok), nil
}

// oauth2Context routes x/oauth2 token requests through the client's transport.
func (c *Client) oauth2Context(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// grantFromToken converts tok, reading the Graph API expires field when the
// library found no expires_in.
func (c *Client) grantFromToken(tok *oauth2.Token) *AccessGrant {
	var opts []GrantOption

	now := c.clock.Now()
	if !tok.Expiry.IsZero() {
		opts = append(opts, WithGrantExpiry(time.Until(tok.Expiry).Round(time.Second), now))
	} else if seconds, ok := extraSeconds(tok.Extra("expires")); ok {
		opts = append(opts, WithGrantExpiry(time.Duration(seconds)*time.Second, now))
	}

	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		opts = append(opts, WithGrantScope(scope))
	}
	if tok.RefreshToken != "" {
		opts = append(opts, WithGrantRefreshToken(tok.RefreshToken))
	}

	return NewAccessGrant(tok.AccessToken, opts...)
}

func extraSeconds(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, n > 0
	case float64:
		return int64(n), n > 0
	case string:
		seconds, err := strconv.ParseInt(n, 10, 64)
		return seconds, err == nil && seconds > 0
	}
	return 0, false
}
