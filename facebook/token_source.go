package facebook

import (
	"context"
	"sync"

	"golang.org/x/oauth2"
)

// TokenSource returns an oauth2.TokenSource that starts from grant and, once
// it expires, replaces it by extending the current access token. The result
// is safe for concurrent use.
func (c *Client) TokenSource(ctx context.Context, grant *AccessGrant) oauth2.TokenSource {
	src := &extendingSource{ctx: ctx, client: c, grant: grant}
	return oauth2.ReuseTokenSource(grant.Token(), src)
}

type extendingSource struct {
	ctx    context.Context
	client *Client

	mu    sync.Mutex
	grant *AccessGrant
}

// Token implements oauth2.TokenSource.
func (s *extendingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope, _ := s.grant.Scope()
	next, err := s.client.ExtendAccess(s.ctx, s.grant.AccessToken(), scope, nil)
	if err != nil {
		return nil, err
	}
	s.grant = next
	return next.Token(), nil
}
