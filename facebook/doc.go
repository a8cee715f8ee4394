// Package facebook adapts golang.org/x/oauth2 to the Facebook token endpoint.
//
// The endpoint answers token requests with form-encoded bodies labelled
// text/plain, and reports lifetimes as "expires" rather than "expires_in".
// Client posts token requests itself and decodes them with a permissive
// formcodec.Decoder, leaving the authorize URL to oauth2.Config.
//
// # Grants
//
//   - ExchangeForAccess: authorization code grant
//   - RefreshAccess: refresh token grant
//   - ExtendAccess: fb_exchange_token grant, trading a short-lived token for a long-lived one
//   - AppAccess / AppTokenSource: client_credentials grant for the app access token
//
// Each returns an immutable AccessGrant. Failures are *TokenError values
// carrying the HTTP status, the raw body and the decoded Graph API error, if any.
// AppAccess failures wrap the *oauth2.RetrieveError from x/oauth2 instead.
//
// # Usage
//
//	client, err := facebook.NewClient(appID, appSecret,
//	    facebook.WithRedirectURL("https://example.com/callback"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	url := client.AuthorizeURL(state, []string{"email"})
//	// ... user returns with ?code=...
//	grant, err := client.ExchangeForAccess(ctx, code, "", nil)
//	long, err := client.ExtendAccess(ctx, grant.AccessToken(), "", nil)
//
// Without a transport option, NewClient selects a pooled transport and owns it
// until Close.
package facebook
