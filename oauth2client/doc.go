// Package oauth2client keeps a long-lived Facebook access grant fresh.
//
// A TokenManager caches a facebook.AccessGrant and extends it through an
// Extender once it comes within the expiry leeway. Concurrent callers share a
// single extension request. The manager satisfies httpclient.TokenProvider and
// can be exposed as an oauth2.TokenSource.
//
// NewAppTokenManager caches the app access token instead: it is issued with
// the client_credentials grant on first use and re-issued when due.
//
// # Features
//
//   - Automatic extension shortly before expiry (WithExpiryLeeway, default one minute)
//   - Context-aware token fetching with cancellation and deadline support
//   - De-duplicated extension requests under concurrency
//   - Structured logging of extension events (WithLogger)
//
// # Quick Start
//
//	fb, err := facebook.NewClient(appID, appSecret)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fb.Close()
//
//	grant, err := fb.ExtendAccess(ctx, shortLivedToken, "", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	tm := oauth2client.NewTokenManager(ctx, fb, grant, oauth2client.WithLogger(logger))
//	client, err := httpclient.NewBuilder().WithTokenManager(tm).Build()
//
// # Notes
//
//   - GetTokenWithContext is preferred; GetToken uses the manager's context.
//   - Grants without an expiry are used until replaced with Set.
//   - App-token managers never return ErrNoGrant.
package oauth2client
