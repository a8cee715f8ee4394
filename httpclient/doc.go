// Package httpclient selects and builds the HTTP transport used to talk to
// token endpoints.
//
// Select chooses between a pooled transport, backed by a bounded connpool.Pool,
// and a simple transport that opens one connection per request. When a proxy
// is configured on a pooled transport, Select also starts an idle connection
// reaper. The returned Selection owns both and releases them on Close.
//
// Builder layers TLS/mTLS, timeouts, redirect policy, response buffering,
// bearer token injection and pool metrics on top of a selection.
//
// # Quick Start
//
//	client, err := httpclient.NewBuilder().
//	    WithProxy("proxy.internal", 3128).
//	    WithPoolLimits(100, 25).
//	    WithTLS("/path/to/ca.crt", "", "").
//	    WithTimeout(60 * time.Second).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	resp, err := client.Get("https://graph.facebook.com/me")
//
// # Response buffering
//
// BufferResponses reads each body fully and replaces it with a re-readable
// BufferedBody. Token endpoints that mislabel their payloads can then be
// parsed and still reported verbatim on failure.
//
// # Manual Transport Wrapping
//
//	transport := httpclient.NewOAuth2Transport(tm, nil)
//	client := &http.Client{Transport: transport}
//
// All components are safe for concurrent use if the provided TokenProvider is.
package httpclient
