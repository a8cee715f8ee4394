// Package config loads fbauth configuration from an optional YAML or JSON
// file and FBAUTH_* environment variables.
//
// Nested keys map to environment variables by upper-casing them and
// replacing dots with underscores:
//
//	http.proxyHost        FBAUTH_HTTP_PROXYHOST
//	http.pool.maxPerRoute FBAUTH_HTTP_POOL_MAXPERROUTE
//	facebook.clientSecret FBAUTH_FACEBOOK_CLIENTSECRET
//
// Library packages never read the environment themselves; HTTPConfig
// converts into an httpclient.Config or Builder.
package config
