// Package formcodec decodes form-encoded HTTP bodies.
//
// Some token endpoints return application/x-www-form-urlencoded payloads
// labelled text/plain. A Decoder with AcceptAnyContentType set parses those
// regardless of the declared media type. The flag belongs to the decoder
// value, so other consumers of the same transport keep strict parsing.
//
//	values, err := formcodec.Decoder{AcceptAnyContentType: true}.Decode(resp)
package formcodec
