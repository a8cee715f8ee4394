package facebook

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// ErrMalformedResponse is wrapped by a TokenError for a successful status
// whose body does not carry an access token.
var ErrMalformedResponse = errors.New("facebook: malformed token response")

// TokenError is a failed token request. It keeps the status and raw body,
// plus the fields of the Graph API error envelope when the body has one.
type TokenError struct {
	StatusCode int
	Body       []byte

	Type      string
	Message   string
	Code      int
	Subcode   int
	FBTraceID string

	// Err is ErrMalformedResponse or a decoding error for 2xx responses.
	Err error
}

func (e *TokenError) Error() string {
	var b strings.Builder
	b.WriteString("facebook: token request failed")
	fmt.Fprintf(&b, " with status %d", e.StatusCode)

	switch {
	case e.Message != "":
		b.WriteString(": ")
		if e.Type != "" {
			b.WriteString(e.Type)
			if e.Code != 0 {
				fmt.Fprintf(&b, " (code %d)", e.Code)
			}
			b.WriteString(": ")
		}
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case len(e.Body) > 0:
		fmt.Fprintf(&b, ": %s", truncate(e.Body, 256))
	}
	return b.String()
}

func (e *TokenError) Unwrap() error { return e.Err }

type graphErrorEnvelope struct {
	Error *struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

// newTokenError builds the error for a non-2xx response.
func newTokenError(status int, body []byte) *TokenError {
	te := &TokenError{StatusCode: status, Body: body}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return te
	}

	var env graphErrorEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil || env.Error == nil {
		return te
	}
	te.Type = env.Error.Type
	te.Message = env.Error.Message
	te.Code = env.Error.Code
	te.Subcode = env.Error.ErrorSubcode
	te.FBTraceID = env.Error.FBTraceID
	return te
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
