package formcodec

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// ContentType is the media type a strict decoder accepts.
const ContentType = "application/x-www-form-urlencoded"

// DefaultMaxBodySize bounds how much of a response body Decode reads.
const DefaultMaxBodySize int64 = 1 << 20

var (
	// ErrUnsupportedContentType is returned by a strict decoder for any media
	// type other than ContentType.
	ErrUnsupportedContentType = errors.New("formcodec: unsupported content type")

	// ErrBodyTooLarge is returned when a body exceeds MaxBodySize.
	ErrBodyTooLarge = errors.New("formcodec: body too large")
)

// Decoder reads form-encoded bodies into url.Values.
//
// The zero value is a strict decoder: it only accepts
// application/x-www-form-urlencoded. Endpoints that send form data under a
// different label, such as text/plain, need AcceptAnyContentType.
type Decoder struct {
	// AcceptAnyContentType makes the decoder ignore the declared media type.
	AcceptAnyContentType bool

	// MaxBodySize caps the body length. Zero means DefaultMaxBodySize.
	MaxBodySize int64
}

// CanRead reports whether the decoder accepts a body declared as contentType.
func (d Decoder) CanRead(contentType string) bool {
	if d.AcceptAnyContentType {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mediaType, ContentType)
}

// Decode reads and parses the body of resp. It does not close the body.
func (d Decoder) Decode(resp *http.Response) (url.Values, error) {
	if resp == nil || resp.Body == nil {
		return url.Values{}, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if !d.CanRead(contentType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}

	limit := d.maxBodySize()
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("formcodec: read body: %w", err)
	}

	return d.decode(body, limit)
}

// DecodeBytes parses body without a content type check.
func (d Decoder) DecodeBytes(body []byte) (url.Values, error) {
	return d.decode(body, d.maxBodySize())
}

func (d Decoder) decode(body []byte, limit int64) (url.Values, error) {
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}

	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("formcodec: parse form: %w", err)
	}
	return values, nil
}

func (d Decoder) maxBodySize() int64 {
	if d.MaxBodySize > 0 {
		return d.MaxBodySize
	}
	return DefaultMaxBodySize
}
