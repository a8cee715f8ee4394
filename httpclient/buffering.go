package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// BufferResponses wraps rt so that each response body is read fully into
// memory on receipt. The replacement body is a *BufferedBody and can be
// rewound and read again, which lets parsers and logging layers inspect the
// same body more than once. The original body is closed immediately, so the
// underlying connection is released before the caller reads anything.
func BufferResponses(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	if _, ok := rt.(*bufferingTransport); ok {
		return rt
	}
	return &bufferingTransport{base: rt}
}

type bufferingTransport struct {
	base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *bufferingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return resp, nil
	}

	data, readErr := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("httpclient: buffer response body: %w", readErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("httpclient: close response body: %w", closeErr)
	}

	resp.Body = NewBufferedBody(data)
	resp.ContentLength = int64(len(data))
	return resp, nil
}

// CloseIdleConnections forwards to the wrapped transport when it supports it.
func (t *bufferingTransport) CloseIdleConnections() {
	type closeIdler interface {
		CloseIdleConnections()
	}
	if ci, ok := t.base.(closeIdler); ok {
		ci.CloseIdleConnections()
	}
}

// BufferedBody is an in-memory, re-readable response body.
type BufferedBody struct {
	data   []byte
	reader *bytes.Reader
}

// NewBufferedBody returns a body serving data.
func NewBufferedBody(data []byte) *BufferedBody {
	return &BufferedBody{data: data, reader: bytes.NewReader(data)}
}

// Read implements io.Reader.
func (b *BufferedBody) Read(p []byte) (int, error) {
	return b.reader.Read(p)
}

// Close is a no-op; the body stays readable after Rewind.
func (b *BufferedBody) Close() error {
	return nil
}

// Rewind resets the read position to the start of the body.
func (b *BufferedBody) Rewind() {
	b.reader.Reset(b.data)
}

// Bytes returns the full body regardless of the read position.
func (b *BufferedBody) Bytes() []byte {
	return b.data
}

// ReplayBody returns the complete body of a response produced by
// BufferResponses, rewinding it for any further reader. ok is false for
// unbuffered bodies.
func ReplayBody(resp *http.Response) (data []byte, ok bool) {
	if resp == nil {
		return nil, false
	}
	bb, ok := resp.Body.(*BufferedBody)
	if !ok {
		return nil, false
	}
	bb.Rewind()
	return bb.Bytes(), true
}
