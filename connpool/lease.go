package connpool

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Wrap decorates base so that each request leases a slot of its route before
// it is sent and marks the connection it used as busy until the response body
// is drained or closed. base must dial through p.DialContext for connection
// bookkeeping to apply; the per-route limit applies either way.
func (p *Pool) Wrap(base http.RoundTripper) http.RoundTripper {
	return &leaseTransport{pool: p, base: base}
}

type leaseTransport struct {
	pool *Pool
	base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *leaseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	l, err := t.pool.lease(req.Context(), RouteOf(req.URL))
	if err != nil {
		return nil, err
	}

	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			l.bind(info.Conn)
		},
	}
	ctx := httptrace.WithClientTrace(req.Context(), trace)

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		l.release()
		return nil, err
	}

	if ka := keepAliveTimeout(resp.Header); ka > 0 {
		l.setKeepAlive(ka)
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		l.release()
		return resp, nil
	}

	resp.Body = &leasedBody{ReadCloser: resp.Body, lease: l}
	return resp, nil
}

// CloseIdleConnections forwards to the base transport when it supports it.
func (t *leaseTransport) CloseIdleConnections() {
	type closeIdler interface {
		CloseIdleConnections()
	}
	if ci, ok := t.base.(closeIdler); ok {
		ci.CloseIdleConnections()
	}
}

// lease is one borrowed per-route slot.
type lease struct {
	pool  *Pool
	route Route
	rs    *routeState
	once  sync.Once

	// guarded by pool.mu
	conn *trackedConn
}

// lease blocks until the route has a free slot.
func (p *Pool) lease(ctx context.Context, route Route) (*lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	rs := p.routeStateLocked(route)
	p.mu.Unlock()

	if err := rs.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("connpool: lease %s: %w", route, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		rs.sem.Release(1)
		return nil, ErrPoolClosed
	}
	rs.leased++
	rs.binding++
	if rs.leased > rs.peak {
		rs.peak = rs.leased
	}
	p.mu.Unlock()

	return &lease{pool: p, route: route, rs: rs}, nil
}

// bind attaches the lease to the connection net/http picked for the request.
// It may run more than once when the transport retries on a new connection.
func (l *lease) bind(conn net.Conn) {
	tc := l.pool.unwrap(conn)
	if tc == nil {
		return
	}

	p := l.pool
	p.mu.Lock()
	defer p.mu.Unlock()

	if l.conn == tc {
		return
	}
	if l.conn != nil {
		l.conn.leases--
		l.conn.released = p.clock.Now()
	} else {
		l.rs.binding--
	}

	tc.leases++
	tc.everLeased = true
	tc.route = l.route
	l.conn = tc
}

func (l *lease) setKeepAlive(d time.Duration) {
	p := l.pool
	p.mu.Lock()
	defer p.mu.Unlock()

	if l.conn != nil {
		l.conn.keepAlive = d
	}
}

func (l *lease) release() {
	l.once.Do(func() {
		p := l.pool
		p.mu.Lock()
		if l.conn != nil {
			l.conn.leases--
			l.conn.released = p.clock.Now()
		} else {
			l.rs.binding--
		}
		l.rs.leased--
		p.notifyLocked()
		p.mu.Unlock()

		l.rs.sem.Release(1)
	})
}

// unwrap finds the pool connection underneath TLS or other wrappers.
func (p *Pool) unwrap(conn net.Conn) *trackedConn {
	type netConner interface {
		NetConn() net.Conn
	}

	for conn != nil {
		switch c := conn.(type) {
		case *trackedConn:
			if c.pool == p {
				return c
			}
			return nil
		case netConner:
			conn = c.NetConn()
		default:
			return nil
		}
	}
	return nil
}

// leasedBody returns the lease once the body is drained or closed.
type leasedBody struct {
	io.ReadCloser
	lease *lease
}

func (b *leasedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == io.EOF {
		b.lease.release()
	}
	return n, err
}

func (b *leasedBody) Close() error {
	err := b.ReadCloser.Close()
	b.lease.release()
	return err
}

// keepAliveTimeout parses the timeout parameter of a Keep-Alive response header.
func keepAliveTimeout(h http.Header) time.Duration {
	for _, value := range h.Values("Keep-Alive") {
		for _, part := range strings.Split(value, ",") {
			name, v, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(name), "timeout") {
				continue
			}
			seconds, err := strconv.Atoi(strings.TrimSpace(v))
			if err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return 0
}
