package connpool

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// trackedConn is a net.Conn registered with a Pool.
type trackedConn struct {
	net.Conn

	pool       *Pool
	created    time.Time
	lastActive atomic.Int64
	broken     atomic.Bool

	// guarded by pool.mu
	route      Route
	leases     int
	everLeased bool
	released   time.Time
	keepAlive  time.Duration
	closing    bool

	closeOnce sync.Once
	closeErr  error
}

func (c *trackedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.touch()
	}
	if err != nil && !isTimeout(err) {
		c.broken.Store(true)
	}
	return n, err
}

func (c *trackedConn) Write(b []byte) (int, error) {
	if c.stale() {
		_ = c.Close()
		return 0, errStaleConn
	}

	n, err := c.Conn.Write(b)
	if n > 0 {
		c.touch()
	}
	return n, err
}

func (c *trackedConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
		c.pool.forget(c)
	})
	return c.closeErr
}

func (c *trackedConn) touch() {
	c.lastActive.Store(c.pool.clock.Now().UnixNano())
}

// stale reports whether the connection sat inactive past the validation
// threshold and the peer closed it meanwhile. Returning an error before any
// byte is written lets net/http retry the request on a fresh connection.
func (c *trackedConn) stale() bool {
	if c.pool.validateAfter <= 0 {
		return false
	}
	inactive := c.pool.clock.Since(time.Unix(0, c.lastActive.Load()))
	if inactive < c.pool.validateAfter {
		return false
	}
	return c.broken.Load()
}

func (c *trackedConn) idleSinceLocked() time.Time {
	if c.released.IsZero() {
		return c.created
	}
	return c.released
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
