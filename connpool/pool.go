package connpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultMaxTotal is the default upper bound of open connections across all routes.
	DefaultMaxTotal = 100

	// DefaultMaxPerRoute is the default upper bound of concurrently leased connections per route.
	DefaultMaxPerRoute = 25

	// DefaultValidateAfterInactivity is the default inactivity period after which a
	// connection is re-validated before it is written to again.
	DefaultValidateAfterInactivity = 30 * time.Second

	// freshGrace protects connections that were just dialed or released from
	// sweeps, and fresh dials from eviction by their own route, while the
	// transport may still be handing them to a request.
	freshGrace = time.Second
)

var (
	// ErrPoolClosed is returned for dials and leases after Close.
	ErrPoolClosed = errors.New("connpool: pool is closed")

	// ErrInvalidConfig is returned by New for impossible limits.
	ErrInvalidConfig = errors.New("connpool: invalid configuration")

	errStaleConn = errors.New("connpool: stale connection")
)

// DialFunc opens a network connection. net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config holds the pool limits.
type Config struct {
	// MaxTotal bounds open connections across all routes.
	MaxTotal int

	// MaxPerRoute bounds concurrently leased connections per route.
	MaxPerRoute int

	// ValidateAfterInactivity is the inactivity period after which a connection is
	// checked for a peer close before reuse. Zero or negative disables the check.
	ValidateAfterInactivity time.Duration

	// TimeToLive bounds the total lifetime of a connection. Zero means unlimited.
	TimeToLive time.Duration
}

// DefaultConfig returns the limits used by the pooled transport.
func DefaultConfig() Config {
	return Config{
		MaxTotal:                DefaultMaxTotal,
		MaxPerRoute:             DefaultMaxPerRoute,
		ValidateAfterInactivity: DefaultValidateAfterInactivity,
	}
}

// Option is a functional option for configuring Pool.
type Option func(*Pool)

// WithDialer replaces the dialer used for new connections.
func WithDialer(dial DialFunc) Option {
	return func(p *Pool) {
		p.dial = dial
	}
}

// WithClock sets the clock used for idle and expiry bookkeeping.
func WithClock(clock clockwork.Clock) Option {
	return func(p *Pool) {
		p.clock = clock
	}
}

// WithLogger sets the logger for eviction events.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// Pool is a bounded registry of open connections keyed by route.
//
// It plugs into an http.Transport twice: DialContext is installed as the
// transport's dialer and Wrap decorates the transport so every request leases
// a per-route slot and marks the connection it ran on as busy. All methods are
// safe for concurrent use.
type Pool struct {
	maxTotal      int
	maxPerRoute   int
	validateAfter time.Duration
	ttl           time.Duration
	dial          DialFunc
	clock         clockwork.Clock
	logger        *zap.Logger

	mu        sync.Mutex
	closed    bool
	conns     map[*trackedConn]struct{}
	pending   int
	routes    map[Route]*routeState
	changed   chan struct{}
	peakTotal int
	dials     uint64
	evictions uint64
}

type routeState struct {
	sem    *semaphore.Weighted
	leased int
	peak   int

	// binding counts leases whose request has not been given a connection yet.
	binding int
}

// victim is a connection picked for closing, with its route read under the lock.
type victim struct {
	conn  *trackedConn
	route Route
}

// New creates a pool with the given limits.
func New(cfg Config, opts ...Option) (*Pool, error) {
	if cfg.MaxTotal <= 0 {
		return nil, fmt.Errorf("%w: max total must be positive, got %d", ErrInvalidConfig, cfg.MaxTotal)
	}
	if cfg.MaxPerRoute <= 0 {
		return nil, fmt.Errorf("%w: max per route must be positive, got %d", ErrInvalidConfig, cfg.MaxPerRoute)
	}
	if cfg.MaxPerRoute > cfg.MaxTotal {
		return nil, fmt.Errorf("%w: max per route %d exceeds max total %d", ErrInvalidConfig, cfg.MaxPerRoute, cfg.MaxTotal)
	}
	if cfg.TimeToLive < 0 {
		return nil, fmt.Errorf("%w: time to live cannot be negative", ErrInvalidConfig)
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	p := &Pool{
		maxTotal:      cfg.MaxTotal,
		maxPerRoute:   cfg.MaxPerRoute,
		validateAfter: cfg.ValidateAfterInactivity,
		ttl:           cfg.TimeToLive,
		dial:          dialer.DialContext,
		clock:         clockwork.NewRealClock(),
		logger:        zap.NewNop(),
		conns:         make(map[*trackedConn]struct{}),
		routes:        make(map[Route]*routeState),
		changed:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// MaxTotal returns the configured total connection limit.
func (p *Pool) MaxTotal() int { return p.maxTotal }

// MaxPerRoute returns the configured per-route limit.
func (p *Pool) MaxPerRoute() int { return p.maxPerRoute }

// DialContext opens a tracked connection, waiting for total capacity if the
// pool is full. When full, the oldest idle connection of any route is evicted
// to make room before waiting.
func (p *Pool) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	route := routeOfAddr(addr)
	if err := p.reserve(ctx, route); err != nil {
		return nil, err
	}

	conn, err := p.dial(ctx, network, addr)

	p.mu.Lock()
	p.pending--
	if err != nil {
		p.notifyLocked()
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.notifyLocked()
		p.mu.Unlock()
		_ = conn.Close()
		return nil, ErrPoolClosed
	}

	now := p.clock.Now()
	tc := &trackedConn{
		Conn:    conn,
		pool:    p,
		route:   route,
		created: now,
	}
	tc.lastActive.Store(now.UnixNano())
	p.conns[tc] = struct{}{}
	p.dials++
	p.mu.Unlock()

	return tc, nil
}

// reserve claims one slot of total capacity for a pending dial to route.
func (p *Pool) reserve(ctx context.Context, route Route) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrPoolClosed
		}

		if len(p.conns)+p.pending < p.maxTotal {
			p.pending++
			if total := len(p.conns) + p.pending; total > p.peakTotal {
				p.peakTotal = total
			}
			p.mu.Unlock()
			return nil
		}

		if c := p.evictableLocked(p.clock.Now(), route); c != nil {
			c.closing = true
			p.evictions++
			evicted := c.route
			p.mu.Unlock()

			p.logger.Debug("evicting idle connection to free capacity",
				zap.Stringer("route", evicted),
				zap.Stringer("waiting", route))
			_ = c.Close()
			continue
		}

		changed := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("connpool: waiting for capacity: %w", ctx.Err())
		case <-changed:
		case <-p.clock.After(freshGrace):
		}
	}
}

// evictableLocked returns the idle connection that was released longest ago.
// A fresh, never leased dial is kept for its own route, which is likely about
// to use it, but may be taken from a different waiting route.
func (p *Pool) evictableLocked(now time.Time, waiting Route) *trackedConn {
	var oldest *trackedConn
	for c := range p.conns {
		if c.leases > 0 || c.closing {
			continue
		}
		if !c.everLeased && now.Sub(c.created) < freshGrace && c.route == waiting {
			continue
		}
		if oldest == nil || c.idleSinceLocked().Before(oldest.idleSinceLocked()) {
			oldest = c
		}
	}
	return oldest
}

// CloseExpired closes idle connections whose time to live or server keep-alive
// hint has elapsed.
func (p *Pool) CloseExpired() error {
	victims := p.collect(func(now time.Time, c *trackedConn) bool {
		if p.ttl > 0 && now.Sub(c.created) >= p.ttl {
			return true
		}
		return c.keepAlive > 0 && now.Sub(c.idleSinceLocked()) >= c.keepAlive
	})
	return p.closeAll(victims, "expired")
}

// CloseIdle closes connections that have not been leased for at least idleTime.
func (p *Pool) CloseIdle(idleTime time.Duration) error {
	victims := p.collect(func(now time.Time, c *trackedConn) bool {
		return now.Sub(c.idleSinceLocked()) >= idleTime
	})
	return p.closeAll(victims, "idle")
}

// Close closes every tracked connection and rejects further dials and leases.
// It is safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	victims := make([]victim, 0, len(p.conns))
	for c := range p.conns {
		if c.closing {
			continue
		}
		c.closing = true
		victims = append(victims, victim{conn: c, route: c.route})
	}
	p.notifyLocked()
	p.mu.Unlock()

	return p.closeAll(victims, "shutdown")
}

// collect marks and returns idle connections matching the predicate. It
// skips connections idle for less than freshGrace and connections of routes
// with a request still waiting for one, since net/http may be handing them
// out before the lease is bound.
func (p *Pool) collect(match func(now time.Time, c *trackedConn) bool) []victim {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	var victims []victim
	for c := range p.conns {
		if c.leases > 0 || c.closing {
			continue
		}
		if now.Sub(c.idleSinceLocked()) < freshGrace {
			continue
		}
		if rs := p.routes[c.route]; rs != nil && rs.binding > 0 {
			continue
		}
		if match(now, c) {
			c.closing = true
			victims = append(victims, victim{conn: c, route: c.route})
		}
	}
	if len(victims) > 0 {
		p.evictions += uint64(len(victims))
	}
	return victims
}

func (p *Pool) closeAll(victims []victim, reason string) error {
	if len(victims) == 0 {
		return nil
	}

	var errs []error
	for _, v := range victims {
		if err := v.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close %s: %w", v.route, err))
		}
	}

	p.logger.Debug("closed pooled connections",
		zap.String("reason", reason),
		zap.Int("count", len(victims)))

	if len(errs) > 0 {
		return fmt.Errorf("connpool: %s sweep: %w", reason, errors.Join(errs...))
	}
	return nil
}

// forget removes a closed connection from the registry.
func (p *Pool) forget(c *trackedConn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.conns[c]; ok {
		delete(p.conns, c)
		p.notifyLocked()
	}
}

// notifyLocked wakes every goroutine waiting for capacity.
func (p *Pool) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// routeStateLocked returns the bookkeeping of a route, creating it on first use.
func (p *Pool) routeStateLocked(route Route) *routeState {
	rs, ok := p.routes[route]
	if !ok {
		rs = &routeState{sem: semaphore.NewWeighted(int64(p.maxPerRoute))}
		p.routes[route] = rs
	}
	return rs
}
