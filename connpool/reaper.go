package connpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	// DefaultSweepInterval is how long the reaper waits between sweeps.
	DefaultSweepInterval = 5 * time.Second

	// DefaultIdleTimeout is the idle threshold after which the reaper closes a connection.
	DefaultIdleTimeout = 30 * time.Second
)

// Sweeper is the part of a pool the reaper drives. Pool implements it.
type Sweeper interface {
	CloseExpired() error
	CloseIdle(idleTime time.Duration) error
}

// State is the lifecycle state of a Reaper.
type State int

const (
	// StateCreated is the state between NewReaper and Start.
	StateCreated State = iota
	// StateRunning means the sweep loop is active.
	StateRunning
	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ReaperOption is a functional option for configuring Reaper.
type ReaperOption func(*Reaper)

// WithSweepInterval sets the wait between sweeps.
func WithSweepInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithIdleTimeout sets the idle threshold passed to CloseIdle.
func WithIdleTimeout(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithReaperClock sets the clock driving the sweep timer.
func WithReaperClock(clock clockwork.Clock) ReaperOption {
	return func(r *Reaper) {
		r.clock = clock
	}
}

// WithReaperLogger sets the logger for sweep failures and lifecycle events.
func WithReaperLogger(logger *zap.Logger) ReaperOption {
	return func(r *Reaper) {
		r.logger = logger
	}
}

// Reaper periodically evicts expired and idle connections from one Sweeper.
//
// A Reaper runs one goroutine between Start and Shutdown. It cannot be
// restarted once stopped.
type Reaper struct {
	sweeper     Sweeper
	clock       clockwork.Clock
	interval    time.Duration
	idleTimeout time.Duration
	logger      *zap.Logger

	// mu serializes a sweep against the stop decision.
	mu    sync.Mutex
	state State
	stop  chan struct{}
	done  chan struct{}
}

// NewReaper creates a reaper bound to sweeper. Call Start to begin sweeping.
func NewReaper(sweeper Sweeper, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		sweeper:     sweeper,
		clock:       clockwork.NewRealClock(),
		interval:    DefaultSweepInterval,
		idleTimeout: DefaultIdleTimeout,
		logger:      zap.NewNop(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start launches the sweep loop. Calls after the first, or after Shutdown, do nothing.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateCreated {
		return
	}
	r.state = StateRunning

	go r.run()

	r.logger.Debug("idle connection reaper started",
		zap.Duration("interval", r.interval),
		zap.Duration("idleTimeout", r.idleTimeout))
}

// Shutdown stops the loop and waits for it to exit. No sweep starts after
// Shutdown returns. It is safe to call from any goroutine and more than once.
func (r *Reaper) Shutdown() {
	r.mu.Lock()
	switch r.state {
	case StateStopped:
		r.mu.Unlock()
		<-r.done
		return
	case StateCreated:
		r.state = StateStopped
		close(r.stop)
		close(r.done)
		r.mu.Unlock()
		return
	}

	r.state = StateStopped
	close(r.stop)
	r.mu.Unlock()

	<-r.done
	r.logger.Debug("idle connection reaper stopped")
}

// Close stops the reaper. It always returns nil and exists so a Reaper can be
// held as an io.Closer.
func (r *Reaper) Close() error {
	r.Shutdown()
	return nil
}

// State returns the current lifecycle state.
func (r *Reaper) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed once the reaper has stopped.
func (r *Reaper) Done() <-chan struct{} {
	return r.done
}

func (r *Reaper) run() {
	defer close(r.done)

	timer := r.clock.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-timer.Chan():
		}

		if !r.sweep() {
			return
		}
		timer.Reset(r.interval)
	}
}

// sweep runs one eviction pass unless the reaper was stopped meanwhile.
func (r *Reaper) sweep() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateStopped {
		return false
	}

	r.guard("close expired", r.sweeper.CloseExpired)
	r.guard("close idle", func() error {
		return r.sweeper.CloseIdle(r.idleTimeout)
	})
	return true
}

// guard runs one pool operation, logging any error or panic instead of
// letting it end the loop.
func (r *Reaper) guard(op string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("idle connection reaper recovered from panic",
				zap.String("operation", op),
				zap.Any("panic", rec))
		}
	}()

	if err := fn(); err != nil {
		r.logger.Warn("idle connection reaper sweep failed",
			zap.String("operation", op),
			zap.Error(err))
	}
}
