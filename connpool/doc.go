// Package connpool provides a bounded, route-keyed connection pool for net/http
// transports and an idle connection reaper that sweeps it.
//
// The pool is installed on an http.Transport as its dialer and wraps the same
// transport so every request leases a per-route slot:
//
//	pool, err := connpool.New(connpool.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	base := &http.Transport{DialContext: pool.DialContext}
//	client := &http.Client{Transport: pool.Wrap(base)}
//
//	reaper := connpool.NewReaper(pool)
//	reaper.Start()
//	defer reaper.Shutdown()
//
// # Limits
//
//   - Total open connections never exceed Config.MaxTotal; when full, the oldest
//     idle connection of any route is evicted before a dial waits.
//   - Concurrent leases per route never exceed Config.MaxPerRoute.
//   - A connection inactive for Config.ValidateAfterInactivity is checked for a
//     peer close before it is written to again.
//
// # Reaper
//
// A Reaper wakes every 5 seconds, closes expired connections, then closes
// connections idle for 30 seconds or more. Shutdown is idempotent and returns
// only after the loop has exited. Sweep failures are logged, never fatal.
package connpool
