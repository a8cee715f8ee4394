package connpool

// Stats is a point-in-time snapshot of a pool.
type Stats struct {
	MaxTotal    int
	MaxPerRoute int

	// Total counts open connections plus dials in progress.
	Total   int
	Leased  int
	Idle    int
	Pending int

	// PeakTotal is the highest Total observed since the pool was created.
	PeakTotal int

	Routes map[Route]RouteStats

	Dials     uint64
	Evictions uint64
}

// RouteStats describes one route of a pool.
type RouteStats struct {
	Connections int
	Leased      int
	PeakLeased  int
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		MaxTotal:    p.maxTotal,
		MaxPerRoute: p.maxPerRoute,
		Total:       len(p.conns) + p.pending,
		Pending:     p.pending,
		PeakTotal:   p.peakTotal,
		Routes:      make(map[Route]RouteStats, len(p.routes)),
		Dials:       p.dials,
		Evictions:   p.evictions,
	}

	for route, rs := range p.routes {
		s.Routes[route] = RouteStats{Leased: rs.leased, PeakLeased: rs.peak}
	}

	for c := range p.conns {
		if c.leases > 0 {
			s.Leased++
		} else {
			s.Idle++
		}
		rs := s.Routes[c.route]
		rs.Connections++
		s.Routes[c.route] = rs
	}

	return s
}
