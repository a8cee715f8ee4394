package connpool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports pool statistics as Prometheus metrics.
type Collector struct {
	pool *Pool

	total     *prometheus.Desc
	leased    *prometheus.Desc
	idle      *prometheus.Desc
	maxTotal  *prometheus.Desc
	route     *prometheus.Desc
	dials     *prometheus.Desc
	evictions *prometheus.Desc
}

// NewCollector creates a collector for pool. Register it with a prometheus.Registerer.
func NewCollector(pool *Pool, namespace string) *Collector {
	name := func(n string) string {
		return prometheus.BuildFQName(namespace, "connpool", n)
	}

	return &Collector{
		pool: pool,
		total: prometheus.NewDesc(name("connections"),
			"Open connections including dials in progress.", nil, nil),
		leased: prometheus.NewDesc(name("leased_connections"),
			"Connections currently serving a request.", nil, nil),
		idle: prometheus.NewDesc(name("idle_connections"),
			"Open connections not serving a request.", nil, nil),
		maxTotal: prometheus.NewDesc(name("max_connections"),
			"Configured upper bound of open connections.", nil, nil),
		route: prometheus.NewDesc(name("route_leases"),
			"Concurrent leases by route.", []string{"route"}, nil),
		dials: prometheus.NewDesc(name("dials_total"),
			"Connections dialed by the pool.", nil, nil),
		evictions: prometheus.NewDesc(name("evictions_total"),
			"Connections closed by sweeps or capacity eviction.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.leased
	ch <- c.idle
	ch <- c.maxTotal
	ch <- c.route
	ch <- c.dials
	ch <- c.evictions
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()

	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.Total))
	ch <- prometheus.MustNewConstMetric(c.leased, prometheus.GaugeValue, float64(s.Leased))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(c.maxTotal, prometheus.GaugeValue, float64(s.MaxTotal))
	for route, rs := range s.Routes {
		ch <- prometheus.MustNewConstMetric(c.route, prometheus.GaugeValue, float64(rs.Leased), route.String())
	}
	ch <- prometheus.MustNewConstMetric(c.dials, prometheus.CounterValue, float64(s.Dials))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
}
