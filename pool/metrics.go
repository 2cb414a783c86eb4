package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports pool statistics as Prometheus metrics.
type Collector struct {
	pool *Pool

	active    *prometheus.Desc
	idle      *prometheus.Desc
	inUse     *prometheus.Desc
	waiting   *prometheus.Desc
	tracked   *prometheus.Desc
	maxActive *prometheus.Desc

	checkouts   *prometheus.Desc
	misses      *prometheus.Desc
	timeouts    *prometheus.Desc
	connectErrs *prometheus.Desc
	closed      *prometheus.Desc
	shed        *prometheus.Desc
	reconnects  *prometheus.Desc
	probes      *prometheus.Desc
	probeFails  *prometheus.Desc
	waitSeconds *prometheus.Desc
	waitCount   *prometheus.Desc
}

// NewCollector creates a collector for p. Register it with a
// prometheus.Registerer.
func NewCollector(p *Pool) *Collector {
	labels := []string{"pool"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("connpool", "", name), help, labels, nil)
	}
	return &Collector{
		pool:        p,
		active:      desc("connections_active", "Open connections, idle or checked out."),
		idle:        desc("connections_idle", "Idle connections."),
		inUse:       desc("connections_in_use", "Checked-out connections."),
		waiting:     desc("waiters", "Callers parked waiting for a connection."),
		tracked:     desc("connections_tracked", "Checkouts recorded by connection tracking."),
		maxActive:   desc("connections_max_active", "Configured capacity; 0 means unbounded."),
		checkouts:   desc("checkouts_total", "Connections handed out."),
		misses:      desc("dials_total", "Checkouts that opened a new connection."),
		timeouts:    desc("acquire_timeouts_total", "Acquires that failed with pool exhausted."),
		connectErrs: desc("connect_errors_total", "Failed connection attempts."),
		closed:      desc("connections_closed_total", "Physical connections closed."),
		shed:        desc("connections_shed_total", "Released connections closed because the idle set was full."),
		reconnects:  desc("reconnects_total", "Connections replaced after the reconnect interval."),
		probes:      desc("probes_total", "Health probes run on idle connections."),
		probeFails:  desc("probe_failures_total", "Health probes that failed."),
		waitSeconds: desc("wait_seconds_total", "Time callers spent waiting for a connection."),
		waitCount:   desc("waits_total", "Acquires that had to wait."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.active, c.idle, c.inUse, c.waiting, c.tracked, c.maxActive,
		c.checkouts, c.misses, c.timeouts, c.connectErrs, c.closed, c.shed,
		c.reconnects, c.probes, c.probeFails, c.waitSeconds, c.waitCount,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, s.Name)
	}
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, s.Name)
	}

	gauge(c.active, float64(s.TotalActive))
	gauge(c.idle, float64(s.TotalIdle))
	gauge(c.inUse, float64(s.InUse))
	gauge(c.waiting, float64(s.Waiting))
	gauge(c.tracked, float64(s.Tracked))
	gauge(c.maxActive, float64(s.MaxActive))

	counter(c.checkouts, float64(s.Checkouts))
	counter(c.misses, float64(s.Misses))
	counter(c.timeouts, float64(s.Timeouts))
	counter(c.connectErrs, float64(s.ConnectionErrors))
	counter(c.closed, float64(s.ClosedConns))
	counter(c.shed, float64(s.Shed))
	counter(c.reconnects, float64(s.Reconnects))
	counter(c.probes, float64(s.HealthChecks))
	counter(c.probeFails, float64(s.FailedHealth))
	counter(c.waitSeconds, s.WaitDuration.Seconds())
	counter(c.waitCount, float64(s.WaitCount))
}
