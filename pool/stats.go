package pool

import (
	"sync/atomic"
	"time"
)

type counters struct {
	checkouts        uint64
	hits             uint64
	misses           uint64
	timeouts         uint64
	connectionErrors uint64
	closedConns      uint64
	shed             uint64
	reconnects       uint64
	healthChecks     uint64
	failedHealth     uint64
	waits            uint64
	waitNanos        uint64
}

// Stats contains statistics about the pool
type Stats struct {
	Name      string `json:"name"`
	Strategy  string `json:"strategy"`
	MaxActive int    `json:"max_active"`
	MaxIdle   int    `json:"max_idle"`
	Closed    bool   `json:"closed"`

	TotalActive int `json:"total_active"` // open connections, idle or checked out
	TotalIdle   int `json:"total_idle"`
	InUse       int `json:"in_use"`
	Waiting     int `json:"waiting"` // parked FIFO waiters
	Tracked     int `json:"tracked"`

	Checkouts        uint64        `json:"checkouts"`
	Hits             uint64        `json:"hits"`   // checkouts served by an existing connection
	Misses           uint64        `json:"misses"` // checkouts that dialed
	Timeouts         uint64        `json:"timeouts"`
	ConnectionErrors uint64        `json:"connection_errors"`
	ClosedConns      uint64        `json:"closed_conns"`
	Shed             uint64        `json:"shed"`
	Reconnects       uint64        `json:"reconnects"`
	HealthChecks     uint64        `json:"health_checks"`
	FailedHealth     uint64        `json:"failed_health"`
	WaitCount        uint64        `json:"wait_count"`
	WaitDuration     time.Duration `json:"wait_duration"`
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		TotalActive: p.totalActive,
		TotalIdle:   p.totalIdle,
		Waiting:     p.waiters.len(),
		Closed:      p.closed,
	}
	p.mu.Unlock()

	s.Name = p.config.Name
	s.Strategy = p.config.Strategy.String()
	s.MaxActive = p.config.MaxActive
	s.MaxIdle = p.config.MaxIdle
	s.InUse = s.TotalActive - s.TotalIdle
	s.Tracked = p.tracker.Len()

	s.Checkouts = atomic.LoadUint64(&p.stats.checkouts)
	s.Hits = atomic.LoadUint64(&p.stats.hits)
	s.Misses = atomic.LoadUint64(&p.stats.misses)
	s.Timeouts = atomic.LoadUint64(&p.stats.timeouts)
	s.ConnectionErrors = atomic.LoadUint64(&p.stats.connectionErrors)
	s.ClosedConns = atomic.LoadUint64(&p.stats.closedConns)
	s.Shed = atomic.LoadUint64(&p.stats.shed)
	s.Reconnects = atomic.LoadUint64(&p.stats.reconnects)
	s.HealthChecks = atomic.LoadUint64(&p.stats.healthChecks)
	s.FailedHealth = atomic.LoadUint64(&p.stats.failedHealth)
	s.WaitCount = atomic.LoadUint64(&p.stats.waits)
	s.WaitDuration = time.Duration(atomic.LoadUint64(&p.stats.waitNanos))
	return s
}

// HitRate is the share of checkouts served without dialing, in percent.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}
