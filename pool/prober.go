package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/guileen/connpool/logger"
)

// ProbeResult summarises one probe cycle.
type ProbeResult struct {
	Probed  int `json:"probed"`
	Evicted int `json:"evicted"`
}

// Prober periodically runs the probe command on idle connections and evicts
// the ones that fail. A connection is removed from the idle set while it is
// probed, so a caller never receives a connection mid-probe.
type Prober struct {
	pool    *Pool
	period  time.Duration
	timeout time.Duration
	command string
	workers *ants.Pool
	logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func newProber(p *Pool) (*Prober, error) {
	log := p.logger.With(logger.Component("prober"))
	workers, err := ants.NewPool(p.config.ProbeConcurrency,
		ants.WithPanicHandler(func(v any) {
			log.Error("probe worker panicked", "panic", v)
		}))
	if err != nil {
		return nil, fmt.Errorf("create probe workers: %w", err)
	}
	return &Prober{
		pool:    p,
		period:  p.config.ProbePeriod,
		timeout: p.config.ProbeTimeout,
		command: p.config.ProbeCommand,
		workers: workers,
		logger:  log,
	}, nil
}

// Start launches the periodic probe loop. It does nothing when the probe
// period is negative or the loop is already running.
func (pr *Prober) Start(ctx context.Context) {
	if pr.period <= 0 {
		return
	}
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	pr.cancel = cancel
	pr.done = make(chan struct{})
	pr.running = true
	go pr.loop(ctx, pr.done)
	pr.logger.Debug("prober started", "period", pr.period, "command", pr.command)
}

// Stop ends the probe loop and waits for an in-flight cycle to finish.
func (pr *Prober) Stop() {
	pr.mu.Lock()
	if !pr.running {
		pr.mu.Unlock()
		return
	}
	pr.running = false
	cancel, done := pr.cancel, pr.done
	pr.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the periodic loop is active.
func (pr *Prober) Running() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.running
}

func (pr *Prober) shutdown() {
	pr.Stop()
	pr.workers.Release()
}

func (pr *Prober) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(pr.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := pr.RunOnce(ctx)
			if res.Evicted > 0 {
				pr.logger.Warn("probe cycle evicted connections", "probed", res.Probed, "evicted", res.Evicted)
			}
		}
	}
}

// RunOnce probes every connection idle at the start of the cycle. A
// connection checked out in the meantime is skipped.
func (pr *Prober) RunOnce(ctx context.Context) ProbeResult {
	var (
		wg      sync.WaitGroup
		probed  atomic.Int64
		evicted atomic.Int64
	)
	for _, pc := range pr.pool.idleSnapshot() {
		if ctx.Err() != nil {
			break
		}
		if !pr.pool.takeIdle(pc) {
			continue
		}
		pc := pc
		wg.Add(1)
		task := func() {
			defer wg.Done()
			probed.Add(1)
			if pr.check(ctx, pc) {
				pr.pool.returnConn(pc)
				return
			}
			evicted.Add(1)
			_ = pr.pool.destroy(pc, "probe failed")
		}
		if err := pr.workers.Submit(task); err != nil {
			// workers released during shutdown
			task()
		}
	}
	wg.Wait()
	return ProbeResult{Probed: int(probed.Load()), Evicted: int(evicted.Load())}
}

// check reports whether pc should stay in the pool. A probe cut short by
// ctx keeps the connection; the pool decides its fate on return.
func (pr *Prober) check(ctx context.Context, pc *pooledConn) (alive bool) {
	defer func() {
		if v := recover(); v != nil {
			atomic.AddUint64(&pr.pool.stats.failedHealth, 1)
			pr.logger.Error("probe panicked", logger.ConnID(pc.id), "panic", v)
			alive = false
		}
	}()

	pctx, cancel := context.WithTimeout(logger.WithContextValue(ctx, logger.ConnIDKey, pc.id), pr.timeout)
	defer cancel()
	atomic.AddUint64(&pr.pool.stats.healthChecks, 1)
	err := pc.phys.Probe(pctx, pr.command)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return true
	}
	atomic.AddUint64(&pr.pool.stats.failedHealth, 1)
	pr.logger.ErrorContext(pctx, "unable to probe connection",
		"physical_id", pc.physID, "command", pr.command, logger.ErrorField(err))
	return false
}
