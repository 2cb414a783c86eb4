// Package pool implements a bounded pool of database connections with FIFO
// or polling waiters, periodic reconnection, background health probing and
// optional checkout tracking.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guileen/connpool/driver"
	"github.com/guileen/connpool/logger"
	"github.com/guileen/connpool/tracking"
)

// Pool hands out connections from a single driver, never holding more than
// MaxActive of them at once.
//
// One mutex guards the idle set, the waiter queue, both counters and the
// closed flag. Dialing, probing and closing connections always happen with
// the mutex released.
type Pool struct {
	config    Config
	driver    driver.Driver
	logger    *slog.Logger
	tracker   *tracking.Registry
	reconnect *reconnector
	prober    *Prober

	// cancelled by Close; interrupts reconnect backoff and the prober
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	idle        idleList
	waiters     waiterQueue
	totalActive int
	totalIdle   int
	closed      bool

	stats counters
}

// New creates a connection pool. The driver's probe command check runs here
// when the driver implements driver.ProbeValidator.
func New(config Config, drv driver.Driver) (*Pool, error) {
	if drv == nil {
		return nil, &ConnectionPoolError{Op: "configure", Err: errors.New("nil driver")}
	}
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, &ConnectionPoolError{Op: "configure", Err: err}
	}
	if v, ok := drv.(driver.ProbeValidator); ok {
		if err := v.ValidateProbeCommand(config.ProbeCommand); err != nil {
			return nil, &ConnectionPoolError{
				Op:  "configure",
				Err: fmt.Errorf("probe command %q: %w", config.ProbeCommand, err),
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config: config,
		driver: drv,
		logger: config.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
	p.tracker = tracking.NewRegistry(config.EnableTracking, p.logger)
	p.reconnect = newReconnector(config, p.dial, p.logger)

	prober, err := newProber(p)
	if err != nil {
		cancel()
		return nil, &ConnectionPoolError{Op: "configure", Err: err}
	}
	p.prober = prober
	p.prober.Start(ctx)

	p.logger.Info("connection pool created",
		"strategy", config.Strategy.String(),
		"max_active", config.MaxActive,
		"max_idle", config.MaxIdle,
		"max_wait", config.MaxWait,
		"tracking", config.EnableTracking)
	return p, nil
}

// Name returns the configured pool name.
func (p *Pool) Name() string { return p.config.Name }

// Config returns the effective configuration after defaults were applied.
func (p *Pool) Config() Config { return p.config }

// Prober returns the background health prober.
func (p *Pool) Prober() *Prober { return p.prober }

// Acquire checks out a connection, waiting at most Config.MaxWait.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	return p.AcquireWithin(ctx, p.config.MaxWait)
}

// AcquireWithin checks out a connection, waiting at most maxWait for one to
// become available. maxWait <= 0 waits until ctx is done.
func (p *Pool) AcquireWithin(ctx context.Context, maxWait time.Duration) (*Conn, error) {
	if p.config.Strategy == StrategyPolling {
		return p.acquirePolling(ctx, maxWait)
	}
	return p.acquireFIFO(ctx, maxWait)
}

// tryTakeLocked returns an idle slot, or reserves capacity for a new one.
// Neither means the pool is saturated.
func (p *Pool) tryTakeLocked() (pc *pooledConn, reserved bool, err error) {
	if p.closed {
		return nil, false, ErrPoolClosed
	}
	if pc = p.idle.pop(); pc != nil {
		p.totalIdle--
		return pc, false, nil
	}
	if p.config.MaxActive <= 0 || p.totalActive < p.config.MaxActive {
		p.totalActive++
		return nil, true, nil
	}
	return nil, false, nil
}

func (p *Pool) acquireFIFO(ctx context.Context, maxWait time.Duration) (*Conn, error) {
	p.mu.Lock()
	pc, reserved, err := p.tryTakeLocked()
	if err != nil || pc != nil || reserved {
		p.mu.Unlock()
		return p.redeem(ctx, grant{pc: pc, err: err})
	}
	// Enqueued under the same lock that saw the pool saturated, so a
	// concurrent release cannot slip in between.
	w := newWaiter()
	p.waiters.push(w)
	p.mu.Unlock()

	start := time.Now()
	var expired <-chan time.Time
	if maxWait > 0 {
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		expired = timer.C
	}

	var cause error
	select {
	case g := <-w.ch:
		p.recordWait(start)
		return p.redeem(ctx, g)
	case <-expired:
		cause = fmt.Errorf("%w: no connection available within %s", ErrExhausted, maxWait)
	case <-ctx.Done():
		cause = ctx.Err()
	}
	p.recordWait(start)

	if !w.cancel() {
		// A releaser fulfilled the token first.
		g := <-w.ch
		if ctx.Err() != nil {
			p.abandon(g)
			return nil, &ConnectionPoolError{Op: "acquire", Err: ctx.Err()}
		}
		return p.redeem(ctx, g)
	}

	p.mu.Lock()
	p.waiters.remove(w)
	p.mu.Unlock()

	if errors.Is(cause, ErrExhausted) {
		atomic.AddUint64(&p.stats.timeouts, 1)
		p.logger.DebugContext(ctx, "acquire timed out",
			logger.Operation("acquire"), logger.Duration("max_wait", maxWait))
	} else {
		p.logger.DebugContext(ctx, "acquire abandoned",
			logger.Operation("acquire"), logger.ErrorField(cause))
	}
	return nil, &ConnectionPoolError{Op: "acquire", Err: cause}
}

func (p *Pool) acquirePolling(ctx context.Context, maxWait time.Duration) (*Conn, error) {
	var (
		waited time.Duration
		start  time.Time
	)
	for {
		p.mu.Lock()
		pc, reserved, err := p.tryTakeLocked()
		p.mu.Unlock()
		if err != nil || pc != nil || reserved {
			if waited > 0 {
				p.recordWait(start)
			}
			return p.redeem(ctx, grant{pc: pc, err: err})
		}
		if waited == 0 {
			start = time.Now()
		}

		timer := time.NewTimer(p.config.WaitInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			p.recordWait(start)
			return nil, &ConnectionPoolError{Op: "acquire", Err: ctx.Err()}
		}

		waited += p.config.WaitInterval
		if maxWait > 0 && waited > maxWait {
			p.recordWait(start)
			atomic.AddUint64(&p.stats.timeouts, 1)
			p.logger.DebugContext(ctx, "acquire timed out", logger.Operation("acquire"),
				logger.Duration("max_wait", maxWait), logger.Duration("waited", waited))
			return nil, &ConnectionPoolError{
				Op:  "acquire",
				Err: fmt.Errorf("%w: no connection available within %s", ErrExhausted, maxWait),
			}
		}
	}
}

// redeem turns a grant into a checked-out connection.
func (p *Pool) redeem(ctx context.Context, g grant) (*Conn, error) {
	switch {
	case g.err != nil:
		return nil, &ConnectionPoolError{Op: "acquire", Err: g.err}
	case g.pc != nil:
		return p.checkout(ctx, g.pc)
	default:
		return p.dialReserved(ctx)
	}
}

// abandon gives back a grant its waiter no longer wants.
func (p *Pool) abandon(g grant) {
	switch {
	case g.err != nil:
	case g.pc != nil:
		p.returnConn(g.pc)
	default:
		p.mu.Lock()
		p.releaseCapacityLocked()
		p.mu.Unlock()
	}
}

// withPoolContext derives a context that is also cancelled when the pool
// closes.
func (p *Pool) withPoolContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// dialReserved creates a connection for capacity the caller already holds.
func (p *Pool) dialReserved(ctx context.Context) (*Conn, error) {
	dctx, cancel := p.withPoolContext(ctx)
	phys, physID, err := p.dial(dctx)
	cancel()
	if err != nil {
		p.mu.Lock()
		p.releaseCapacityLocked()
		p.mu.Unlock()
		if ctx.Err() == nil && p.ctx.Err() != nil {
			return nil, &ConnectionPoolError{Op: "acquire", Err: ErrPoolClosed}
		}
		atomic.AddUint64(&p.stats.connectionErrors, 1)
		p.logger.ErrorContext(ctx, "failed to establish connection",
			logger.Operation("connect"), logger.ErrorField(err))
		return nil, connectError("connect", err)
	}
	atomic.AddUint64(&p.stats.misses, 1)

	pc := newPooledConn(phys, physID, time.Now())

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		_ = p.destroy(pc, "pool closed while connecting")
		return nil, &ConnectionPoolError{Op: "acquire", Err: ErrPoolClosed}
	}
	return p.handOut(pc), nil
}

// dial opens a physical connection, warning if it is still pending after
// SlowDialThreshold.
func (p *Pool) dial(ctx context.Context) (driver.Conn, string, error) {
	start := time.Now()
	slow := time.AfterFunc(p.config.SlowDialThreshold, func() {
		p.logger.WarnContext(ctx, "connection attempt is taking longer than expected",
			logger.Duration("threshold", p.config.SlowDialThreshold))
	})
	conn, err := p.driver.Dial(ctx)
	slow.Stop()
	if err != nil {
		return nil, "", err
	}
	if conn == nil {
		return nil, "", errors.New("driver returned a nil connection")
	}
	id := physicalID(conn)
	p.logger.DebugContext(ctx, "connection established", "physical_id", id, "elapsed", time.Since(start))
	return conn, id, nil
}

// checkout prepares a slot taken from the idle set, reconnecting it first
// when its reconnect interval has elapsed. A reconnected slot counts as a
// miss.
func (p *Pool) checkout(ctx context.Context, pc *pooledConn) (*Conn, error) {
	if !p.reconnect.due(pc, time.Now()) {
		atomic.AddUint64(&p.stats.hits, 1)
		return p.handOut(pc), nil
	}

	rctx, cancel := p.withPoolContext(logger.WithContextValue(ctx, logger.ConnIDKey, pc.id))
	err := p.reconnect.reconnect(rctx, pc)
	cancel()
	if err != nil {
		// The old physical connection is already closed.
		p.mu.Lock()
		p.releaseCapacityLocked()
		p.mu.Unlock()
		atomic.AddUint64(&p.stats.closedConns, 1)
		atomic.AddUint64(&p.stats.connectionErrors, 1)
		return nil, connectError("reconnect", err)
	}
	atomic.AddUint64(&p.stats.reconnects, 1)
	atomic.AddUint64(&p.stats.misses, 1)
	return p.handOut(pc), nil
}

func (p *Pool) handOut(pc *pooledConn) *Conn {
	now := time.Now()
	pc.lastUsedAt = now
	c := &Conn{
		pool:         p,
		pc:           pc,
		phys:         pc.phys,
		physID:       pc.physID,
		checkedOutAt: now,
	}
	p.tracker.Track(c)
	atomic.AddUint64(&p.stats.checkouts, 1)
	return c
}

// Release returns c to the pool. Releasing a handle twice, or one issued by
// another pool, returns ErrInvalidHandle and changes nothing.
func (p *Pool) Release(c *Conn) error {
	if c == nil || c.pool != p {
		p.logger.Warn("release of a handle from another pool", logger.Operation("release"))
		return &ConnectionPoolError{Op: "release", Err: ErrInvalidHandle}
	}
	if !c.released.CompareAndSwap(false, true) {
		p.logger.Warn("release of an already released handle",
			logger.Operation("release"), logger.ConnID(c.pc.id), "physical_id", c.physID)
		return &ConnectionPoolError{Op: "release", Err: ErrInvalidHandle}
	}
	p.put(c)
	return nil
}

func (p *Pool) put(c *Conn) {
	p.tracker.Untrack(c)
	c.pc.lastUsedAt = time.Now()
	p.returnConn(c.pc)
}

// returnConn gives a live slot to the oldest waiter, sheds it when the idle
// set is full, or parks it as idle.
func (p *Pool) returnConn(pc *pooledConn) {
	p.mu.Lock()
	if p.closed {
		p.totalActive--
		p.mu.Unlock()
		p.closeDetached(pc, "pool closed")
		return
	}
	for w := p.waiters.pop(); w != nil; w = p.waiters.pop() {
		if w.fulfill(grant{pc: pc}) {
			p.mu.Unlock()
			return
		}
	}
	if p.config.MaxIdle >= 0 && p.totalIdle >= p.config.MaxIdle {
		p.totalActive--
		p.mu.Unlock()
		atomic.AddUint64(&p.stats.shed, 1)
		p.closeDetached(pc, "idle limit reached")
		return
	}
	p.idle.push(pc)
	p.totalIdle++
	p.mu.Unlock()
}

// releaseCapacityLocked frees one unit of capacity. A parked waiter gets it
// as a reservation so FIFO order holds even when a slot dies.
func (p *Pool) releaseCapacityLocked() {
	if !p.closed {
		for w := p.waiters.pop(); w != nil; w = p.waiters.pop() {
			if w.fulfill(grant{}) {
				return
			}
		}
	}
	p.totalActive--
}

// destroy closes a slot's physical connection and frees its capacity.
func (p *Pool) destroy(pc *pooledConn, reason string) error {
	err := p.closeDetached(pc, reason)
	p.mu.Lock()
	p.releaseCapacityLocked()
	p.mu.Unlock()
	return err
}

func (p *Pool) closeDetached(pc *pooledConn, reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.ProbeTimeout)
	defer cancel()
	return p.closePhysical(ctx, pc, reason)
}

func (p *Pool) closePhysical(ctx context.Context, pc *pooledConn, reason string) error {
	err := pc.phys.Close(ctx)
	atomic.AddUint64(&p.stats.closedConns, 1)
	if err != nil {
		p.logger.Warn("error closing connection",
			logger.ConnID(pc.id), "physical_id", pc.physID, "reason", reason, logger.ErrorField(err))
		return err
	}
	p.logger.Debug("connection closed", logger.ConnID(pc.id), "reason", reason)
	return nil
}

// idleSnapshot lists the idle slots without removing them.
func (p *Pool) idleSnapshot() []*pooledConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle.snapshot()
}

// takeIdle removes pc from the idle set if it is still there.
func (p *Pool) takeIdle(pc *pooledConn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.idle.remove(pc) {
		return false
	}
	p.totalIdle--
	return true
}

func (p *Pool) recordWait(start time.Time) {
	atomic.AddUint64(&p.stats.waits, 1)
	atomic.AddUint64(&p.stats.waitNanos, uint64(time.Since(start)))
}

// ProbeNow runs one health probe cycle over the idle connections.
func (p *Pool) ProbeNow(ctx context.Context) ProbeResult {
	return p.prober.RunOnce(ctx)
}

// DumpTrackedConnections writes one entry per checked-out connection with
// its age and checkout stack.
func (p *Pool) DumpTrackedConnections(w io.Writer) error {
	return p.tracker.Dump(w)
}

// TrackedConnections returns the checked-out connections, oldest first.
// It is empty when tracking is disabled.
func (p *Pool) TrackedConnections() []tracking.Info {
	return p.tracker.Snapshot()
}

// CloseTrackedConnections force-releases every checked-out connection.
func (p *Pool) CloseTrackedConnections() []tracking.CloseResult {
	return p.tracker.CloseAll()
}

// TrackingEnabled reports whether checkouts are tracked.
func (p *Pool) TrackingEnabled() bool {
	return p.tracker.Enabled()
}

// Close shuts the pool down. Idle connections are closed, parked waiters
// fail with ErrPoolClosed, and connections still checked out are closed
// when released.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle.drain()
	p.totalIdle = 0
	p.totalActive -= len(idle)
	var waiters []*waiter
	for w := p.waiters.pop(); w != nil; w = p.waiters.pop() {
		waiters = append(waiters, w)
	}
	p.mu.Unlock()

	p.cancel()
	p.prober.shutdown()

	for _, w := range waiters {
		w.fulfill(grant{err: ErrPoolClosed})
	}

	var errs []error
	for _, pc := range idle {
		if err := p.closePhysical(ctx, pc, "pool closed"); err != nil {
			errs = append(errs, err)
		}
	}
	p.logger.Info("connection pool closed", "closed_idle", len(idle), "woken_waiters", len(waiters))
	if err := errors.Join(errs...); err != nil {
		return &ConnectionPoolError{Op: "close", Err: err}
	}
	return nil
}
