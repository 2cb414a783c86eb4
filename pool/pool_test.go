package pool

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/guileen/connpool/driver/drivertest"
)

func newTestPool(t *testing.T, mutate func(*Config)) (*Pool, *drivertest.Driver) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Name = t.Name()
	cfg.MaxActive = 2
	cfg.ProbePeriod = -1
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if mutate != nil {
		mutate(&cfg)
	}
	drv := drivertest.New()
	p, err := New(cfg, drv)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, drv
}

var strategies = []Strategy{StrategyFIFO, StrategyPolling}

func TestAcquireReleaseReusesConnection(t *testing.T) {
	p, drv := newTestPool(t, nil)
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	id, physID := c1.ID(), c1.PhysicalID()

	s := p.Stats()
	assert.Equal(t, 1, s.TotalActive)
	assert.Equal(t, 0, s.TotalIdle)
	assert.Equal(t, 1, s.InUse)

	require.NoError(t, p.Release(c1))
	s = p.Stats()
	assert.Equal(t, 1, s.TotalActive)
	assert.Equal(t, 1, s.TotalIdle)

	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, c2.ID())
	assert.Equal(t, physID, c2.PhysicalID())
	assert.Equal(t, 1, drv.Dials())
	assert.NotSame(t, c1, c2, "every checkout gets a fresh handle")

	raw, err := c2.Raw()
	require.NoError(t, err)
	assert.Equal(t, drv.Conns()[0], raw)

	s = p.Stats()
	assert.Equal(t, uint64(2), s.Checkouts)
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.InDelta(t, 50.0, s.HitRate(), 0.001)
}

func TestCapacityNeverExceeded(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			p, drv := newTestPool(t, func(c *Config) {
				c.MaxActive = 3
				c.Strategy = strategy
				c.WaitInterval = time.Millisecond
			})

			var inUse, peak atomic.Int32
			g, ctx := errgroup.WithContext(context.Background())
			for i := 0; i < 12; i++ {
				g.Go(func() error {
					for j := 0; j < 10; j++ {
						c, err := p.AcquireWithin(ctx, 5*time.Second)
						if err != nil {
							return err
						}
						n := inUse.Add(1)
						for {
							old := peak.Load()
							if n <= old || peak.CompareAndSwap(old, n) {
								break
							}
						}
						time.Sleep(100 * time.Microsecond)
						inUse.Add(-1)
						if err := c.Close(); err != nil {
							return err
						}
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			assert.LessOrEqual(t, int(peak.Load()), 3)
			assert.LessOrEqual(t, drv.Dials(), 3)
			s := p.Stats()
			assert.Equal(t, s.TotalActive, s.TotalIdle)
			assert.Equal(t, 0, s.InUse)
			assert.Equal(t, 0, s.Waiting)
			assert.Equal(t, uint64(120), s.Checkouts)
		})
	}
}

func TestConcurrentCheckoutsAreDistinct(t *testing.T) {
	const maxActive = 4
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			p, drv := newTestPool(t, func(c *Config) {
				c.MaxActive = maxActive
				c.Strategy = strategy
				c.WaitInterval = time.Millisecond
			})

			for round := 0; round < 3; round++ {
				var (
					mu    sync.Mutex
					conns []*Conn
					ready sync.WaitGroup
				)
				ready.Add(maxActive)
				g, ctx := errgroup.WithContext(context.Background())
				for i := 0; i < maxActive; i++ {
					g.Go(func() error {
						c, err := p.AcquireWithin(ctx, 5*time.Second)
						ready.Done()
						if err != nil {
							return err
						}
						mu.Lock()
						conns = append(conns, c)
						mu.Unlock()
						// hold until every caller has one
						ready.Wait()
						return nil
					})
				}
				require.NoError(t, g.Wait())
				require.Len(t, conns, maxActive)

				ids := map[string]bool{}
				physIDs := map[string]bool{}
				for _, c := range conns {
					ids[c.ID()] = true
					physIDs[c.PhysicalID()] = true
				}
				assert.Len(t, ids, maxActive, "round %d", round)
				assert.Len(t, physIDs, maxActive, "round %d", round)

				for _, c := range conns {
					require.NoError(t, c.Close())
				}
			}
			assert.Equal(t, maxActive, drv.Dials())
		})
	}
}

func TestTimedOutWaiterRacingRelease(t *testing.T) {
	p, drv := newTestPool(t, func(c *Config) { c.MaxActive = 1 })
	ctx := context.Background()
	const wait = 2 * time.Millisecond

	type result struct {
		conn *Conn
		err  error
	}
	for round := 0; round < 200; round++ {
		held, err := p.Acquire(ctx)
		require.NoError(t, err)

		done := make(chan result, 1)
		go func() {
			c, err := p.AcquireWithin(ctx, wait)
			done <- result{c, err}
		}()
		time.Sleep(wait)
		require.NoError(t, held.Close())

		res := <-done
		if res.err != nil {
			require.True(t, IsExhausted(res.err), "round %d: %v", round, res.err)
		} else {
			require.NoError(t, res.conn.Close())
		}

		s := p.Stats()
		require.Equal(t, 1, s.TotalActive, "round %d", round)
		require.Equal(t, 1, s.TotalIdle, "round %d", round)
		require.Equal(t, 0, s.Waiting, "round %d", round)
		require.Equal(t, 1, drv.Dials(), "round %d", round)
	}
}

func TestAcquireExhausted(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			p, _ := newTestPool(t, func(c *Config) {
				c.MaxActive = 1
				c.MaxWait = 50 * time.Millisecond
				c.Strategy = strategy
				c.WaitInterval = 10 * time.Millisecond
			})
			ctx := context.Background()

			held, err := p.Acquire(ctx)
			require.NoError(t, err)

			start := time.Now()
			_, err = p.Acquire(ctx)
			require.Error(t, err)
			assert.True(t, IsExhausted(err))
			assert.True(t, IsConnectionPoolError(err))
			assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

			s := p.Stats()
			assert.Equal(t, uint64(1), s.Timeouts)
			assert.Equal(t, 0, s.Waiting)
			assert.Equal(t, 1, s.TotalActive)

			require.NoError(t, held.Close())
			c, err := p.Acquire(ctx)
			require.NoError(t, err)
			require.NoError(t, c.Close())
		})
	}
}

func TestAcquireContextCancelled(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			p, _ := newTestPool(t, func(c *Config) {
				c.MaxActive = 1
				c.Strategy = strategy
				c.WaitInterval = 5 * time.Millisecond
			})
			held, err := p.Acquire(context.Background())
			require.NoError(t, err)
			defer held.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()
			_, err = p.Acquire(ctx)
			require.Error(t, err)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.False(t, IsExhausted(err))
			assert.Equal(t, 0, p.Stats().Waiting)
		})
	}
}

func TestFIFOWaitersServedInOrder(t *testing.T) {
	p, _ := newTestPool(t, func(c *Config) { c.MaxActive = 1 })
	ctx := context.Background()

	held, err := p.Acquire(ctx)
	require.NoError(t, err)

	order := make(chan string, 3)
	var wg sync.WaitGroup
	waiter := func(name string) {
		defer wg.Done()
		c, err := p.Acquire(ctx)
		if !assert.NoError(t, err) {
			return
		}
		order <- name
		time.Sleep(5 * time.Millisecond)
		assert.NoError(t, c.Close())
	}

	for i, name := range []string{"first", "second", "third"} {
		wg.Add(1)
		go waiter(name)
		want := i + 1
		require.Eventually(t, func() bool { return p.Stats().Waiting == want },
			time.Second, time.Millisecond)
	}

	require.NoError(t, held.Close())
	wg.Wait()
	close(order)

	var got []string
	for name := range order {
		got = append(got, name)
	}
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestReleaseHandsConnectionToWaiter(t *testing.T) {
	p, drv := newTestPool(t, func(c *Config) { c.MaxActive = 1 })
	ctx := context.Background()

	held, err := p.Acquire(ctx)
	require.NoError(t, err)
	slot := held.ID()

	got := make(chan *Conn, 1)
	go func() {
		c, err := p.Acquire(ctx)
		assert.NoError(t, err)
		got <- c
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	require.NoError(t, held.Close())
	select {
	case c := <-got:
		require.NotNil(t, c)
		assert.Equal(t, slot, c.ID())
		assert.Equal(t, 0, p.Stats().TotalIdle, "handed over directly, never parked idle")
		require.NoError(t, c.Close())
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
	assert.Equal(t, 1, drv.Dials())
}

func TestReleaseRejectsInvalidHandles(t *testing.T) {
	p, _ := newTestPool(t, nil)
	other, _ := newTestPool(t, nil)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Release(c))
	before := p.Stats()

	err = p.Release(c)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	assert.NoError(t, c.Close(), "closing a released handle is a no-op")
	assert.Equal(t, before.TotalActive, p.Stats().TotalActive)
	assert.Equal(t, before.TotalIdle, p.Stats().TotalIdle)

	_, err = c.Raw()
	assert.ErrorIs(t, err, ErrConnClosed)
	assert.True(t, c.IsClosed())

	foreign, err := other.Acquire(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Release(foreign), ErrInvalidHandle)
	assert.ErrorIs(t, p.Release(nil), ErrInvalidHandle)
	require.NoError(t, other.Release(foreign))
}

func TestStaleHandleCannotReleaseReusedSlot(t *testing.T) {
	p, _ := newTestPool(t, func(c *Config) { c.MaxActive = 1 })
	ctx := context.Background()

	first, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID(), second.ID())

	assert.ErrorIs(t, p.Release(first), ErrInvalidHandle)
	assert.Equal(t, 1, p.Stats().InUse)
	require.NoError(t, second.Close())
}

func TestMaxIdleShedsExtraConnections(t *testing.T) {
	p, drv := newTestPool(t, func(c *Config) {
		c.MaxActive = 3
		c.MaxIdle = 1
	})
	ctx := context.Background()

	var conns []*Conn
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(ctx)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	for _, c := range conns {
		require.NoError(t, c.Close())
	}

	s := p.Stats()
	assert.Equal(t, 1, s.TotalIdle)
	assert.Equal(t, 1, s.TotalActive)
	assert.Equal(t, uint64(2), s.Shed)
	assert.Equal(t, 1, drv.Open())
}

func TestMaxIdleZeroClosesEveryRelease(t *testing.T) {
	p, drv := newTestPool(t, func(c *Config) { c.MaxIdle = 0 })

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	s := p.Stats()
	assert.Equal(t, 0, s.TotalActive)
	assert.Equal(t, 0, s.TotalIdle)
	assert.Equal(t, 0, drv.Open())
}

func TestUnboundedMaxActive(t *testing.T) {
	p, drv := newTestPool(t, func(c *Config) { c.MaxActive = 0 })

	var conns []*Conn
	for i := 0; i < 25; i++ {
		c, err := p.Acquire(context.Background())
		require.NoError(t, err)
		conns = append(conns, c)
	}
	assert.Equal(t, 25, drv.Dials())
	assert.Equal(t, 25, p.Stats().TotalActive)
	for _, c := range conns {
		require.NoError(t, c.Close())
	}
	assert.Equal(t, 25, p.Stats().TotalIdle)
}

func TestDialFailureReleasesCapacity(t *testing.T) {
	p, drv := newTestPool(t, func(c *Config) { c.MaxActive = 1 })
	refused := errors.New("connection refused")
	drv.FailNextDials(1, refused)

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectFailed(err))
	assert.ErrorIs(t, err, refused)
	assert.False(t, IsExhausted(err))

	s := p.Stats()
	assert.Equal(t, 0, s.TotalActive)
	assert.Equal(t, uint64(1), s.ConnectionErrors)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestDiscardHandsCapacityToWaiter(t *testing.T) {
	p, drv := newTestPool(t, func(c *Config) { c.MaxActive = 1 })
	ctx := context.Background()

	held, err := p.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		c, err := p.Acquire(ctx)
		if err == nil {
			err = c.Close()
		}
		got <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	require.NoError(t, held.Discard())
	assert.True(t, drv.Conns()[0].Closed())

	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter did not receive freed capacity")
	}
	assert.Equal(t, 2, drv.Dials())
	assert.Equal(t, 1, p.Stats().TotalActive)
}

func TestHungDialDoesNotBlockRelease(t *testing.T) {
	p, drv := newTestPool(t, func(c *Config) { c.MaxActive = 2 })
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)

	unblock := drv.Block()
	defer unblock()

	dialed := make(chan error, 1)
	go func() {
		c, err := p.Acquire(ctx)
		if err == nil {
			err = c.Close()
		}
		dialed <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().TotalActive == 2 }, time.Second, time.Millisecond)

	released := make(chan error, 1)
	go func() { released <- c1.Close() }()
	select {
	case err := <-released:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("release blocked behind a pending dial")
	}

	c3, err := p.AcquireWithin(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, c1.ID(), c3.ID())
	require.NoError(t, c3.Close())

	unblock()
	require.NoError(t, <-dialed)
	assert.Equal(t, 2, drv.Dials())
}

func TestCloseInterruptsPendingDial(t *testing.T) {
	p, drv := newTestPool(t, nil)
	unblock := drv.Block()
	defer unblock()

	result := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		result <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().TotalActive == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Close(context.Background()))
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("pending dial was not interrupted by Close")
	}
	s := p.Stats()
	assert.Equal(t, 0, s.TotalActive)
	assert.Equal(t, uint64(0), s.ConnectionErrors)
	assert.Equal(t, 0, drv.Dials())
}

func TestReconnectAfterInterval(t *testing.T) {
	p, drv := newTestPool(t, func(c *Config) {
		c.ReconnectInterval = 20 * time.Millisecond
		c.ReconnectBackoff = 5 * time.Millisecond
	})
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	slot, phys := c.ID(), c.PhysicalID()
	require.NoError(t, c.Close())

	c, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, phys, c.PhysicalID(), "not due yet")
	require.NoError(t, c.Close())

	time.Sleep(30 * time.Millisecond)

	c, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, slot, c.ID())
	assert.NotEqual(t, phys, c.PhysicalID())
	assert.True(t, drv.Conns()[0].Closed())
	assert.Equal(t, uint64(1), p.Stats().Reconnects)
	assert.Equal(t, 1, p.Stats().TotalActive)
	require.NoError(t, c.Close())
}

func TestReconnectRetriesUntilDialSucceeds(t *testing.T) {
	p, drv := newTestPool(t, func(c *Config) {
		c.ReconnectInterval = 10 * time.Millisecond
		c.ReconnectBackoff = 2 * time.Millisecond
	})
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	phys := c.PhysicalID()
	require.NoError(t, c.Close())

	time.Sleep(20 * time.Millisecond)
	drv.FailNextDials(3, errors.New("server restarting"))

	c, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, phys, c.PhysicalID())
	assert.Equal(t, 2, drv.Dials())
	assert.Equal(t, uint64(0), p.Stats().ConnectionErrors)
	require.NoError(t, c.Close())
}

func TestCloseInterruptsReconnect(t *testing.T) {
	p, drv := newTestPool(t, func(c *Config) {
		c.ReconnectInterval = 10 * time.Millisecond
		c.ReconnectBackoff = 2 * time.Millisecond
	})
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	time.Sleep(20 * time.Millisecond)

	unblock := drv.Block()
	defer unblock()

	result := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		result <- err
	}()
	require.Eventually(t, func() bool { return drv.Conns()[0].Closed() }, time.Second, time.Millisecond)

	require.NoError(t, p.Close(ctx))
	select {
	case err := <-result:
		require.Error(t, err)
		assert.True(t, IsConnectFailed(err))
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reconnect was not interrupted by Close")
	}
	assert.Equal(t, 0, p.Stats().TotalActive)
}

func TestReconnectCountsAsMiss(t *testing.T) {
	p, drv := newTestPool(t, func(c *Config) {
		c.ReconnectInterval = 20 * time.Millisecond
		c.ReconnectBackoff = 5 * time.Millisecond
	})
	ctx := context.Background()

	c, err := p.Acquire(ctx) // miss
	require.NoError(t, err)
	require.NoError(t, c.Close())
	c, err = p.Acquire(ctx) // hit
	require.NoError(t, err)
	require.NoError(t, c.Close())

	time.Sleep(30 * time.Millisecond)
	c, err = p.Acquire(ctx) // reconnected
	require.NoError(t, err)
	require.NoError(t, c.Close())

	s := p.Stats()
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(2), s.Misses)
	assert.Equal(t, uint64(1), s.Reconnects)
	assert.InDelta(t, 100.0/3, s.HitRate(), 0.001)

	time.Sleep(30 * time.Millisecond)
	unblock := drv.Block()
	defer unblock()
	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(tctx)
	require.Error(t, err)
	assert.True(t, IsConnectFailed(err))

	s = p.Stats()
	assert.Equal(t, uint64(1), s.Hits, "a failed reconnect is not a hit")
	assert.Equal(t, uint64(1), s.ConnectionErrors)
	assert.Equal(t, 0, s.TotalActive)
}

func TestProbeNowEvictsDeadConnections(t *testing.T) {
	p, drv := newTestPool(t, func(c *Config) { c.ProbeCommand = "SELECT 42" })
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, c1.Close())
	require.NoError(t, c2.Close())

	dead := drv.Conns()[0]
	dead.FailProbes(errors.New("server closed the connection unexpectedly"))

	res := p.ProbeNow(ctx)
	assert.Equal(t, ProbeResult{Probed: 2, Evicted: 1}, res)
	assert.True(t, dead.Closed())
	assert.Equal(t, []string{"SELECT 42"}, drv.Conns()[1].Commands())

	s := p.Stats()
	assert.Equal(t, 1, s.TotalActive)
	assert.Equal(t, 1, s.TotalIdle)
	assert.Equal(t, uint64(2), s.HealthChecks)
	assert.Equal(t, uint64(1), s.FailedHealth)
}

func TestProbeSkipsCheckedOutConnections(t *testing.T) {
	p, drv := newTestPool(t, nil)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer c.Close()

	res := p.ProbeNow(context.Background())
	assert.Equal(t, 0, res.Probed)
	assert.Equal(t, 0, drv.Conns()[0].Probes())
}

func TestProberRunsPeriodically(t *testing.T) {
	p, drv := newTestPool(t, func(c *Config) {
		c.ProbePeriod = 5 * time.Millisecond
		c.ProbeConcurrency = 2
	})
	require.True(t, p.Prober().Running())

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	require.Eventually(t, func() bool { return drv.Conns()[0].Probes() >= 2 }, time.Second, time.Millisecond)

	p.Prober().Stop()
	assert.False(t, p.Prober().Running())
	assert.Equal(t, 1, p.Stats().TotalIdle)
}

type rejectingDriver struct {
	*drivertest.Driver
}

func (rejectingDriver) ValidateProbeCommand(cmd string) error {
	return errors.New("syntax error")
}

func TestNewValidatesProbeCommand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProbeCommand = "SELEC 1"
	_, err := New(cfg, rejectingDriver{drivertest.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SELEC 1")

	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestCloseWakesWaiters(t *testing.T) {
	p, drv := newTestPool(t, func(c *Config) { c.MaxActive = 2 })
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)

	woken := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		woken <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Close(ctx))
	select {
	case err := <-woken:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Close")
	}

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)

	// connections checked out at close time are closed on release
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 0, drv.Open())

	s := p.Stats()
	assert.True(t, s.Closed)
	assert.Equal(t, 0, s.TotalActive)
	assert.Equal(t, 0, s.Waiting)
	assert.NoError(t, p.Close(ctx), "second close is a no-op")
}

func TestCloseDrainsIdle(t *testing.T) {
	p, drv := newTestPool(t, nil)
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, c1.Close())
	require.NoError(t, c2.Close())
	drv.Conns()[1].FailClose(errors.New("broken pipe"))

	err = p.Close(ctx)
	require.Error(t, err, "close errors are reported")
	assert.Contains(t, err.Error(), "broken pipe")
	assert.Equal(t, 0, drv.Open())

	s := p.Stats()
	assert.Equal(t, 0, s.TotalIdle)
	assert.Equal(t, 0, s.TotalActive)
}

func TestTrackedConnections(t *testing.T) {
	p, _ := newTestPool(t, func(c *Config) { c.EnableTracking = true })
	require.True(t, p.TrackingEnabled())

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	infos := p.TrackedConnections()
	require.Len(t, infos, 1)
	assert.Equal(t, c.ID(), infos[0].ConnID)
	assert.False(t, infos[0].Closed)
	assert.NotEmpty(t, infos[0].Stack)

	var buf bytes.Buffer
	require.NoError(t, p.DumpTrackedConnections(&buf))
	assert.Contains(t, buf.String(), "Total tracked connections: 1")
	assert.Contains(t, buf.String(), c.ID())

	results := p.CloseTrackedConnections()
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.False(t, results[0].WasClosed)
	assert.True(t, c.IsClosed())

	assert.Empty(t, p.TrackedConnections())
	assert.Equal(t, 1, p.Stats().TotalIdle)
}

func TestTrackingDisabled(t *testing.T) {
	p, _ := newTestPool(t, nil)
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer c.Close()

	var buf bytes.Buffer
	require.NoError(t, p.DumpTrackedConnections(&buf))
	assert.Contains(t, buf.String(), "disabled")
	assert.Empty(t, p.TrackedConnections())
	assert.Empty(t, p.CloseTrackedConnections())
}

func TestCollector(t *testing.T) {
	p, _ := newTestPool(t, nil)
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer c.Close()

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(p)))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			require.Equal(t, p.Name(), m.GetLabel()[0].GetValue())
			switch {
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				values[mf.GetName()] = m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, values["connpool_connections_active"])
	assert.Equal(t, 1.0, values["connpool_connections_in_use"])
	assert.Equal(t, 2.0, values["connpool_connections_max_active"])
	assert.Equal(t, 1.0, values["connpool_checkouts_total"])
}
