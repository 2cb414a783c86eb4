// Package drivertest provides an in-memory driver for exercising the pool
// without a database server.
package drivertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/guileen/connpool/driver"
)

// ErrClosed is returned by operations on a closed fake connection.
var ErrClosed = errors.New("drivertest: connection closed")

// Driver implements driver.Driver for testing
type Driver struct {
	mu        sync.Mutex
	seq       int
	failCount int
	failErr   error
	gate      chan struct{}
	conns     []*Conn
}

// New creates a fake driver whose dials succeed immediately.
func New() *Driver {
	return &Driver{}
}

// FailNextDials makes the next n dials fail with err.
func (d *Driver) FailNextDials(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		err = errors.New("drivertest: dial refused")
	}
	d.failCount = n
	d.failErr = err
}

// Block makes every subsequent dial hang until the returned function is
// called or the dial context is done.
func (d *Driver) Block() (unblock func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gate := make(chan struct{})
	d.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.gate == gate {
				d.gate = nil
			}
			d.mu.Unlock()
			close(gate)
		})
	}
}

// Dial creates a fake connection.
func (d *Driver) Dial(ctx context.Context) (driver.Conn, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failCount > 0 {
		d.failCount--
		return nil, d.failErr
	}

	d.seq++
	c := &Conn{id: fmt.Sprintf("fake-%d", d.seq)}
	d.conns = append(d.conns, c)
	return c, nil
}

// Dials returns the number of successful dials so far.
func (d *Driver) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Open returns the number of fake connections not yet closed.
func (d *Driver) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.conns {
		if !c.Closed() {
			n++
		}
	}
	return n
}

// Conns returns every connection dialed so far, in dial order.
func (d *Driver) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Conn, len(d.conns))
	copy(out, d.conns)
	return out
}

// Conn is a fake physical connection.
type Conn struct {
	id string

	mu       sync.Mutex
	closed   bool
	probes   int
	probeErr error
	closeErr error
	commands []string
}

// ID returns the connection's identity, unique per driver.
func (c *Conn) ID() string { return c.id }

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FailProbes makes every following probe fail with err (nil restores success).
func (c *Conn) FailProbes(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeErr = err
}

// FailClose makes Close report err.
func (c *Conn) FailClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeErr = err
}

// Probes returns how many probes reached this connection.
func (c *Conn) Probes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probes
}

// Commands returns the probe commands received.
func (c *Conn) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commands...)
}

// Probe records the command and returns the configured result.
func (c *Conn) Probe(ctx context.Context, command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.probes++
	c.commands = append(c.commands, command)
	return c.probeErr
}

// Close marks the connection closed.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.closeErr
}

func (c *Conn) String() string { return c.id }
