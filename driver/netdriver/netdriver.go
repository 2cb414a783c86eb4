// Package netdriver pools raw TCP or Unix socket connections. It suits
// line protocols where a cheap liveness check is enough. Importing it
// registers the "tcp" and "unix" drivers, whose DSN is the address or
// socket path.
package netdriver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/guileen/connpool/driver"
)

func init() {
	driver.Register("tcp", func(dsn string) (driver.Driver, error) { return NewTCP(dsn, 0), nil })
	driver.Register("unix", func(dsn string) (driver.Driver, error) { return NewUnix(dsn, 0), nil })
}

const defaultDialTimeout = 30 * time.Second

// NetworkError describes a failed dial or probe.
type NetworkError struct {
	Op      string
	Network string
	Address string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Network, e.Address, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Driver dials a fixed network address.
type Driver struct {
	network string
	address string
	timeout time.Duration
	dialer  net.Dialer
}

// NewTCP creates a driver for a TCP address
func NewTCP(address string, timeout time.Duration) *Driver {
	return newDriver("tcp", address, timeout)
}

// NewUnix creates a driver for a Unix socket path
func NewUnix(socketPath string, timeout time.Duration) *Driver {
	return newDriver("unix", socketPath, timeout)
}

func newDriver(network, address string, timeout time.Duration) *Driver {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return &Driver{network: network, address: address, timeout: timeout}
}

// Dial connects, bounded by the context deadline or the driver timeout,
// whichever comes first.
func (d *Driver) Dial(ctx context.Context) (driver.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, err := d.dialer.DialContext(ctx, d.network, d.address)
	if err != nil {
		return nil, &NetworkError{Op: "dial", Network: d.network, Address: d.address, Err: err}
	}
	return &Conn{conn: conn}, nil
}

// Conn is a pooled network connection.
type Conn struct {
	conn net.Conn
}

// Net returns the underlying connection.
func (c *Conn) Net() net.Conn { return c.conn }

// ID identifies the connection by its local and remote endpoints.
func (c *Conn) ID() string {
	return c.conn.LocalAddr().String() + "->" + c.conn.RemoteAddr().String()
}

// Probe checks that the peer has not closed the connection. The command is
// ignored and nothing is written to the stream.
func (c *Conn) Probe(ctx context.Context, command string) error {
	if err := ctx.Err(); err != nil {
		return c.probeError(err)
	}

	// A healthy idle connection has nothing to read, so the read times out.
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	var buf [1]byte
	_, err := c.conn.Read(buf[:])
	_ = c.conn.SetReadDeadline(time.Time{})

	var netErr net.Error
	switch {
	case err == nil:
		return c.probeError(errors.New("unexpected data on idle connection"))
	case errors.As(err, &netErr) && netErr.Timeout():
		return nil
	default:
		return c.probeError(err)
	}
}

func (c *Conn) probeError(err error) error {
	return &NetworkError{
		Op:      "probe",
		Network: c.conn.RemoteAddr().Network(),
		Address: c.conn.RemoteAddr().String(),
		Err:     err,
	}
}

func (c *Conn) Close(ctx context.Context) error {
	return c.conn.Close()
}
