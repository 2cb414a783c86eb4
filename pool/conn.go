package pool

import (
	"container/list"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/guileen/connpool/driver"
)

// pooledConn is one capacity slot. Its identity survives reconnects; the
// physical connection inside it may be replaced. Fields other than idleElem
// belong to whoever currently owns the slot (the idle set, a caller, the
// prober) and need no locking.
type pooledConn struct {
	id        string
	createdAt time.Time

	phys        driver.Conn
	physID      string
	connectedAt time.Time
	lastUsedAt  time.Time

	// guarded by Pool.mu
	idleElem *list.Element
}

func newPooledConn(phys driver.Conn, physID string, now time.Time) *pooledConn {
	return &pooledConn{
		id:          uuid.NewString(),
		createdAt:   now,
		phys:        phys,
		physID:      physID,
		connectedAt: now,
		lastUsedAt:  now,
	}
}

// physicalID returns the driver's own identity for c when it has one.
func physicalID(c driver.Conn) string {
	if ider, ok := c.(interface{ ID() string }); ok {
		if id := ider.ID(); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// Conn is a checked-out connection. A fresh Conn is issued on every
// checkout, so a stale Conn from an earlier checkout can never release the
// slot a second time. Once released, Raw returns ErrConnClosed.
type Conn struct {
	pool         *Pool
	pc           *pooledConn
	phys         driver.Conn
	physID       string
	checkedOutAt time.Time
	released     atomic.Bool
}

// ID returns the pooled slot identity. It is stable across reconnects.
func (c *Conn) ID() string { return c.pc.id }

// PhysicalID identifies the underlying driver connection.
func (c *Conn) PhysicalID() string { return c.physID }

// CheckedOutAt returns when this handle was issued.
func (c *Conn) CheckedOutAt() time.Time { return c.checkedOutAt }

// Raw returns the driver connection.
func (c *Conn) Raw() (driver.Conn, error) {
	if c.released.Load() {
		return nil, ErrConnClosed
	}
	return c.phys, nil
}

// IsClosed reports whether the handle has been released or discarded.
func (c *Conn) IsClosed() bool {
	return c.released.Load()
}

// Close returns the connection to the pool. Closing twice is a no-op.
func (c *Conn) Close() error {
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}
	c.pool.put(c)
	return nil
}

// Discard closes the physical connection instead of returning it, for
// callers that know the session is broken.
func (c *Conn) Discard() error {
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}
	c.pool.tracker.Untrack(c)
	return c.pool.destroy(c.pc, "discarded by caller")
}
