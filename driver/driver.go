// Package driver defines the contract between the pool and a database client
// library: dial a physical connection, probe it with a cheap round trip, and
// close it. Adapters for concrete client libraries live in subpackages and
// register themselves by name.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Conn is a physical connection owned by the pool.
type Conn interface {
	// Probe issues a trivial request (for example "SELECT 1") and reports
	// whether the round trip succeeded.
	Probe(ctx context.Context, command string) error
	// Close tears the physical connection down.
	Close(ctx context.Context) error
}

// Driver dials new physical connections to a fixed target.
type Driver interface {
	Dial(ctx context.Context) (Conn, error)
}

// ProbeValidator is implemented by drivers that can check a probe command
// before the pool starts using it.
type ProbeValidator interface {
	ValidateProbeCommand(command string) error
}

// DialFunc adapts a function to the Driver interface.
type DialFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f DialFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// Factory builds a Driver for a data source name.
type Factory func(dsn string) (Driver, error)

// ErrUnknownDriver is returned by Open for names nobody registered.
var ErrUnknownDriver = errors.New("unknown driver")

var factories = struct {
	sync.RWMutex
	m map[string]Factory
}{m: make(map[string]Factory)}

// Register makes a driver factory available by the provided name.
// If Register is called twice with the same name or if factory is nil,
// it panics.
func Register(name string, factory Factory) {
	if factory == nil {
		panic("driver: Register factory is nil")
	}

	factories.Lock()
	defer factories.Unlock()
	if _, dup := factories.m[name]; dup {
		panic("driver: Register called twice for driver " + name)
	}
	factories.m[name] = factory
}

// Open returns the Driver registered under name, configured for dsn.
func Open(name, dsn string) (Driver, error) {
	factories.RLock()
	factory, ok := factories.m[name]
	factories.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (forgotten import?)", ErrUnknownDriver, name)
	}
	return factory(dsn)
}

// Drivers returns a sorted list of the names of the registered drivers.
func Drivers() []string {
	factories.RLock()
	defer factories.RUnlock()
	list := make([]string, 0, len(factories.m))
	for name := range factories.m {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}
