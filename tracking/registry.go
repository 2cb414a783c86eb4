// Package tracking records which pooled connections are checked out, when,
// and from where, so leaked connections can be reported and force-closed.
package tracking

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handle is a checked-out connection as seen by the registry.
type Handle interface {
	ID() string
	IsClosed() bool
	Close() error
}

// Registry maps live handles to their checkout metadata. A disabled registry
// ignores Track and Untrack entirely.
type Registry struct {
	enabled bool
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[Handle]*trackedConn

	tracked   uint64
	untracked uint64
}

// NewRegistry creates a registry. logger may be nil.
func NewRegistry(enabled bool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		enabled: enabled,
		logger:  logger,
		now:     time.Now,
		entries: make(map[Handle]*trackedConn),
	}
}

// Enabled reports whether the registry records checkouts.
func (r *Registry) Enabled() bool {
	return r != nil && r.enabled
}

// Track records h as checked out now, capturing the caller's stack.
func (r *Registry) Track(h Handle) {
	if !r.Enabled() || h == nil {
		return
	}
	tc := newTrackedConn(uuid.NewString(), h, r.now(), captureStack())

	r.mu.Lock()
	r.entries[h] = tc
	r.mu.Unlock()
	atomic.AddUint64(&r.tracked, 1)
}

// Untrack forgets h. Unknown handles are ignored.
func (r *Registry) Untrack(h Handle) {
	if !r.Enabled() || h == nil {
		return
	}
	r.mu.Lock()
	_, ok := r.entries[h]
	delete(r.entries, h)
	r.mu.Unlock()
	if ok {
		atomic.AddUint64(&r.untracked, 1)
	}
}

// Len returns the number of tracked handles.
func (r *Registry) Len() int {
	if !r.Enabled() {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Metrics returns lifetime track/untrack counts.
func (r *Registry) Metrics() Metrics {
	return Metrics{
		Tracked:   atomic.LoadUint64(&r.tracked),
		Untracked: atomic.LoadUint64(&r.untracked),
		Active:    r.Len(),
	}
}

// Snapshot returns one Info per tracked handle, oldest checkout first.
func (r *Registry) Snapshot() []Info {
	if !r.Enabled() {
		return nil
	}
	now := r.now()

	r.mu.Lock()
	conns := make([]*trackedConn, 0, len(r.entries))
	for _, tc := range r.entries {
		conns = append(conns, tc)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(conns))
	for _, tc := range conns {
		infos = append(infos, tc.info(now))
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CheckedOutAt.Before(infos[j].CheckedOutAt)
	})
	return infos
}

// Dump writes a human readable report of every tracked handle.
func (r *Registry) Dump(w io.Writer) error {
	if !r.Enabled() {
		_, err := fmt.Fprintln(w, "Connection tracking disabled for this pool.")
		return err
	}

	infos := r.Snapshot()
	if _, err := fmt.Fprintf(w, "Total tracked connections: %d\n", len(infos)); err != nil {
		return err
	}
	for _, info := range infos {
		_, err := fmt.Fprintf(w, "---------\nconn: %s\nduration: %dms\nisClosed: %t\n%s\n",
			info.ConnID, info.Age.Milliseconds(), info.Closed, info.Stack)
		if err != nil {
			return err
		}
	}
	return nil
}

// CloseAll closes every tracked handle. Each close is attempted regardless of
// earlier failures; the result list carries one entry per handle.
func (r *Registry) CloseAll() []CloseResult {
	if !r.Enabled() {
		return nil
	}

	r.mu.Lock()
	handles := make([]Handle, 0, len(r.entries))
	for h := range r.entries {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	results := make([]CloseResult, 0, len(handles))
	for _, h := range handles {
		res := closeHandle(h)
		if res.Err != nil {
			r.logger.Error("failed to close tracked connection",
				"conn_id", res.ConnID, "was_closed", res.WasClosed, "error", res.Err)
		} else {
			r.logger.Warn("closed tracked connection",
				"conn_id", res.ConnID, "was_closed", res.WasClosed)
		}
		results = append(results, res)
	}
	return results
}

func closeHandle(h Handle) (res CloseResult) {
	res.ConnID = h.ID()
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("panic while closing: %v", p)
		}
	}()
	res.WasClosed = h.IsClosed()
	res.Err = h.Close()
	return res
}
