package tracking

import (
	"encoding/json"
	"time"
)

// trackedConn is the registry's side-table entry for one checkout.
type trackedConn struct {
	id           string
	handle       Handle
	checkedOutAt time.Time
	stack        string
}

func newTrackedConn(id string, h Handle, at time.Time, stack string) *trackedConn {
	return &trackedConn{
		id:           id,
		handle:       h,
		checkedOutAt: at,
		stack:        stack,
	}
}

func (tc *trackedConn) info(now time.Time) Info {
	return Info{
		ID:           tc.id,
		ConnID:       tc.handle.ID(),
		CheckedOutAt: tc.checkedOutAt,
		Age:          now.Sub(tc.checkedOutAt),
		Closed:       tc.handle.IsClosed(),
		Stack:        tc.stack,
	}
}

// Info describes a checked-out connection.
type Info struct {
	ID           string        `json:"id"`
	ConnID       string        `json:"conn_id"`
	CheckedOutAt time.Time     `json:"checked_out_at"`
	Age          time.Duration `json:"age"`
	Closed       bool          `json:"closed"`
	Stack        string        `json:"stack"`
}

// CloseResult is the outcome of closing one tracked connection.
type CloseResult struct {
	ConnID    string
	WasClosed bool
	Err       error
}

// MarshalJSON renders Err as a string.
func (r CloseResult) MarshalJSON() ([]byte, error) {
	out := struct {
		ConnID    string `json:"conn_id"`
		WasClosed bool   `json:"was_closed"`
		Error     string `json:"error,omitempty"`
	}{ConnID: r.ConnID, WasClosed: r.WasClosed}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Metrics are lifetime registry counters.
type Metrics struct {
	Tracked   uint64 `json:"tracked"`
	Untracked uint64 `json:"untracked"`
	Active    int    `json:"active"`
}
