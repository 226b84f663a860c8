package output

import (
	"sync/atomic"
	"time"

	"github.com/smazurov/compositor/internal/settings"
)

// Status is the publishing state of an output.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusLive       Status = "live"
	StatusDegraded   Status = "degraded"
	StatusStopped    Status = "stopped"
)

// AllStatuses lists every status.
var AllStatuses = []string{
	string(StatusIdle), string(StatusConnecting), string(StatusLive),
	string(StatusDegraded), string(StatusStopped),
}

// CodeConnectionDegraded is reported while an output cannot publish.
const CodeConnectionDegraded = "CONNECTION_DEGRADED"

// Info is a snapshot of an output.
type Info struct {
	ID       string          `json:"id"`
	Settings settings.Output `json:"settings"`
	// Requested is the latest requested configuration; it differs from
	// Settings while an update waits for a keyframe.
	Requested settings.Output `json:"requested"`
	Pending   bool            `json:"pending"`
	Status    Status          `json:"status"`
	Code      string          `json:"code,omitempty"`
	Error     string          `json:"error,omitempty"`
	Since     time.Time       `json:"since"`

	FramesSent    uint64 `json:"framesSent"`
	FramesDropped uint64 `json:"framesDropped"`
	Keyframes     uint64 `json:"keyframes"`
	Reconnects    uint64 `json:"reconnects"`
}

type statusSnapshot struct {
	status   Status
	code     string
	err      string
	since    time.Time
	settings settings.Output
	pending  bool
}

// statusCell is written by the worker and read from any goroutine.
type statusCell struct {
	snap atomic.Pointer[statusSnapshot]

	sent       atomic.Uint64
	dropped    atomic.Uint64
	keyframes  atomic.Uint64
	reconnects atomic.Uint64
}

func (c *statusCell) load() statusSnapshot {
	if s := c.snap.Load(); s != nil {
		return *s
	}
	return statusSnapshot{status: StatusIdle}
}

func (c *statusCell) store(s statusSnapshot) {
	c.snap.Store(&s)
}

func (c *statusCell) info(id string) Info {
	s := c.load()
	return Info{
		ID:            id,
		Settings:      s.settings,
		Pending:       s.pending,
		Status:        s.status,
		Code:          s.code,
		Error:         s.err,
		Since:         s.since,
		FramesSent:    c.sent.Load(),
		FramesDropped: c.dropped.Load(),
		Keyframes:     c.keyframes.Load(),
		Reconnects:    c.reconnects.Load(),
	}
}
