package process

import "time"

// State is the lifecycle state of a Process.
type State string

// Process states.
const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// Info describes a Process.
type Info struct {
	ID        string
	State     State
	PID       int
	StartedAt time.Time
	LastError error
}
