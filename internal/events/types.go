package events

// Event type identifiers for kelindar/event.
const (
	TypeEngineState uint32 = iota + 1
	TypeSceneSwitched
	TypeTransitionStarted
	TypeSourceStateChanged
	TypeOutputStatusChanged
	TypeOverlayChanged
	TypeDisplayChanged
	TypeVolmeter
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// EngineStateEvent is published after startup and shutdown.
type EngineStateEvent struct {
	State     string `json:"state" example:"started" doc:"started or stopped"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for EngineStateEvent.
func (e EngineStateEvent) Type() uint32 { return TypeEngineState }

// SceneSwitchedEvent is published when a scene becomes fully active.
type SceneSwitchedEvent struct {
	SceneID    string `json:"scene_id" example:"s1" doc:"New program scene"`
	PreviousID string `json:"previous_id,omitempty" example:"s0" doc:"Previous program scene"`
	Transition string `json:"transition" example:"fade" doc:"Transition kind"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SceneSwitchedEvent.
func (e SceneSwitchedEvent) Type() uint32 { return TypeSceneSwitched }

// TransitionStartedEvent is published when a blended switch begins.
type TransitionStartedEvent struct {
	FromID     string `json:"from_id,omitempty" example:"s0" doc:"Scene blended out"`
	ToID       string `json:"to_id" example:"s1" doc:"Scene blended in"`
	Transition string `json:"transition" example:"fade" doc:"Transition kind"`
	DurationMs int    `json:"duration_ms" example:"500" doc:"Transition duration"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for TransitionStartedEvent.
func (e TransitionStartedEvent) Type() uint32 { return TypeTransitionStarted }

// SourceStateChangedEvent reports source lifecycle and health changes.
type SourceStateChangedEvent struct {
	SceneID   string `json:"scene_id" example:"s1" doc:"Scene identifier"`
	SourceID  string `json:"source_id" example:"cam1" doc:"Source identifier"`
	State     string `json:"state" example:"active" doc:"created, active, restarting, stalled or removed"`
	Code      string `json:"code,omitempty" example:"DECODE_STALLED" doc:"Error code when degraded"`
	Message   string `json:"message,omitempty" doc:"Detail"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SourceStateChangedEvent.
func (e SourceStateChangedEvent) Type() uint32 { return TypeSourceStateChanged }

// OutputStatusChangedEvent reports publish status transitions.
type OutputStatusChangedEvent struct {
	OutputID  string `json:"output_id" example:"out1" doc:"Output identifier"`
	Status    string `json:"status" example:"degraded" doc:"idle, connecting, live, degraded or stopped"`
	Previous  string `json:"previous" example:"live" doc:"Previous status"`
	Code      string `json:"code,omitempty" example:"CONNECTION_DEGRADED" doc:"Error code when degraded"`
	Error     string `json:"error,omitempty" doc:"Last error"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for OutputStatusChangedEvent.
func (e OutputStatusChangedEvent) Type() uint32 { return TypeOutputStatusChanged }

// OverlayChangedEvent reports overlay add, remove, up and down.
type OverlayChangedEvent struct {
	OverlayID string `json:"overlay_id" example:"lower-third" doc:"Overlay identifier"`
	Action    string `json:"action" example:"up" doc:"added, removed, up or down"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for OverlayChangedEvent.
func (e OverlayChangedEvent) Type() uint32 { return TypeOverlayChanged }

// DisplayChangedEvent reports display lifecycle.
type DisplayChangedEvent struct {
	Name      string `json:"name" example:"preview" doc:"Display name"`
	Handle    string `json:"handle" doc:"Display handle"`
	Action    string `json:"action" example:"moved" doc:"created, moved, updated or destroyed"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DisplayChangedEvent.
func (e DisplayChangedEvent) Type() uint32 { return TypeDisplayChanged }

// VolmeterEvent carries one meter sample. Levels are dBFS per channel.
type VolmeterEvent struct {
	SceneID   string    `json:"scene_id" example:"s1" doc:"Scene identifier"`
	SourceID  string    `json:"source_id" example:"cam1" doc:"Source identifier"`
	Channels  int       `json:"channels" example:"2" doc:"Channel count"`
	Magnitude []float64 `json:"magnitude" doc:"RMS level after the fader"`
	Peak      []float64 `json:"peak" doc:"Peak level after the fader"`
	InputPeak []float64 `json:"input_peak" doc:"Peak level before the fader"`
}

// Type returns the event type identifier for VolmeterEvent.
func (e VolmeterEvent) Type() uint32 { return TypeVolmeter }

// LogEntryEvent forwards a log record.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" doc:"Sequence number"`
	Timestamp  string         `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"output" doc:"Module"`
	Message    string         `json:"message" doc:"Message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
