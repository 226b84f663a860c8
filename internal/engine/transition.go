package engine

import (
	"container/heap"
	"image"
	"time"

	"github.com/smazurov/compositor/internal/events"
	"github.com/smazurov/compositor/internal/render"
	"github.com/smazurov/compositor/internal/settings"
)

// MaxScheduleAhead bounds how far in the future a switch may be scheduled.
const MaxScheduleAhead = 2 * time.Second

// ProgramInfo describes what is on the program.
type ProgramInfo struct {
	// Active is the last fully active scene. It stays the same for the
	// duration of a transition.
	Active     string                  `json:"active"`
	Target     string                  `json:"target,omitempty"`
	Transition settings.TransitionKind `json:"transition,omitempty"`
	Progress   float64                 `json:"progress,omitempty"`
	Scheduled  int                     `json:"scheduled"`
}

type transition struct {
	from  string
	to    string
	kind  settings.TransitionKind
	start time.Time
	dur   time.Duration
}

func (t *transition) progress(now time.Time) float64 {
	if t.dur <= 0 {
		return 1
	}
	p := float64(now.Sub(t.start)) / float64(t.dur)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// blend places the outgoing and incoming scene layers for progress p.
func (t *transition) blend(from, to []render.Layer, p float64, w int) []render.Layer {
	out := make([]render.Layer, 0, len(from)+len(to))
	switch t.kind {
	case settings.TransitionFade:
		out = append(out, from...)
		out = append(out, shift(to, 0, p)...)
	case settings.TransitionSwipe:
		out = append(out, from...)
		out = append(out, shift(to, offset(w, 1-p), 1)...)
	case settings.TransitionSlide:
		out = append(out, shift(from, -offset(w, p), 1)...)
		out = append(out, shift(to, offset(w, 1-p), 1)...)
	default:
		out = append(out, to...)
	}
	return out
}

func offset(w int, f float64) int {
	return int(float64(w)*f + 0.5)
}

func shift(layers []render.Layer, dx int, opacity float64) []render.Layer {
	out := make([]render.Layer, len(layers))
	for i, l := range layers {
		l.Rect = l.Rect.Add(image.Pt(dx, 0))
		l.Opacity *= opacity
		out[i] = l
	}
	return out
}

// SwitchToScene makes id the program scene. A cut, or any transition with a
// zero duration, completes before the call returns; otherwise the call
// returns once the transition has started. A switch issued while another
// transition is running abandons it and blends from the last fully active
// scene. Pending scheduled switches are dropped.
func (e *Engine) SwitchToScene(id string, kind settings.TransitionKind, durationMs int) error {
	if err := validateSwitch(kind, durationMs); err != nil {
		return err
	}
	return e.do(func(rt *runtime) error {
		if !rt.sceneExists(id) {
			return notFound("scene", id)
		}
		rt.scheduled.clear()
		rt.switchTo(id, kind, durationMs)
		return nil
	})
}

// ScheduleSwitch switches to id at the given time, at most MaxScheduleAhead
// from now. A time in the past switches immediately. Scheduling a switch
// drops the ones pending at or after its time.
func (e *Engine) ScheduleSwitch(id string, kind settings.TransitionKind, durationMs int, at time.Time) error {
	if err := validateSwitch(kind, durationMs); err != nil {
		return err
	}
	return e.do(func(rt *runtime) error {
		if !rt.sceneExists(id) {
			return notFound("scene", id)
		}
		now := rt.e.opts.Clock.Now()
		if limit := now.Add(MaxScheduleAhead); at.After(limit) {
			at = limit
		}
		if !at.After(now) {
			rt.scheduled.clear()
			rt.switchTo(id, kind, durationMs)
			return nil
		}
		rt.scheduled.cancelFrom(at)
		heap.Push(&rt.scheduled, scheduledSwitch{at: at, scene: id, kind: kind, durationMs: durationMs})
		rt.logger.Debug("Switch scheduled", "scene_id", id, "at", at)
		return nil
	})
}

// ActiveScene returns the last fully active scene, or "" when none.
func (e *Engine) ActiveScene() (string, error) {
	var id string
	err := e.do(func(rt *runtime) error {
		id = rt.active
		return nil
	})
	return id, err
}

// Program returns the program state including any running transition.
func (e *Engine) Program() (ProgramInfo, error) {
	var info ProgramInfo
	err := e.do(func(rt *runtime) error {
		info = ProgramInfo{Active: rt.active, Scheduled: rt.scheduled.Len()}
		if t := rt.trans; t != nil {
			info.Target = t.to
			info.Transition = t.kind
			info.Progress = t.progress(rt.now)
		}
		return nil
	})
	return info, err
}

func validateSwitch(kind settings.TransitionKind, durationMs int) error {
	if _, err := settings.ParseTransition(string(kind)); err != nil {
		return invalidSettings(err)
	}
	if err := settings.ValidateDuration(durationMs); err != nil {
		return invalidSettings(err)
	}
	return nil
}

func (rt *runtime) switchTo(id string, kind settings.TransitionKind, durationMs int) {
	kind, _ = settings.ParseTransition(string(kind))
	if kind == settings.TransitionCut || durationMs == 0 {
		prev := rt.active
		rt.trans = nil
		rt.active = id
		rt.syncPlayback()
		rt.logger.Info("Scene switched", "scene_id", id, "previous", prev)
		rt.e.opts.Bus.Publish(events.SceneSwitchedEvent{
			SceneID:    id,
			PreviousID: prev,
			Transition: string(kind),
			Timestamp:  time.Now().Format(time.RFC3339),
		})
		return
	}

	rt.trans = &transition{
		from:  rt.active,
		to:    id,
		kind:  kind,
		start: rt.e.opts.Clock.Now(),
		dur:   time.Duration(durationMs) * time.Millisecond,
	}
	rt.syncPlayback()
	rt.logger.Info("Transition started", "from", rt.active, "to", id, "kind", kind, "duration_ms", durationMs)
	rt.e.opts.Bus.Publish(events.TransitionStartedEvent{
		FromID:     rt.active,
		ToID:       id,
		Transition: string(kind),
		DurationMs: durationMs,
		Timestamp:  time.Now().Format(time.RFC3339),
	})
}

// advanceTransition completes the running transition once its time is up.
// It returns the progress to render this tick.
func (rt *runtime) advanceTransition(now time.Time) float64 {
	t := rt.trans
	if t == nil {
		return 1
	}
	p := t.progress(now)
	if p < 1 {
		return p
	}
	rt.trans = nil
	rt.active = t.to
	rt.syncPlayback()
	rt.logger.Info("Scene switched", "scene_id", t.to, "previous", t.from, "transition", t.kind)
	rt.e.opts.Bus.Publish(events.SceneSwitchedEvent{
		SceneID:    t.to,
		PreviousID: t.from,
		Transition: string(t.kind),
		Timestamp:  time.Now().Format(time.RFC3339),
	})
	return 1
}

// runScheduled performs due scheduled switches in time order.
func (rt *runtime) runScheduled(now time.Time) {
	for rt.scheduled.Len() > 0 && !rt.scheduled[0].at.After(now) {
		s := heap.Pop(&rt.scheduled).(scheduledSwitch)
		if rt.sceneExists(s.scene) {
			rt.switchTo(s.scene, s.kind, s.durationMs)
		}
	}
}

type scheduledSwitch struct {
	at         time.Time
	scene      string
	kind       settings.TransitionKind
	durationMs int
}

// switchQueue is a min-heap of scheduled switches ordered by time.
type switchQueue []scheduledSwitch

func (q switchQueue) Len() int           { return len(q) }
func (q switchQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q switchQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *switchQueue) Push(x any) { *q = append(*q, x.(scheduledSwitch)) }

func (q *switchQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

func (q *switchQueue) clear() { *q = (*q)[:0] }

func (q *switchQueue) cancelFrom(at time.Time) {
	q.filter(func(s scheduledSwitch) bool { return s.at.Before(at) })
}

func (q *switchQueue) removeScene(id string) {
	q.filter(func(s scheduledSwitch) bool { return s.scene != id })
}

func (q *switchQueue) filter(keep func(scheduledSwitch) bool) {
	kept := (*q)[:0]
	for _, s := range *q {
		if keep(s) {
			kept = append(kept, s)
		}
	}
	*q = kept
	heap.Init(q)
}
