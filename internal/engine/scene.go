package engine

import (
	"image"
	"slices"
	"strings"
	"time"

	"github.com/smazurov/compositor/internal/events"
	"github.com/smazurov/compositor/internal/input"
	"github.com/smazurov/compositor/internal/render"
	"github.com/smazurov/compositor/internal/settings"
)

// SourceState is a source's lifecycle state.
type SourceState string

// Source states. Stalled is reported alongside the state, not instead of it.
const (
	SourceCreated    SourceState = "created"
	SourceActive     SourceState = "active"
	SourceRestarting SourceState = "restarting"
	SourceRemoved    SourceState = "removed"
	SourceStalled    SourceState = "stalled"
)

var allSourceStates = []string{
	string(SourceCreated), string(SourceActive), string(SourceRestarting), string(SourceStalled),
}

// SceneInfo describes a scene.
type SceneInfo struct {
	ID      string   `json:"id"`
	Active  bool     `json:"active"`
	Sources []string `json:"sources"`
}

// SourceInfo describes a source and its health.
type SourceInfo struct {
	SceneID  string          `json:"sceneId"`
	SourceID string          `json:"sourceId"`
	Settings settings.Source `json:"settings"`
	State    SourceState     `json:"state"`
	Playing  bool            `json:"playing"`
	Stalled  bool            `json:"stalled"`
	Code     string          `json:"code,omitempty"`
	Frames   uint64          `json:"frames"`
	// Ended is set once a non-looping media file has played to its end.
	Ended bool `json:"ended"`
}

type scene struct {
	id      string
	sources []*source
}

func (s *scene) find(id string) (*source, int) {
	for i, src := range s.sources {
		if src.id == id {
			return src, i
		}
	}
	return nil, -1
}

type source struct {
	sceneID string
	id      string
	cfg     settings.Source
	in      input.Input

	state        SourceState
	playing      bool
	stalled      bool
	ended        bool
	lastSeq      uint64
	lastProgress time.Time
	img          image.Image

	// lockedDB is the gain captured when the audio lock was engaged.
	lockedDB  float64
	lastMeter time.Time
}

func (s *source) key() render.SourceKey {
	return render.SourceKey{SceneID: s.sceneID, SourceID: s.id}
}

func (s *source) gainDB() float64 {
	if s.cfg.AudioLock {
		return s.lockedDB
	}
	return s.cfg.Volume
}

func (s *source) info() SourceInfo {
	info := SourceInfo{
		SceneID:  s.sceneID,
		SourceID: s.id,
		Settings: s.cfg,
		State:    s.state,
		Playing:  s.playing,
		Stalled:  s.stalled,
		Frames:   s.lastSeq,
		Ended:    s.ended,
	}
	if s.stalled {
		info.Code = CodeDecodeStalled
	}
	return info
}

func validateID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalidArg("%s id is required", kind)
	}
	if strings.Contains(id, "/") {
		return invalidArg("%s id %q must not contain '/'", kind, id)
	}
	return nil
}

// AddScene creates an empty scene.
func (e *Engine) AddScene(id string) (string, error) {
	if err := validateID("scene", id); err != nil {
		return "", err
	}
	err := e.do(func(rt *runtime) error {
		if _, ok := rt.scenes[id]; ok {
			return alreadyExists("scene", id)
		}
		rt.scenes[id] = &scene{id: id}
		rt.sceneOrder = append(rt.sceneOrder, id)
		rt.logger.Info("Scene added", "scene_id", id)
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// RemoveScene removes a scene with its sources. Outputs bound to the scene
// or any of its sources are removed first. Removing the program scene
// leaves no program scene.
func (e *Engine) RemoveScene(id string) error {
	rt, err := e.runtime()
	if err != nil {
		return err
	}
	if err := e.do(func(rt *runtime) error {
		if _, ok := rt.scenes[id]; !ok {
			return notFound("scene", id)
		}
		return nil
	}); err != nil {
		return err
	}

	rt.removeBoundOutputs(func(b settings.Binding) bool { return b.SceneID == id })

	return e.do(func(rt *runtime) error {
		sc, ok := rt.scenes[id]
		if !ok {
			return notFound("scene", id)
		}
		for _, src := range sc.sources {
			rt.dropSource(src)
		}
		delete(rt.scenes, id)
		rt.sceneOrder = slices.DeleteFunc(rt.sceneOrder, func(s string) bool { return s == id })
		rt.scheduled.removeScene(id)

		if rt.trans != nil && (rt.trans.to == id || rt.trans.from == id) {
			if rt.trans.to == id {
				rt.trans = nil
			} else {
				rt.trans.from = ""
			}
		}
		if rt.active == id {
			rt.active = ""
		}
		rt.syncPlayback()
		rt.logger.Info("Scene removed", "scene_id", id, "sources", len(sc.sources))
		return nil
	})
}

// ListScenes returns scenes in creation order.
func (e *Engine) ListScenes() ([]SceneInfo, error) {
	var out []SceneInfo
	err := e.do(func(rt *runtime) error {
		out = make([]SceneInfo, 0, len(rt.sceneOrder))
		for _, id := range rt.sceneOrder {
			sc := rt.scenes[id]
			info := SceneInfo{ID: id, Active: id == rt.active, Sources: make([]string, 0, len(sc.sources))}
			for _, src := range sc.sources {
				info.Sources = append(info.Sources, src.id)
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

// AddSource opens a source in a scene. Sources fill the canvas and stack in
// the order they were added. A source carrying an Output gets an output with
// id "<scene>/<source>" bound to its own feed.
func (e *Engine) AddSource(sceneID, sourceID string, src settings.Source) (SourceInfo, error) {
	if err := validateID("scene", sceneID); err != nil {
		return SourceInfo{}, err
	}
	if err := validateID("source", sourceID); err != nil {
		return SourceInfo{}, err
	}
	src.Normalize()
	if err := src.Validate(); err != nil {
		return SourceInfo{}, invalidSettings(err)
	}

	var info SourceInfo
	err := e.do(func(rt *runtime) error {
		sc, ok := rt.scenes[sceneID]
		if !ok {
			return notFound("scene", sceneID)
		}
		if s, _ := sc.find(sourceID); s != nil {
			return alreadyExists("source", sceneID+"/"+sourceID)
		}
		in, err := rt.e.opts.Inputs.Open(rt.ctx, src, rt.format)
		if err != nil {
			return invalidSettings(err)
		}
		s := &source{
			sceneID:      sceneID,
			id:           sourceID,
			cfg:          src,
			in:           in,
			state:        SourceCreated,
			playing:      !src.StartOnActive,
			lastProgress: rt.now,
			lockedDB:     src.Volume,
		}
		sc.sources = append(sc.sources, s)
		rt.syncPlayback()
		rt.sourceChanged(s, "")
		info = s.info()
		rt.logger.Info("Source added", "scene_id", sceneID, "source_id", sourceID, "type", src.Type, "url", src.URL)
		return nil
	})
	if err != nil {
		return SourceInfo{}, err
	}

	if src.Output != nil {
		rt, err := e.runtime()
		if err != nil {
			return info, err
		}
		id := sceneID + "/" + sourceID
		o := *src.Output
		o.SceneID, o.SourceID = sceneID, sourceID
		if err := rt.outputs.Add(id, o); err != nil {
			rt.logger.Warn("Failed to add source output", "scene_id", sceneID, "source_id", sourceID, "error", err)
			if rmErr := e.discardSource(sceneID, sourceID); rmErr != nil {
				rt.logger.Warn("Failed to discard source", "scene_id", sceneID, "source_id", sourceID, "error", rmErr)
			}
			return SourceInfo{}, outputError(id, err)
		}
	}
	return info, nil
}

// discardSource takes back a source whose AddSource did not complete.
func (e *Engine) discardSource(sceneID, sourceID string) error {
	return e.do(func(rt *runtime) error {
		s, err := rt.source(sceneID, sourceID)
		if err != nil {
			return err
		}
		sc := rt.scenes[sceneID]
		sc.sources = slices.DeleteFunc(sc.sources, func(x *source) bool { return x == s })
		rt.dropSource(s)
		return nil
	})
}

// GetSource returns a source's settings and state.
func (e *Engine) GetSource(sceneID, sourceID string) (SourceInfo, error) {
	var info SourceInfo
	err := e.do(func(rt *runtime) error {
		s, err := rt.source(sceneID, sourceID)
		if err != nil {
			return err
		}
		info = s.info()
		return nil
	})
	return info, err
}

// ListSources returns the sources of a scene in stacking order.
func (e *Engine) ListSources(sceneID string) ([]SourceInfo, error) {
	var out []SourceInfo
	err := e.do(func(rt *runtime) error {
		sc, ok := rt.scenes[sceneID]
		if !ok {
			return notFound("scene", sceneID)
		}
		out = make([]SourceInfo, 0, len(sc.sources))
		for _, s := range sc.sources {
			out = append(out, s.info())
		}
		return nil
	})
	return out, err
}

// UpdateSource applies the fields present in patch. URL, decoder and
// looping changes re-open the input. While the audio lock is engaged,
// volume changes are stored but the gain captured at lock time stays in
// effect.
func (e *Engine) UpdateSource(sceneID, sourceID string, patch settings.SourcePatch) (SourceInfo, error) {
	if err := patch.Validate(); err != nil {
		return SourceInfo{}, invalidSettings(err)
	}
	var info SourceInfo
	err := e.do(func(rt *runtime) error {
		s, err := rt.source(sceneID, sourceID)
		if err != nil {
			return err
		}
		next := patch.Apply(s.cfg)
		next.Normalize()
		if err := next.Validate(); err != nil {
			return invalidSettings(err)
		}

		if next.AudioLock && !s.cfg.AudioLock {
			s.lockedDB = s.cfg.Volume
		}
		reopen := s.cfg.NeedsReopen(next)
		s.cfg = next
		if reopen {
			if err := rt.reopen(s); err != nil {
				return err
			}
		}
		rt.syncPlayback()
		info = s.info()
		rt.logger.Debug("Source updated", "scene_id", sceneID, "source_id", sourceID, "reopened", reopen)
		return nil
	})
	return info, err
}

// RestartSource re-opens the input behind a source, keeping its identity
// and settings. It is the way to recover a stalled decode.
func (e *Engine) RestartSource(sceneID, sourceID string) error {
	return e.do(func(rt *runtime) error {
		s, err := rt.source(sceneID, sourceID)
		if err != nil {
			return err
		}
		rt.logger.Info("Restarting source", "scene_id", sceneID, "source_id", sourceID)
		if err := rt.reopen(s); err != nil {
			return err
		}
		rt.syncPlayback()
		return nil
	})
}

// RemoveSource closes a source and removes it from its scene, together with
// the outputs bound to it.
func (e *Engine) RemoveSource(sceneID, sourceID string) error {
	rt, err := e.runtime()
	if err != nil {
		return err
	}
	if err := e.do(func(rt *runtime) error {
		_, err := rt.source(sceneID, sourceID)
		return err
	}); err != nil {
		return err
	}

	rt.removeBoundOutputs(func(b settings.Binding) bool {
		return b.SceneID == sceneID && b.SourceID == sourceID
	})

	return e.do(func(rt *runtime) error {
		s, err := rt.source(sceneID, sourceID)
		if err != nil {
			return err
		}
		sc := rt.scenes[sceneID]
		sc.sources = slices.DeleteFunc(sc.sources, func(x *source) bool { return x == s })
		rt.dropSource(s)
		rt.logger.Info("Source removed", "scene_id", sceneID, "source_id", sourceID)
		return nil
	})
}

func (rt *runtime) source(sceneID, sourceID string) (*source, error) {
	sc, ok := rt.scenes[sceneID]
	if !ok {
		return nil, notFound("scene", sceneID)
	}
	s, _ := sc.find(sourceID)
	if s == nil {
		return nil, notFound("source", sceneID+"/"+sourceID)
	}
	return s, nil
}

// reopen swaps the input for a freshly opened one.
func (rt *runtime) reopen(s *source) error {
	in, err := rt.e.opts.Inputs.Open(rt.ctx, s.cfg, rt.format)
	if err != nil {
		return invalidSettings(err)
	}
	rt.closeLater(s.in, s.key().String())
	s.in = in
	s.state = SourceRestarting
	s.stalled = false
	s.ended = false
	s.lastSeq = 0
	s.lastProgress = rt.now
	s.playing = !s.cfg.StartOnActive
	rt.sourceChanged(s, "")
	return nil
}

// dropSource closes a source that is being removed and fails captures
// waiting on it.
func (rt *runtime) dropSource(s *source) {
	rt.closeLater(s.in, s.key().String())
	s.state = SourceRemoved
	rt.cancelCaptures(notFound("source", s.key().String()), func(k render.SourceKey) bool { return k == s.key() })
	rt.e.opts.Metrics.SetSourceState(s.sceneID, s.id, "", allSourceStates)
	rt.publishSource(s, "")
}

// removeBoundOutputs removes matching outputs. It must not run on the
// compositor goroutine since stopping a worker waits for its sink.
func (rt *runtime) removeBoundOutputs(match func(settings.Binding) bool) {
	for _, id := range rt.outputs.BoundTo(match) {
		if err := rt.outputs.Remove(id); err != nil {
			rt.logger.Warn("Failed to remove bound output", "output_id", id, "error", err)
		}
	}
}

// syncPlayback plays start-on-active sources whose scene is on the program
// or being transitioned to, and pauses the rest.
func (rt *runtime) syncPlayback() {
	target := ""
	if rt.trans != nil {
		target = rt.trans.to
	}
	for _, id := range rt.sceneOrder {
		live := id == rt.active || id == target
		for _, s := range rt.scenes[id].sources {
			if !s.cfg.StartOnActive {
				if !s.playing {
					s.in.Play()
					s.playing = true
				}
				continue
			}
			switch {
			case live && !s.playing:
				s.in.Play()
				s.playing = true
				s.lastProgress = rt.now
			case !live && s.playing:
				s.in.Pause()
				s.playing = false
			}
		}
	}
}

// pullSources takes the latest picture of every source and tracks decode
// progress.
func (rt *runtime) pullSources(now time.Time) {
	timeout := rt.settings.StallTimeout()
	for _, id := range rt.sceneOrder {
		for _, s := range rt.scenes[id].sources {
			img, seq := s.in.Frame()
			if img != nil {
				s.img = img
			}
			if seq != s.lastSeq {
				s.lastSeq = seq
				s.lastProgress = now
				if s.state != SourceActive && img != nil {
					s.state = SourceActive
					rt.sourceChanged(s, "")
				}
				if s.stalled {
					s.stalled = false
					rt.logger.Info("Source recovered", "scene_id", s.sceneID, "source_id", s.id)
					rt.sourceChanged(s, "")
				}
				continue
			}
			ended := s.in.Ended()
			if ended != s.ended {
				s.ended = ended
				if ended {
					rt.logger.Info("Source media ended", "scene_id", s.sceneID, "source_id", s.id)
					rt.publishSource(s, "media ended")
				}
			}
			// A finished file is idle, not stalled.
			if !s.playing || ended {
				s.lastProgress = now
				continue
			}
			if timeout > 0 && !s.stalled && now.Sub(s.lastProgress) >= timeout {
				s.stalled = true
				rt.logger.Warn("Source decode stalled", "scene_id", s.sceneID, "source_id", s.id, "since", s.lastProgress)
				rt.sourceChanged(s, "no frame for "+timeout.String())
			}
		}
	}
}

func (rt *runtime) sourceChanged(s *source, msg string) {
	state := s.state
	if s.stalled {
		state = SourceStalled
	}
	rt.e.opts.Metrics.SetSourceState(s.sceneID, s.id, string(state), allSourceStates)
	rt.publishSource(s, msg)
}

func (rt *runtime) publishSource(s *source, msg string) {
	ev := events.SourceStateChangedEvent{
		SceneID:   s.sceneID,
		SourceID:  s.id,
		State:     string(s.state),
		Message:   msg,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if s.stalled {
		ev.State = string(SourceStalled)
		ev.Code = CodeDecodeStalled
	}
	rt.e.opts.Bus.Publish(ev)
}

// sceneExists is used by commands validating references.
func (rt *runtime) sceneExists(id string) bool {
	_, ok := rt.scenes[id]
	return ok
}
