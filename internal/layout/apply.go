package layout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/smazurov/compositor/internal/engine"
	"github.com/smazurov/compositor/internal/output"
	"github.com/smazurov/compositor/internal/settings"
)

// Engine is the part of the engine a layout is applied to.
type Engine interface {
	GetAudio() (settings.Mix, error)
	UpdateAudio(settings.MixPatch) (settings.Mix, error)

	ListScenes() ([]engine.SceneInfo, error)
	AddScene(id string) (string, error)
	RemoveScene(id string) error
	ActiveScene() (string, error)
	SwitchToScene(id string, kind settings.TransitionKind, durationMs int) error

	ListSources(sceneID string) ([]engine.SourceInfo, error)
	AddSource(sceneID, sourceID string, src settings.Source) (engine.SourceInfo, error)
	UpdateSource(sceneID, sourceID string, patch settings.SourcePatch) (engine.SourceInfo, error)
	RemoveSource(sceneID, sourceID string) error

	ListOutputs() ([]output.Info, error)
	AddOutput(id string, o settings.Output) error
	UpdateOutput(id string, o settings.Output) error
	RemoveOutput(id string) error

	GetOverlays() ([]engine.OverlayInfo, error)
	AddOverlay(ctx context.Context, ov settings.Overlay) error
	RemoveOverlay(id string) error
	UpOverlay(id string) error
	DownOverlay(id string) error
}

var _ Engine = (*engine.Engine)(nil)

// Apply reconciles the engine with l: missing entries are added, changed
// ones updated and absent ones removed. It carries on past failures and
// returns them together. The active scene is switched last.
func Apply(ctx context.Context, e Engine, l Layout, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	l.Normalize()
	if err := l.Validate(); err != nil {
		return err
	}
	var result *multierror.Error
	fail := func(what string, err error) {
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", what, err))
		}
	}

	mode, vol := l.Audio.Mode, l.Audio.MasterVolume
	_, err := e.UpdateAudio(settings.MixPatch{MasterVolume: &vol, Mode: &mode})
	fail("audio", err)

	applyOutputsRemoval(e, l, fail)
	applyScenes(e, l, logger, fail)
	applyOutputs(e, l, fail)
	applyOverlays(ctx, e, l, fail)

	if l.Active != "" {
		active, err := e.ActiveScene()
		fail("active scene", err)
		if err == nil && active != l.Active {
			kind, _ := settings.ParseTransition(l.Transition)
			fail("switch to "+l.Active, e.SwitchToScene(l.Active, kind, l.TransitionMs))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		logger.Warn("Layout applied with errors", "error", err)
		return err
	}
	logger.Info("Layout applied", "scenes", len(l.Scenes), "outputs", len(l.Outputs), "overlays", len(l.Overlays))
	return nil
}

// sourceOutputID is the id the engine gives outputs attached to sources.
func sourceOutputID(id string) bool {
	return strings.Contains(id, "/")
}

func applyOutputsRemoval(e Engine, l Layout, fail func(string, error)) {
	current, err := e.ListOutputs()
	if err != nil {
		fail("outputs", err)
		return
	}
	for _, info := range current {
		if sourceOutputID(info.ID) {
			continue
		}
		if _, keep := l.Outputs[info.ID]; !keep {
			fail("remove output "+info.ID, ignoreNotFound(e.RemoveOutput(info.ID)))
		}
	}
}

func applyScenes(e Engine, l Layout, logger *slog.Logger, fail func(string, error)) {
	current, err := e.ListScenes()
	if err != nil {
		fail("scenes", err)
		return
	}
	existing := make(map[string]bool, len(current))
	for _, sc := range current {
		existing[sc.ID] = true
		if _, keep := l.Scene(sc.ID); !keep {
			fail("remove scene "+sc.ID, ignoreNotFound(e.RemoveScene(sc.ID)))
		}
	}

	for _, sc := range l.Scenes {
		if !existing[sc.ID] {
			if _, err := e.AddScene(sc.ID); err != nil {
				fail("add scene "+sc.ID, err)
				continue
			}
		}
		applySources(e, sc, logger, fail)
	}
}

func applySources(e Engine, sc Scene, logger *slog.Logger, fail func(string, error)) {
	current, err := e.ListSources(sc.ID)
	if err != nil {
		fail("sources of "+sc.ID, err)
		return
	}
	have := make(map[string]settings.Source, len(current))
	for _, info := range current {
		have[info.SourceID] = info.Settings
	}
	want := make(map[string]bool, len(sc.Sources))
	for _, src := range sc.Sources {
		want[src.ID] = true
	}

	for _, info := range current {
		if !want[info.SourceID] {
			fail("remove source "+sc.ID+"/"+info.SourceID, ignoreNotFound(e.RemoveSource(sc.ID, info.SourceID)))
		}
	}

	for _, src := range sc.Sources {
		key := sc.ID + "/" + src.ID
		cur, ok := have[src.ID]
		switch {
		case !ok:
			_, err := e.AddSource(sc.ID, src.ID, src.Source)
			fail("add source "+key, err)
		case !patchable(cur, src.Source):
			logger.Debug("Re-creating source", "source", key)
			if err := e.RemoveSource(sc.ID, src.ID); err != nil {
				fail("replace source "+key, err)
				continue
			}
			_, err := e.AddSource(sc.ID, src.ID, src.Source)
			fail("replace source "+key, err)
		case cur != src.Source:
			_, err := e.UpdateSource(sc.ID, src.ID, fullPatch(src.Source))
			fail("update source "+key, err)
		}
	}
}

// patchable reports whether cur can become next through UpdateSource.
func patchable(cur, next settings.Source) bool {
	if cur.Type != next.Type || cur.IsFile != next.IsFile || cur.BufferMB != next.BufferMB {
		return false
	}
	switch {
	case cur.Output == nil && next.Output == nil:
		return true
	case cur.Output == nil || next.Output == nil:
		return false
	}
	a, b := *cur.Output, *next.Output
	a.SceneID, a.SourceID = "", ""
	b.SceneID, b.SourceID = "", ""
	return a == b
}

func fullPatch(s settings.Source) settings.SourcePatch {
	return settings.SourcePatch{
		URL:             &s.URL,
		HardwareDecoder: &s.HardwareDecoder,
		StartOnActive:   &s.StartOnActive,
		Looping:         &s.Looping,
		Volume:          &s.Volume,
		AudioLock:       &s.AudioLock,
		AudioMonitor:    &s.AudioMonitor,
	}
}

func applyOutputs(e Engine, l Layout, fail func(string, error)) {
	current, err := e.ListOutputs()
	if err != nil {
		fail("outputs", err)
		return
	}
	existing := make(map[string]bool, len(current))
	for _, info := range current {
		existing[info.ID] = true
	}
	for _, id := range sortedIDs(l.Outputs) {
		o := l.Outputs[id]
		if existing[id] {
			fail("update output "+id, e.UpdateOutput(id, o))
		} else {
			fail("add output "+id, e.AddOutput(id, o))
		}
	}
}

func applyOverlays(ctx context.Context, e Engine, l Layout, fail func(string, error)) {
	current, err := e.GetOverlays()
	if err != nil {
		fail("overlays", err)
		return
	}
	have := make(map[string]engine.OverlayInfo, len(current))
	want := make(map[string]bool, len(l.Overlays))
	for _, ov := range l.Overlays {
		want[ov.ID] = true
	}
	for _, info := range current {
		if !want[info.ID] {
			fail("remove overlay "+info.ID, ignoreNotFound(e.RemoveOverlay(info.ID)))
			continue
		}
		have[info.ID] = info
	}

	for _, ov := range l.Overlays {
		cur, ok := have[ov.ID]
		if ok && !sameOverlay(cur.Overlay, ov.Overlay) {
			if err := e.RemoveOverlay(ov.ID); err != nil {
				fail("replace overlay "+ov.ID, err)
				continue
			}
			ok = false
		}
		if !ok {
			if err := e.AddOverlay(ctx, ov.Overlay); err != nil {
				fail("add overlay "+ov.ID, err)
				continue
			}
			cur.Status = engine.OverlayDown
		}
		switch {
		case ov.Up && cur.Status != engine.OverlayUp:
			fail("up overlay "+ov.ID, e.UpOverlay(ov.ID))
		case !ov.Up && cur.Status == engine.OverlayUp:
			fail("down overlay "+ov.ID, e.DownOverlay(ov.ID))
		}
	}
}

func sameOverlay(a, b settings.Overlay) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Type != b.Type || len(a.Items) != len(b.Items) {
		return false
	}
	for i := range a.Items {
		if a.Items[i] != b.Items[i] {
			return false
		}
	}
	return true
}

func sortedIDs[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

func ignoreNotFound(err error) error {
	if errors.Is(err, engine.ErrNotFound) {
		return nil
	}
	return err
}

// Snapshot captures the engine's current arrangement. Overlays keep their
// visibility; outputs attached to sources stay with their source.
func Snapshot(e Engine) (Layout, error) {
	l := New()

	mix, err := e.GetAudio()
	if err != nil {
		return Layout{}, err
	}
	l.Audio = mix

	if l.Active, err = e.ActiveScene(); err != nil {
		return Layout{}, err
	}

	scenes, err := e.ListScenes()
	if err != nil {
		return Layout{}, err
	}
	for _, sc := range scenes {
		sources, err := e.ListSources(sc.ID)
		if err != nil {
			return Layout{}, err
		}
		entry := Scene{ID: sc.ID}
		for _, src := range sources {
			entry.Sources = append(entry.Sources, Source{ID: src.SourceID, Source: src.Settings})
		}
		l.Scenes = append(l.Scenes, entry)
	}

	outputs, err := e.ListOutputs()
	if err != nil {
		return Layout{}, err
	}
	for _, o := range outputs {
		if !sourceOutputID(o.ID) {
			l.Outputs[o.ID] = o.Requested
		}
	}

	overlays, err := e.GetOverlays()
	if err != nil {
		return Layout{}, err
	}
	for _, ov := range overlays {
		l.Overlays = append(l.Overlays, Overlay{Overlay: ov.Overlay, Up: ov.Status == engine.OverlayUp})
	}
	return l, nil
}
