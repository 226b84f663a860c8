// Package layout persists a compositor arrangement (scenes, sources,
// outputs, overlays and the audio bus) as TOML and reconciles it into a
// running engine.
package layout

import (
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/compositor/internal/settings"
)

// CurrentVersion is written by Save.
const CurrentVersion = 1

// Layout is the persisted arrangement.
type Layout struct {
	Version int `toml:"version" json:"version"`

	// Active is switched to after everything else is applied.
	Active       string `toml:"active,omitempty" json:"active,omitempty"`
	Transition   string `toml:"transition,omitempty" json:"transition,omitempty"`
	TransitionMs int    `toml:"transition_ms,omitempty" json:"transitionMs,omitempty"`

	Audio    settings.Mix               `toml:"audio" json:"audio"`
	Scenes   []Scene                    `toml:"scenes" json:"scenes"`
	Outputs  map[string]settings.Output `toml:"outputs" json:"outputs"`
	Overlays []Overlay                  `toml:"overlays" json:"overlays"`
}

// Scene is a scene with its sources in stacking order.
type Scene struct {
	ID      string   `toml:"id" json:"id"`
	Sources []Source `toml:"sources" json:"sources"`
}

// Source is a source entry.
type Source struct {
	ID string `toml:"id" json:"id"`
	settings.Source
}

// Overlay is an overlay entry with its visibility.
type Overlay struct {
	settings.Overlay
	Up bool `toml:"up" json:"up"`
}

// New returns an empty layout.
func New() Layout {
	return Layout{Version: CurrentVersion, Audio: settings.DefaultMix(), Outputs: make(map[string]settings.Output)}
}

// Parse decodes and normalizes a TOML layout.
func Parse(data []byte) (Layout, error) {
	l := New()
	if err := toml.Unmarshal(data, &l); err != nil {
		return Layout{}, fmt.Errorf("failed to parse layout: %w", err)
	}
	l.Normalize()
	return l, nil
}

// Load reads a layout file and validates it. A missing file is an empty
// layout.
func Load(path string) (Layout, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return Layout{}, fmt.Errorf("failed to read layout: %w", err)
	}
	l, err := Parse(data)
	if err != nil {
		return Layout{}, err
	}
	if err := l.Validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// Normalize fills defaults of every entry.
func (l *Layout) Normalize() {
	if l.Version == 0 {
		l.Version = CurrentVersion
	}
	if l.Audio.Mode == "" {
		l.Audio.Mode = settings.AudioFollow
	}
	if l.Outputs == nil {
		l.Outputs = make(map[string]settings.Output)
	}
	for i := range l.Scenes {
		for j := range l.Scenes[i].Sources {
			l.Scenes[i].Sources[j].Normalize()
		}
	}
	for id, o := range l.Outputs {
		o.Normalize()
		l.Outputs[id] = o
	}
	for i := range l.Overlays {
		l.Overlays[i].Normalize()
	}
}

// Validate checks every entry and reports all problems together.
func (l Layout) Validate() error {
	var result *multierror.Error
	if l.Version > CurrentVersion {
		result = multierror.Append(result, fmt.Errorf("layout version %d is newer than %d", l.Version, CurrentVersion))
	}

	mode := l.Audio.Mode
	vol := l.Audio.MasterVolume
	if err := (settings.MixPatch{MasterVolume: &vol, Mode: &mode}).Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("audio: %w", err))
	}
	if _, err := settings.ParseTransition(l.Transition); err != nil {
		result = multierror.Append(result, err)
	}
	if err := settings.ValidateDuration(l.TransitionMs); err != nil {
		result = multierror.Append(result, err)
	}

	scenes := make(map[string]map[string]bool)
	for _, sc := range l.Scenes {
		if sc.ID == "" {
			result = multierror.Append(result, errors.New("scene without id"))
			continue
		}
		if _, dup := scenes[sc.ID]; dup {
			result = multierror.Append(result, fmt.Errorf("scene %q: duplicate id", sc.ID))
			continue
		}
		sources := make(map[string]bool)
		scenes[sc.ID] = sources
		for _, src := range sc.Sources {
			key := sc.ID + "/" + src.ID
			switch {
			case src.ID == "":
				result = multierror.Append(result, fmt.Errorf("scene %q: source without id", sc.ID))
			case sources[src.ID]:
				result = multierror.Append(result, fmt.Errorf("source %q: duplicate id", key))
			default:
				sources[src.ID] = true
				if err := src.Validate(); err != nil {
					result = multierror.Append(result, fmt.Errorf("source %q: %w", key, err))
				}
			}
		}
	}

	for id, o := range l.Outputs {
		if err := o.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("output %q: %w", id, err))
			continue
		}
		if o.SceneID == "" {
			continue
		}
		sources, ok := scenes[o.SceneID]
		switch {
		case !ok:
			result = multierror.Append(result, fmt.Errorf("output %q: unknown scene %q", id, o.SceneID))
		case o.SourceID != "" && !sources[o.SourceID]:
			result = multierror.Append(result, fmt.Errorf("output %q: unknown source %q", id, o.SceneID+"/"+o.SourceID))
		}
	}

	overlays := make(map[string]bool)
	for _, ov := range l.Overlays {
		if overlays[ov.ID] {
			result = multierror.Append(result, fmt.Errorf("overlay %q: duplicate id", ov.ID))
			continue
		}
		overlays[ov.ID] = true
		if err := ov.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("overlay %q: %w", ov.ID, err))
		}
	}

	if l.Active != "" {
		if _, ok := scenes[l.Active]; !ok {
			result = multierror.Append(result, fmt.Errorf("active scene %q is not defined", l.Active))
		}
	}
	return result.ErrorOrNil()
}

// Scene returns the scene with the given id.
func (l Layout) Scene(id string) (Scene, bool) {
	for _, sc := range l.Scenes {
		if sc.ID == id {
			return sc, true
		}
	}
	return Scene{}, false
}
