package engine

import (
	"image"
	"maps"
	"slices"
	"time"

	"github.com/smazurov/compositor/internal/render"
)

// tick composes one frame: scheduled switches, source pictures, the program
// with its transition and overlays, the audio mix. The frame is then handed
// to outputs, displays and pending captures.
func (rt *runtime) tick(now time.Time) {
	start := time.Now()
	rt.now = now

	rt.runScheduled(now)
	rt.pullSources(now)
	p := rt.advanceTransition(now)

	v := rt.settings.Video
	f := &render.Frame{
		Seq:     rt.seq,
		PTS:     time.Duration(rt.seq) * v.FrameInterval(),
		Time:    now,
		Width:   v.BaseWidth,
		Height:  v.BaseHeight,
		Scenes:  make(map[string][]render.Layer, len(rt.sceneOrder)),
		Sources: make(map[render.SourceKey]image.Image),
	}
	for _, id := range rt.sceneOrder {
		var layers []render.Layer
		for _, s := range rt.scenes[id].sources {
			if s.img == nil {
				continue
			}
			f.Sources[s.key()] = s.img
			layers = append(layers, render.FullCanvas(s.img, f.Width, f.Height)...)
		}
		f.Scenes[id] = layers
	}

	if t := rt.trans; t != nil {
		f.Program = t.blend(f.Scenes[t.from], f.Scenes[t.to], p, f.Width)
	} else {
		f.Program = slices.Clone(f.Scenes[rt.active])
	}
	f.Program = append(f.Program, rt.overlayLayers()...)
	if rt.clockText != nil {
		if l, err := rt.clockText.layerAt(now); err == nil {
			f.Program = append(f.Program, l)
		} else {
			rt.logger.Debug("Failed to render timestamp", "error", err)
		}
	}

	rt.mixAudio(f, p)

	rt.seq++
	rt.latest.Store(f)
	rt.outputs.Submit(f)
	rt.notifyDisplays()
	rt.serveCaptures(f)
	rt.e.opts.Metrics.FrameComposed(time.Since(start))
}

// Frame returns the most recently composed frame, or nil before the first
// tick. The frame must not be modified.
func (e *Engine) Frame() (*render.Frame, error) {
	var f *render.Frame
	err := e.do(func(rt *runtime) error {
		f = rt.latest.Load()
		return nil
	})
	return f, err
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
