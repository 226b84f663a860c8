package engine

import (
	"image"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/compositor/internal/events"
	"github.com/smazurov/compositor/internal/render"
)

// WindowHandle is a caller-owned native surface. The engine only hands it to
// the SurfaceFactory and never closes it.
type WindowHandle any

// Surface is a drawable wrapped around a window handle.
type Surface interface {
	Present(img *image.RGBA) error
	Resize(w, h int) error
}

// SurfaceFactory wraps window handles.
type SurfaceFactory interface {
	Surface(handle WindowHandle, w, h int) (Surface, error)
}

// Headless is an offscreen surface keeping the last presented image.
type Headless struct {
	mu     sync.Mutex
	w, h   int
	img    *image.RGBA
	frames uint64
}

// NewHeadless creates an empty offscreen surface.
func NewHeadless() *Headless {
	return &Headless{}
}

// Present implements Surface.
func (s *Headless) Present(img *image.RGBA) error {
	s.mu.Lock()
	s.img = img
	s.frames++
	s.mu.Unlock()
	return nil
}

// Resize implements Surface.
func (s *Headless) Resize(w, h int) error {
	s.mu.Lock()
	s.w, s.h = w, h
	s.mu.Unlock()
	return nil
}

// Latest returns the last presented image and how many were presented.
func (s *Headless) Latest() (*image.RGBA, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img, s.frames
}

// Size returns the surface size.
func (s *Headless) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w, s.h
}

// HeadlessSurfaces uses a *Headless handle as the surface itself and gives
// any other handle a fresh offscreen surface.
type HeadlessSurfaces struct{}

// Surface implements SurfaceFactory.
func (HeadlessSurfaces) Surface(handle WindowHandle, w, h int) (Surface, error) {
	s, ok := handle.(*Headless)
	if !ok {
		s = NewHeadless()
	}
	if err := s.Resize(w, h); err != nil {
		return nil, err
	}
	return s, nil
}

// DisplayInfo describes a display.
type DisplayInfo struct {
	Name        string   `json:"name"`
	Handle      string   `json:"handle"`
	ScaleFactor float64  `json:"scaleFactor"`
	SourceIDs   []string `json:"sourceIds"`
	X           int      `json:"x"`
	Y           int      `json:"y"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
}

// displayView is what the display goroutine renders. It is replaced, never
// mutated.
type displayView struct {
	refs []string
	w, h int
}

type display struct {
	info    DisplayInfo
	surface Surface
	view    atomic.Pointer[displayView]

	notify chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

// CreateDisplay previews sources on a caller-owned window. Each id is either
// "scene/source" or a scene id, which previews that scene's composition.
// Several ids are tiled. The display starts at half the canvas size times
// scaleFactor until moved.
func (e *Engine) CreateDisplay(name string, handle WindowHandle, scaleFactor float64, sourceIDs []string) (DisplayInfo, error) {
	if strings.TrimSpace(name) == "" {
		return DisplayInfo{}, invalidArg("display name is required")
	}
	if math.IsNaN(scaleFactor) || scaleFactor <= 0 || scaleFactor > maxScaleFactor {
		return DisplayInfo{}, invalidArg("scale factor must be in (0, %v], got %v", maxScaleFactor, scaleFactor)
	}
	if len(sourceIDs) == 0 {
		return DisplayInfo{}, invalidArg("display %q needs at least one source", name)
	}

	var info DisplayInfo
	err := e.do(func(rt *runtime) error {
		if _, ok := rt.displays[name]; ok {
			return alreadyExists("display", name)
		}
		if err := rt.checkRefs(sourceIDs); err != nil {
			return err
		}
		w, h := rt.settings.Video.BaseWidth/2, rt.settings.Video.BaseHeight/2
		pw, ph := scaled(w, scaleFactor), scaled(h, scaleFactor)
		surface, err := rt.e.opts.Surfaces.Surface(handle, pw, ph)
		if err != nil {
			return invalidArg("display %q: %v", name, err)
		}
		d := &display{
			info: DisplayInfo{
				Name:        name,
				Handle:      uuid.NewString(),
				ScaleFactor: scaleFactor,
				SourceIDs:   append([]string(nil), sourceIDs...),
				Width:       w,
				Height:      h,
			},
			surface: surface,
			notify:  make(chan struct{}, 1),
			quit:    make(chan struct{}),
			done:    make(chan struct{}),
		}
		d.view.Store(&displayView{refs: d.info.SourceIDs, w: pw, h: ph})
		rt.displays[name] = d
		go rt.runDisplay(d, pw, ph)
		rt.e.opts.Metrics.SetDisplays(len(rt.displays))
		rt.displayChanged(d, "created")
		rt.logger.Info("Display created", "name", name, "handle", d.info.Handle, "sources", sourceIDs)
		info = d.info
		return nil
	})
	return info, err
}

// DestroyDisplay stops a display. Pending screenshots of the sources it was
// previewing fail with context.Canceled.
func (e *Engine) DestroyDisplay(name string) error {
	var d *display
	err := e.do(func(rt *runtime) error {
		d = rt.displays[name]
		if d == nil {
			return notFound("display", name)
		}
		delete(rt.displays, name)
		keys := rt.refKeys(d.info.SourceIDs)
		rt.cancelCaptures(errCaptureCanceled, func(k render.SourceKey) bool { return keys[k] })
		rt.e.opts.Metrics.SetDisplays(len(rt.displays))
		rt.displayChanged(d, "destroyed")
		rt.logger.Info("Display destroyed", "name", name)
		return nil
	})
	if err != nil {
		return err
	}
	close(d.quit)
	<-d.done
	return nil
}

// MoveDisplay repositions and resizes a display. The surface is resized to
// w*scale x h*scale in place; the handle stays the same.
func (e *Engine) MoveDisplay(name string, x, y, w, h int) (DisplayInfo, error) {
	if w <= 0 || h <= 0 {
		return DisplayInfo{}, invalidArg("display size must be positive, got %dx%d", w, h)
	}
	var info DisplayInfo
	err := e.do(func(rt *runtime) error {
		d := rt.displays[name]
		if d == nil {
			return notFound("display", name)
		}
		d.info.X, d.info.Y, d.info.Width, d.info.Height = x, y, w, h
		cur := d.view.Load()
		d.view.Store(&displayView{refs: cur.refs, w: scaled(w, d.info.ScaleFactor), h: scaled(h, d.info.ScaleFactor)})
		rt.displayChanged(d, "moved")
		info = d.info
		return nil
	})
	return info, err
}

// UpdateDisplay changes what a display previews.
func (e *Engine) UpdateDisplay(name string, sourceIDs []string) (DisplayInfo, error) {
	if len(sourceIDs) == 0 {
		return DisplayInfo{}, invalidArg("display %q needs at least one source", name)
	}
	var info DisplayInfo
	err := e.do(func(rt *runtime) error {
		d := rt.displays[name]
		if d == nil {
			return notFound("display", name)
		}
		if err := rt.checkRefs(sourceIDs); err != nil {
			return err
		}
		d.info.SourceIDs = append([]string(nil), sourceIDs...)
		cur := d.view.Load()
		d.view.Store(&displayView{refs: d.info.SourceIDs, w: cur.w, h: cur.h})
		rt.displayChanged(d, "updated")
		info = d.info
		return nil
	})
	return info, err
}

// ListDisplays returns all displays sorted by name.
func (e *Engine) ListDisplays() ([]DisplayInfo, error) {
	var out []DisplayInfo
	err := e.do(func(rt *runtime) error {
		for _, name := range sortedKeys(rt.displays) {
			out = append(out, rt.displays[name].info)
		}
		return nil
	})
	return out, err
}

const maxScaleFactor = 8

func scaled(v int, scale float64) int {
	return max(int(float64(v)*scale+0.5), 1)
}

func (rt *runtime) checkRefs(refs []string) error {
	for _, ref := range refs {
		sceneID, sourceID, ok := strings.Cut(ref, "/")
		if !ok {
			if !rt.sceneExists(ref) {
				return notFound("scene", ref)
			}
			continue
		}
		if _, err := rt.source(sceneID, sourceID); err != nil {
			return err
		}
	}
	return nil
}

// refKeys expands display refs to the source keys they preview.
func (rt *runtime) refKeys(refs []string) map[render.SourceKey]bool {
	keys := make(map[render.SourceKey]bool)
	for _, ref := range refs {
		sceneID, sourceID, ok := strings.Cut(ref, "/")
		if ok {
			keys[render.SourceKey{SceneID: sceneID, SourceID: sourceID}] = true
			continue
		}
		if sc, exists := rt.scenes[ref]; exists {
			for _, s := range sc.sources {
				keys[s.key()] = true
			}
		}
	}
	return keys
}

func (rt *runtime) displayChanged(d *display, action string) {
	rt.e.opts.Bus.Publish(events.DisplayChangedEvent{
		Name:      d.info.Name,
		Handle:    d.info.Handle,
		Action:    action,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// notifyDisplays wakes every display without waiting for it. A display
// still busy with an older frame skips to the newest one.
func (rt *runtime) notifyDisplays() {
	for _, d := range rt.displays {
		select {
		case d.notify <- struct{}{}:
		default:
		}
	}
}

// closeDisplay stops a display during shutdown.
func (rt *runtime) closeDisplay(d *display) {
	close(d.quit)
	<-d.done
	rt.displayChanged(d, "destroyed")
}

func (rt *runtime) runDisplay(d *display, w, h int) {
	defer close(d.done)
	logger := rt.logger.With("display", d.info.Name)
	for {
		select {
		case <-d.quit:
			return
		case <-d.notify:
		}
		f := rt.latest.Load()
		if f == nil {
			continue
		}
		v := d.view.Load()
		if v.w != w || v.h != h {
			if err := d.surface.Resize(v.w, v.h); err != nil {
				logger.Warn("Failed to resize display", "error", err)
			}
			w, h = v.w, v.h
		}
		if err := d.surface.Present(renderDisplay(f, v)); err != nil {
			logger.Debug("Failed to present display frame", "error", err)
		}
	}
}

// renderDisplay tiles the referenced feeds of f into a w x h image.
func renderDisplay(f *render.Frame, v *displayView) *image.RGBA {
	images := make([]image.Image, len(v.refs))
	for i, ref := range v.refs {
		sceneID, sourceID, ok := strings.Cut(ref, "/")
		if ok {
			images[i] = f.Sources[render.SourceKey{SceneID: sceneID, SourceID: sourceID}]
			continue
		}
		if layers, exists := f.Scenes[ref]; exists {
			images[i] = render.Rasterize(layers, f.Width, f.Height, f.Width, f.Height)
		}
	}
	if len(images) == 1 {
		return render.Rasterize(render.FullCanvas(images[0], f.Width, f.Height), f.Width, f.Height, v.w, v.h)
	}
	return render.Rasterize(render.Tile(images, f.Width, f.Height), f.Width, f.Height, v.w, v.h)
}
