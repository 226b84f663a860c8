package engine

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"slices"
	"time"

	"github.com/smazurov/compositor/internal/events"
	"github.com/smazurov/compositor/internal/render"
	"github.com/smazurov/compositor/internal/settings"
)

// OverlayStatus is the visibility of an overlay.
type OverlayStatus string

// Overlay statuses.
const (
	OverlayUp   OverlayStatus = "up"
	OverlayDown OverlayStatus = "down"
)

// OverlayInfo is an overlay with its visibility.
type OverlayInfo struct {
	settings.Overlay
	Status OverlayStatus `json:"status"`
}

type overlay struct {
	cfg    settings.Overlay
	up     bool
	layers []render.Layer
}

// AddOverlay rasterizes the overlay's items and adds it, hidden, above the
// overlays added before it.
func (e *Engine) AddOverlay(ctx context.Context, ov settings.Overlay) error {
	ov.Normalize()
	if err := ov.Validate(); err != nil {
		return invalidSettings(err)
	}
	rt, err := e.runtime()
	if err != nil {
		return err
	}
	if err := e.do(func(rt *runtime) error {
		if rt.overlay(ov.ID) != nil {
			return alreadyExists("overlay", ov.ID)
		}
		return nil
	}); err != nil {
		return err
	}

	layers, err := rt.rasterizeOverlay(ctx, ov)
	if err != nil {
		return invalidSettings(err)
	}

	return e.do(func(rt *runtime) error {
		if rt.overlay(ov.ID) != nil {
			return alreadyExists("overlay", ov.ID)
		}
		rt.overlays = append(rt.overlays, &overlay{cfg: ov, layers: layers})
		rt.logger.Info("Overlay added", "overlay_id", ov.ID, "items", len(ov.Items))
		rt.overlayChanged(ov.ID, "added")
		return nil
	})
}

// RemoveOverlay takes an overlay down and removes it.
func (e *Engine) RemoveOverlay(id string) error {
	return e.do(func(rt *runtime) error {
		o := rt.overlay(id)
		if o == nil {
			return notFound("overlay", id)
		}
		if o.up {
			o.up = false
			rt.overlayChanged(id, "down")
		}
		rt.overlays = slices.DeleteFunc(rt.overlays, func(x *overlay) bool { return x == o })
		rt.logger.Info("Overlay removed", "overlay_id", id)
		rt.overlayChanged(id, "removed")
		return nil
	})
}

// UpOverlay shows an overlay from the next frame on. Showing a visible
// overlay does nothing.
func (e *Engine) UpOverlay(id string) error {
	return e.setOverlay(id, true)
}

// DownOverlay hides an overlay from the next frame on. Hiding a hidden
// overlay does nothing.
func (e *Engine) DownOverlay(id string) error {
	return e.setOverlay(id, false)
}

func (e *Engine) setOverlay(id string, up bool) error {
	return e.do(func(rt *runtime) error {
		o := rt.overlay(id)
		if o == nil {
			return notFound("overlay", id)
		}
		if o.up == up {
			return nil
		}
		o.up = up
		action := "down"
		if up {
			action = "up"
		}
		rt.logger.Debug("Overlay visibility changed", "overlay_id", id, "action", action)
		rt.overlayChanged(id, action)
		return nil
	})
}

// GetOverlays lists overlays in insertion order, which is also their drawing
// order.
func (e *Engine) GetOverlays() ([]OverlayInfo, error) {
	var out []OverlayInfo
	err := e.do(func(rt *runtime) error {
		out = make([]OverlayInfo, 0, len(rt.overlays))
		for _, o := range rt.overlays {
			status := OverlayDown
			if o.up {
				status = OverlayUp
			}
			out = append(out, OverlayInfo{Overlay: o.cfg, Status: status})
		}
		return nil
	})
	return out, err
}

func (rt *runtime) overlay(id string) *overlay {
	for _, o := range rt.overlays {
		if o.cfg.ID == id {
			return o
		}
	}
	return nil
}

func (rt *runtime) overlayChanged(id, action string) {
	rt.e.opts.Bus.Publish(events.OverlayChangedEvent{
		OverlayID: id,
		Action:    action,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// rasterizeOverlay turns items into canvas layers. It runs on the caller's
// goroutine since images may be fetched over the network.
func (rt *runtime) rasterizeOverlay(ctx context.Context, ov settings.Overlay) ([]render.Layer, error) {
	layers := make([]render.Layer, 0, len(ov.Items))
	for i, it := range ov.Items {
		rect := image.Rect(it.X, it.Y, it.X+it.Width, it.Y+it.Height)
		switch it.Type {
		case settings.ItemText:
			ft, err := rt.fonts.Lookup(it.FontFamily)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			c, err := settings.ParseABGR(it.ColorABGR)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			img, err := render.DrawText(it.Content, render.TextStyle{Font: ft, Size: float64(it.FontSize), Color: c}, it.Width, it.Height)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			layers = append(layers, render.Layer{Image: img, Rect: rect, Opacity: 1})
		case settings.ItemImage:
			img, err := render.LoadImage(ctx, rt.e.opts.HTTPClient, it.URL)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			layers = append(layers, render.Layer{Image: img, Rect: rect, Opacity: 1})
		}
	}
	return layers, nil
}

// overlayLayers returns the layers of visible overlays, oldest first.
func (rt *runtime) overlayLayers() []render.Layer {
	var out []render.Layer
	for _, o := range rt.overlays {
		if o.up {
			out = append(out, o.layers...)
		}
	}
	return out
}

// timestampOverlay burns the wall-clock time into the program's top left
// corner, re-rendering once per second.
type timestampOverlay struct {
	style  render.TextStyle
	height int
	second int64
	layer  render.Layer
}

const timestampLayout = "2006-01-02 15:04:05"

func newTimestampOverlay(fonts *render.Fonts, s settings.Settings) (*timestampOverlay, error) {
	var style render.TextStyle
	if s.TimestampFontPath != "" {
		ft, err := fonts.LoadFile(s.TimestampFontPath)
		if err != nil {
			return nil, err
		}
		style.Font = ft
	} else {
		ft, err := fonts.Lookup("")
		if err != nil {
			return nil, err
		}
		style.Font = ft
	}
	style.Size = float64(s.TimestampFontHeight)
	style.Color = color.White
	return &timestampOverlay{style: style, height: s.TimestampFontHeight + s.TimestampFontHeight/2, second: -1}, nil
}

func (t *timestampOverlay) layerAt(now time.Time) (render.Layer, error) {
	if sec := now.Unix(); sec != t.second {
		text := now.Format(timestampLayout)
		w, err := render.MeasureText(text, t.style)
		if err != nil {
			return render.Layer{}, err
		}
		img, err := render.DrawText(text, t.style, w+2, t.height)
		if err != nil {
			return render.Layer{}, err
		}
		margin := t.height / 3
		t.layer = render.Layer{Image: img, Rect: image.Rect(margin, margin, margin+w+2, margin+t.height), Opacity: 1}
		t.second = sec
	}
	return t.layer, nil
}
