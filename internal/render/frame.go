// Package render rasterizes composed frames: layers scaled into a canvas
// with opacity, caption text, decoded images and PNG snapshots.
package render

import (
	"image"
	"time"
)

// SourceKey identifies a source by its scene and id.
type SourceKey struct {
	SceneID  string `json:"sceneId"`
	SourceID string `json:"sourceId"`
}

func (k SourceKey) String() string {
	return k.SceneID + "/" + k.SourceID
}

// Layer is an image placed on the canvas. Rect is in canvas coordinates and
// may extend past the canvas edges during slide transitions.
type Layer struct {
	Image   image.Image
	Rect    image.Rectangle
	Opacity float64
}

// Visible reports whether drawing the layer changes anything.
func (l Layer) Visible() bool {
	return l.Image != nil && l.Opacity > 0 && !l.Rect.Empty()
}

// Frame is one composed tick of the engine. Frames are immutable after the
// compositor publishes them; consumers must not modify images or samples.
type Frame struct {
	Seq    uint64
	PTS    time.Duration
	Time   time.Time
	Width  int
	Height int

	// Program is the final mix: the active scene (or transition blend)
	// followed by visible overlays.
	Program []Layer
	// Scenes holds each scene's own composition without overlays.
	Scenes map[string][]Layer
	// Sources holds the latest decoded picture of every source.
	Sources map[SourceKey]image.Image

	// Audio is the master bus, one slice per channel.
	Audio [][]float32
	// SceneAudio is the post-fader sum of each scene's sources.
	SceneAudio map[string][][]float32
	// SourceAudio is each source's post-fader audio.
	SourceAudio map[SourceKey][][]float32
}

// Canvas returns the canvas rectangle.
func (f *Frame) Canvas() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Samples returns the number of audio samples per channel in the frame.
func (f *Frame) Samples() int {
	if len(f.Audio) == 0 {
		return 0
	}
	return len(f.Audio[0])
}

// FullCanvas returns a single opaque layer covering the canvas.
func FullCanvas(img image.Image, w, h int) []Layer {
	if img == nil {
		return nil
	}
	return []Layer{{Image: img, Rect: image.Rect(0, 0, w, h), Opacity: 1}}
}
