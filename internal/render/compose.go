package render

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// Rasterize draws layers, given in canvas coordinates of size canvasW x
// canvasH, into a new w x h RGBA image on a black background.
func Rasterize(layers []Layer, canvasW, canvasH, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	Clear(dst)
	Compose(dst, layers, canvasW, canvasH)
	return dst
}

// Clear fills dst with opaque black.
func Clear(dst *image.RGBA) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.RGBA{A: 0xff}), image.Point{}, draw.Src)
}

// Compose draws layers over dst in order, mapping canvas coordinates onto
// dst's bounds.
func Compose(dst *image.RGBA, layers []Layer, canvasW, canvasH int) {
	if canvasW <= 0 || canvasH <= 0 {
		return
	}
	b := dst.Bounds()
	sx := float64(b.Dx()) / float64(canvasW)
	sy := float64(b.Dy()) / float64(canvasH)

	for _, l := range layers {
		if !l.Visible() {
			continue
		}
		r := scaleRect(l.Rect, sx, sy).Add(b.Min)
		if r.Empty() || !r.Overlaps(b) {
			continue
		}
		drawLayer(dst, r, l.Image, l.Opacity)
	}
}

func drawLayer(dst *image.RGBA, r image.Rectangle, src image.Image, opacity float64) {
	scaler := draw.Scaler(draw.ApproxBiLinear)
	if r.Size() == src.Bounds().Size() {
		scaler = draw.NearestNeighbor
	}

	if opacity >= 1 {
		scaler.Scale(dst, r, src, src.Bounds(), draw.Over, nil)
		return
	}

	// Scale first, then blend with a uniform mask so opacity applies to the
	// whole layer including its own alpha.
	tmp := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	scaler.Scale(tmp, tmp.Bounds(), src, src.Bounds(), draw.Src, nil)
	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(clamp01(opacity) * 255))})
	draw.DrawMask(dst, r, tmp, image.Point{}, mask, image.Point{}, draw.Over)
}

func scaleRect(r image.Rectangle, sx, sy float64) image.Rectangle {
	return image.Rect(
		int(math.Round(float64(r.Min.X)*sx)),
		int(math.Round(float64(r.Min.Y)*sy)),
		int(math.Round(float64(r.Max.X)*sx)),
		int(math.Round(float64(r.Max.Y)*sy)),
	)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Tile lays images out in a near-square grid over a w x h canvas, preserving
// order. Nil images leave their cell black.
func Tile(images []image.Image, w, h int) []Layer {
	n := len(images)
	if n == 0 {
		return nil
	}
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols
	cw, ch := w/cols, h/rows

	layers := make([]Layer, 0, n)
	for i, img := range images {
		if img == nil {
			continue
		}
		x, y := (i%cols)*cw, (i/cols)*ch
		layers = append(layers, Layer{Image: img, Rect: image.Rect(x, y, x+cw, y+ch), Opacity: 1})
	}
	return layers
}

// Solid returns a w x h image of a single color.
func Solid(c color.Color, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}
