package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

var (
	red   = color.RGBA{R: 0xff, A: 0xff}
	green = color.RGBA{G: 0xff, A: 0xff}
)

func near(a, b color.RGBA) bool {
	d := func(x, y uint8) bool {
		diff := int(x) - int(y)
		return diff >= -2 && diff <= 2
	}
	return d(a.R, b.R) && d(a.G, b.G) && d(a.B, b.B) && d(a.A, b.A)
}

func TestRasterizeScalesCanvas(t *testing.T) {
	layers := []Layer{
		{Image: Solid(red, 16, 16), Rect: image.Rect(0, 0, 1280, 720), Opacity: 1},
		{Image: Solid(green, 4, 4), Rect: image.Rect(640, 360, 1280, 720), Opacity: 1},
	}
	img := Rasterize(layers, 1280, 720, 128, 72)

	if got := img.RGBAAt(10, 10); !near(got, red) {
		t.Errorf("top-left = %v, want red", got)
	}
	if got := img.RGBAAt(100, 60); !near(got, green) {
		t.Errorf("bottom-right = %v, want green", got)
	}
}

func TestComposeOpacity(t *testing.T) {
	layers := []Layer{
		{Image: Solid(red, 8, 8), Rect: image.Rect(0, 0, 8, 8), Opacity: 1},
		{Image: Solid(green, 8, 8), Rect: image.Rect(0, 0, 8, 8), Opacity: 0.5},
	}
	img := Rasterize(layers, 8, 8, 8, 8)
	px := img.RGBAAt(4, 4)

	if px.R < 0x70 || px.R > 0x90 || px.G < 0x70 || px.G > 0x90 {
		t.Errorf("half blend = %v, want roughly equal red and green", px)
	}
}

func TestComposeSkipsInvisibleAndOffCanvas(t *testing.T) {
	layers := []Layer{
		{Image: Solid(red, 8, 8), Rect: image.Rect(0, 0, 8, 8), Opacity: 0},
		{Image: nil, Rect: image.Rect(0, 0, 8, 8), Opacity: 1},
		{Image: Solid(green, 8, 8), Rect: image.Rect(8, 0, 16, 8), Opacity: 1},
	}
	img := Rasterize(layers, 8, 8, 8, 8)
	if got := img.RGBAAt(4, 4); got != (color.RGBA{A: 0xff}) {
		t.Errorf("pixel = %v, want black", got)
	}
}

func TestTile(t *testing.T) {
	imgs := []image.Image{Solid(red, 2, 2), nil, Solid(green, 2, 2)}
	layers := Tile(imgs, 200, 100)
	if len(layers) != 2 {
		t.Fatalf("got %d layers, want 2", len(layers))
	}
	if layers[0].Rect != image.Rect(0, 0, 100, 50) {
		t.Errorf("first cell = %v", layers[0].Rect)
	}
	if layers[1].Rect != image.Rect(0, 50, 100, 100) {
		t.Errorf("third cell = %v", layers[1].Rect)
	}
}

func TestDrawTextDefaultFont(t *testing.T) {
	ft, err := NewFonts("").Lookup("NoSuchFamily")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	img, err := DrawText("Breaking news", TextStyle{Font: ft, Size: 24, Color: color.White}, 300, 40)
	if err != nil {
		t.Fatalf("DrawText: %v", err)
	}

	var lit int
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y).A > 0 {
				lit++
			}
		}
	}
	if lit == 0 {
		t.Error("no pixels drawn")
	}

	w, err := MeasureText("Breaking news", TextStyle{Font: ft, Size: 24})
	if err != nil || w <= 0 || w > 300 {
		t.Errorf("MeasureText = %d, %v", w, err)
	}
}

func writePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestLoadImage(t *testing.T) {
	data := writePNG(t, Solid(red, 3, 2))
	path := filepath.Join(t.TempDir(), "logo.png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/logo.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	for _, loc := range []string{path, "file://" + path, srv.URL + "/logo.png"} {
		img, err := LoadImage(context.Background(), srv.Client(), loc)
		if err != nil {
			t.Errorf("LoadImage(%q): %v", loc, err)
			continue
		}
		if img.Bounds().Dx() != 3 || img.Bounds().Dy() != 2 {
			t.Errorf("LoadImage(%q) size = %v", loc, img.Bounds())
		}
	}

	if _, err := LoadImage(context.Background(), srv.Client(), srv.URL+"/missing.png"); err == nil {
		t.Error("expected error for 404")
	}
	if _, err := LoadImage(context.Background(), nil, "ftp://example.com/a.png"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestEncodePNG(t *testing.T) {
	data, err := EncodePNG(Solid(green, 5, 4))
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 5 {
		t.Errorf("width = %d", img.Bounds().Dx())
	}
	r, g, _, _ := img.At(2, 2).RGBA()
	if r != 0 || g != 0xffff {
		t.Errorf("pixel = %v", img.At(2, 2))
	}
}
