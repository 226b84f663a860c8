package render

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Fonts resolves font families to parsed fonts from a directory, falling
// back to the built-in Go Regular face.
type Fonts struct {
	dir string

	mu     sync.Mutex
	parsed map[string]*opentype.Font
}

// NewFonts creates a font set rooted at dir. dir may be empty.
func NewFonts(dir string) *Fonts {
	return &Fonts{dir: dir, parsed: make(map[string]*opentype.Font)}
}

// Lookup returns the font for family. Unknown families resolve to the
// default font.
func (f *Fonts) Lookup(family string) (*opentype.Font, error) {
	key := strings.ToLower(strings.TrimSpace(family))

	f.mu.Lock()
	defer f.mu.Unlock()
	if ft, ok := f.parsed[key]; ok {
		return ft, nil
	}

	data := goregular.TTF
	if path := f.find(family); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read font %s: %w", path, err)
		}
		data = b
	}
	ft, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %q: %w", family, err)
	}
	f.parsed[key] = ft
	return ft, nil
}

// LoadFile parses a font at an explicit path.
func (f *Fonts) LoadFile(path string) (*opentype.Font, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ft, ok := f.parsed["file:"+path]; ok {
		return ft, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ft, err := opentype.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", path, err)
	}
	f.parsed["file:"+path] = ft
	return ft, nil
}

func (f *Fonts) find(family string) string {
	if f.dir == "" || family == "" {
		return ""
	}
	for _, ext := range []string{".ttf", ".otf", ".TTF", ".OTF"} {
		p := filepath.Join(f.dir, family+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// TextStyle configures DrawText.
type TextStyle struct {
	Font  *opentype.Font
	Size  float64
	Color color.Color
}

// DrawText renders a single line of text, left aligned and vertically
// centered, into a transparent w x h image. Text wider than w is clipped.
func DrawText(content string, style TextStyle, w, h int) (*image.RGBA, error) {
	if style.Font == nil {
		ft, err := opentype.Parse(goregular.TTF)
		if err != nil {
			return nil, err
		}
		style.Font = ft
	}
	face, err := opentype.NewFace(style.Font, &opentype.FaceOptions{
		Size:    style.Size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, err
	}
	defer face.Close()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	m := face.Metrics()
	textH := (m.Ascent + m.Descent).Ceil()
	baseline := (h-textH)/2 + m.Ascent.Ceil()

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(style.Color),
		Face: face,
		Dot:  fixed.P(0, baseline),
	}
	d.DrawString(content)
	return img, nil
}

// MeasureText returns the advance width of content in pixels.
func MeasureText(content string, style TextStyle) (int, error) {
	if style.Font == nil {
		return 0, fmt.Errorf("no font")
	}
	face, err := opentype.NewFace(style.Font, &opentype.FaceOptions{Size: style.Size, DPI: 72})
	if err != nil {
		return 0, err
	}
	defer face.Close()
	return font.MeasureString(face, content).Ceil(), nil
}
