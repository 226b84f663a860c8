package input

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"net/url"
	"strconv"
	"sync"

	"github.com/smazurov/compositor/internal/render"
	"github.com/smazurov/compositor/internal/settings"
)

// TestSource is a synthetic input selected by a testsrc:// URL. Query
// parameters:
//
//	color=RRGGBB    solid color instead of color bars
//	tone=440        sine tone in Hz (default silent)
//	amp=0.5         tone amplitude, 0..1
//	stallafter=N    stop producing pictures after N frames
//	frames=N        end like a media file after N frames
type TestSource struct {
	mu         sync.Mutex
	img        image.Image
	frames     uint64
	stallAfter uint64
	length     uint64
	playing    bool

	tone       float64
	amp        float64
	phase      float64
	sampleRate int
	channels   int
}

var barColors = []color.RGBA{
	{192, 192, 192, 255}, {192, 192, 0, 255}, {0, 192, 192, 255}, {0, 192, 0, 255},
	{192, 0, 192, 255}, {192, 0, 0, 255}, {0, 0, 192, 255},
}

// OpenTestSource parses a testsrc:// URL.
func OpenTestSource(src settings.Source, format Format) (*TestSource, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()

	w, h := format.Video.BaseWidth, format.Video.BaseHeight
	if w <= 0 || h <= 0 {
		w, h = 64, 36
	}

	ts := &TestSource{
		amp:        0.5,
		sampleRate: format.Audio.SampleRate,
		channels:   format.Audio.Channels,
		playing:    !src.StartOnActive,
	}
	if ts.channels <= 0 {
		ts.channels = 2
	}

	if c := q.Get("color"); c != "" {
		rgb, err := strconv.ParseUint(c, 16, 32)
		if err != nil || len(c) != 6 {
			return nil, fmt.Errorf("testsrc: invalid color %q", c)
		}
		ts.img = render.Solid(color.RGBA{uint8(rgb >> 16), uint8(rgb >> 8), uint8(rgb), 255}, w, h)
	} else {
		ts.img = colorBars(w, h)
	}
	if v := q.Get("tone"); v != "" {
		if ts.tone, err = strconv.ParseFloat(v, 64); err != nil || ts.tone < 0 {
			return nil, fmt.Errorf("testsrc: invalid tone %q", v)
		}
	}
	if v := q.Get("amp"); v != "" {
		if ts.amp, err = strconv.ParseFloat(v, 64); err != nil || ts.amp < 0 || ts.amp > 1 {
			return nil, fmt.Errorf("testsrc: invalid amp %q", v)
		}
	}
	if v := q.Get("stallafter"); v != "" {
		if ts.stallAfter, err = strconv.ParseUint(v, 10, 64); err != nil {
			return nil, fmt.Errorf("testsrc: invalid stallafter %q", v)
		}
	}
	if v := q.Get("frames"); v != "" {
		if ts.length, err = strconv.ParseUint(v, 10, 64); err != nil {
			return nil, fmt.Errorf("testsrc: invalid frames %q", v)
		}
	}
	return ts, nil
}

func colorBars(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		c := barColors[x*len(barColors)/w]
		for y := 0; y < h; y++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// Frame yields a new picture per call until the stall point or the end.
func (t *TestSource) Frame() (image.Image, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.playing && (t.stallAfter == 0 || t.frames < t.stallAfter) && !t.ended() {
		t.frames++
	}
	if t.frames == 0 {
		return nil, 0
	}
	return t.img, t.frames
}

// ReadAudio generates n samples of the tone.
func (t *TestSource) ReadAudio(n int) [][]float32 {
	out := Silence(t.channels, n)
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing || t.tone == 0 || t.sampleRate <= 0 {
		return out
	}
	step := 2 * math.Pi * t.tone / float64(t.sampleRate)
	for i := 0; i < n; i++ {
		v := float32(t.amp * math.Sin(t.phase))
		for c := range out {
			out[c][i] = v
		}
		t.phase = math.Mod(t.phase+step, 2*math.Pi)
	}
	return out
}

func (t *TestSource) Play() {
	t.mu.Lock()
	t.playing = true
	t.mu.Unlock()
}

// Pause rewinds a finite source so the next Play starts over.
func (t *TestSource) Pause() {
	t.mu.Lock()
	t.playing = false
	t.phase = 0
	if t.length > 0 {
		t.frames = 0
	}
	t.mu.Unlock()
}

func (t *TestSource) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended()
}

func (t *TestSource) ended() bool { return t.length > 0 && t.frames >= t.length }

// Playing reports whether the source is producing.
func (t *TestSource) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

func (t *TestSource) Close() error {
	t.Pause()
	return nil
}
