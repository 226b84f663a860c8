// Package input opens the media behind a source: decoded pictures are pulled
// by the compositor once per tick and audio is drained one video frame's
// worth of samples at a time.
package input

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/smazurov/compositor/internal/settings"
)

// Format is the raster and sample format the engine composes in.
type Format struct {
	Video settings.Video
	Audio settings.Audio
}

// Input is an opened source.
type Input interface {
	// Frame returns the latest decoded picture and the number of pictures
	// decoded so far. The picture is nil until the first one arrives and
	// must not be modified.
	Frame() (image.Image, uint64)
	// ReadAudio removes up to n samples per channel from the input buffer.
	// Missing samples are silence, so the result always holds n samples.
	ReadAudio(n int) [][]float32
	// Play starts or resumes playback.
	Play()
	// Pause stops playback and rewinds to the start.
	Pause()
	// Ended reports whether a media file played through to its end. A
	// finished input produces no pictures but is not stalled. Play and
	// Pause clear it.
	Ended() bool
	Close() error
}

// Opener opens inputs for sources.
type Opener interface {
	Open(ctx context.Context, src settings.Source, format Format) (Input, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, src settings.Source, format Format) (Input, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, src settings.Source, format Format) (Input, error) {
	return f(ctx, src, format)
}

// TestScheme selects the synthetic input.
const TestScheme = "testsrc"

// Registry dispatches to a driver by source type and URL scheme.
type Registry struct {
	logger *slog.Logger
	client *http.Client

	// FFmpeg opens live and media sources. Replaced in tests.
	FFmpeg Opener
}

// NewRegistry creates a Registry with the ffmpeg, image and synthetic
// drivers.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{logger: logger, client: http.DefaultClient}
	r.FFmpeg = OpenerFunc(func(ctx context.Context, src settings.Source, format Format) (Input, error) {
		return OpenFFmpeg(ctx, src, format, logger)
	})
	return r
}

// Open implements Opener.
func (r *Registry) Open(ctx context.Context, src settings.Source, format Format) (Input, error) {
	if strings.HasPrefix(src.URL, TestScheme+"://") {
		return OpenTestSource(src, format)
	}
	if src.Type == settings.SourceImage {
		return OpenImage(ctx, r.client, src, format, r.logger)
	}
	if _, err := url.Parse(src.URL); err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", src.URL, err)
	}
	return r.FFmpeg.Open(ctx, src, format)
}
