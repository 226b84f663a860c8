package input

import (
	"context"
	"image"
	"log/slog"
	"net/http"
	"sync"

	"github.com/smazurov/compositor/internal/render"
	"github.com/smazurov/compositor/internal/settings"
)

// ImageSource shows a still picture loaded in the background.
type ImageSource struct {
	mu       sync.Mutex
	img      image.Image
	frames   uint64
	channels int
	cancel   context.CancelFunc
	done     chan struct{}
}

// OpenImage starts loading src.URL (a path, file:// or http(s) URL).
func OpenImage(ctx context.Context, client *http.Client, src settings.Source, format Format, logger *slog.Logger) (*ImageSource, error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	channels := format.Audio.Channels
	if channels <= 0 {
		channels = 2
	}
	s := &ImageSource{channels: channels, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		img, err := render.LoadImage(ctx, client, src.URL)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("Failed to load image source", "url", src.URL, "error", err)
			}
			return
		}
		s.mu.Lock()
		s.img = img
		s.mu.Unlock()
	}()
	return s, nil
}

// Frame returns the picture; every pull counts as a fresh frame once loaded.
func (s *ImageSource) Frame() (image.Image, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.img == nil {
		return nil, 0
	}
	s.frames++
	return s.img, s.frames
}

func (s *ImageSource) ReadAudio(n int) [][]float32 { return Silence(s.channels, n) }
func (s *ImageSource) Play()                       {}
func (s *ImageSource) Pause()                      {}
func (s *ImageSource) Ended() bool                 { return false }

func (s *ImageSource) Close() error {
	s.cancel()
	<-s.done
	return nil
}
