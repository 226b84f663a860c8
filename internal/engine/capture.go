package engine

import (
	"context"
	"fmt"

	"github.com/smazurov/compositor/internal/render"
)

var errCaptureCanceled = fmt.Errorf("screenshot canceled: %w", context.Canceled)

type captureResult struct {
	data []byte
	err  error
}

type capture struct {
	ctx    context.Context
	key    render.SourceKey
	result chan captureResult
}

// Screenshot returns the next composed picture of a source as PNG. The
// capture is taken at the next frame that has a picture for the source and
// encoded off the compositor goroutine.
func (e *Engine) Screenshot(ctx context.Context, sceneID, sourceID string) ([]byte, error) {
	c := &capture{
		ctx:    ctx,
		key:    render.SourceKey{SceneID: sceneID, SourceID: sourceID},
		result: make(chan captureResult, 1),
	}
	if err := e.do(func(rt *runtime) error {
		if _, err := rt.source(sceneID, sourceID); err != nil {
			return err
		}
		rt.captures = append(rt.captures, c)
		return nil
	}); err != nil {
		return nil, err
	}

	select {
	case r := <-c.result:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// serveCaptures hands pending captures whose source has a picture in f to
// encoder goroutines.
func (rt *runtime) serveCaptures(f *render.Frame) {
	if len(rt.captures) == 0 {
		return
	}
	pending := rt.captures[:0]
	for _, c := range rt.captures {
		if c.ctx.Err() != nil {
			rt.e.opts.Metrics.ScreenshotTaken("canceled")
			continue
		}
		img := f.Sources[c.key]
		if img == nil {
			pending = append(pending, c)
			continue
		}
		go func() {
			data, err := render.EncodePNG(img)
			result := "ok"
			if err != nil {
				result = "error"
				err = fmt.Errorf("encode screenshot of %s: %w", c.key, err)
			}
			rt.e.opts.Metrics.ScreenshotTaken(result)
			c.result <- captureResult{data: data, err: err}
		}()
	}
	clear(rt.captures[len(pending):])
	rt.captures = pending
}

// cancelCaptures fails pending captures whose key matches.
func (rt *runtime) cancelCaptures(err error, match func(render.SourceKey) bool) {
	pending := rt.captures[:0]
	for _, c := range rt.captures {
		if match(c.key) {
			rt.e.opts.Metrics.ScreenshotTaken("canceled")
			c.result <- captureResult{err: err}
			continue
		}
		pending = append(pending, c)
	}
	clear(rt.captures[len(pending):])
	rt.captures = pending
}
