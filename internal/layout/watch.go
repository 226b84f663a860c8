package layout

import (
	"context"
	"log/slog"
	"time"

	"github.com/smazurov/compositor/internal/config"
)

// Watch applies the layout file to e every time it changes. Invalid files
// are logged and skipped. Stop the returned watcher to end watching.
func Watch(ctx context.Context, path string, e Engine, debounce time.Duration, logger *slog.Logger) (*config.Watcher[Layout], error) {
	opts := []config.WatcherOption[Layout]{
		config.WithErrorHandler[Layout](func(err error) {
			logger.Error("Layout file rejected", "path", path, "error", err)
		}),
	}
	if debounce > 0 {
		opts = append(opts, config.WithDebounce[Layout](debounce))
	}
	w := config.NewConfigWatcher(path, Load, logger, opts...)
	w.OnReload(func(l Layout) {
		if err := Apply(ctx, e, l, logger); err != nil {
			logger.Warn("Layout reload partially applied", "path", path, "error", err)
		}
	})
	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, nil
}
