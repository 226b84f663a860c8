package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

const historySize = 2000

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

var (
	mu          sync.RWMutex
	config      = Config{Level: "info", Format: "text"}
	initialized bool
	loggers     = make(map[string]*slog.Logger)
	levels      = make(map[string]*slog.LevelVar)
	rootLevel   = &slog.LevelVar{}
	history     = NewHistory(historySize)
	onEntry     func(Entry)
)

// Initialize configures levels and output format. Loggers handed out before
// Initialize are rebuilt so they pick up the new handler chain.
func Initialize(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	config = cfg
	initialized = true
	rootLevel.Set(levelOrDefault(cfg.Level, slog.LevelInfo))

	for module, lv := range levels {
		lv.Set(moduleLevel(module))
		loggers[module] = slog.New(newHandler(cfg.Format, lv)).With("module", module)
	}

	slog.SetDefault(slog.New(newHandler(cfg.Format, rootLevel)))
}

// GetLogger returns the logger for a module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	logger, ok := loggers[module]
	mu.RUnlock()
	if ok {
		return logger
	}

	mu.Lock()
	defer mu.Unlock()
	if logger, ok = loggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	lv.Set(moduleLevel(module))
	format := "text"
	if initialized {
		format = config.Format
	}

	logger = slog.New(newHandler(format, lv)).With("module", module)
	loggers[module] = logger
	levels[module] = lv
	return logger
}

// SetLevel changes a module's level at runtime. An empty module changes the
// default logger.
func SetLevel(module, level string) bool {
	parsed, ok := parseLevel(level)
	if !ok {
		return false
	}

	mu.Lock()
	defer mu.Unlock()
	if module == "" {
		rootLevel.Set(parsed)
		return true
	}
	lv, exists := levels[module]
	if !exists {
		return false
	}
	lv.Set(parsed)
	return true
}

// Recent returns the in-memory log history.
func Recent() *History {
	return history
}

// OnEntry registers a callback invoked for each log entry that passes the
// module's level. Only one callback is kept.
func OnEntry(fn func(Entry)) {
	mu.Lock()
	onEntry = fn
	mu.Unlock()
}

func entryCallback() func(Entry) {
	mu.RLock()
	defer mu.RUnlock()
	return onEntry
}

// moduleLevel must be called with mu held.
func moduleLevel(module string) slog.Level {
	if !initialized {
		return slog.LevelInfo
	}
	if s, ok := config.Modules[module]; ok {
		if l, valid := parseLevel(s); valid {
			return l
		}
	}
	return levelOrDefault(config.Level, slog.LevelInfo)
}

// newHandler builds stdout + journal + history fan-out for one level.
func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if stdoutUsable() {
		if format == "json" {
			handlers = append(handlers, slog.NewJSONHandler(os.Stdout, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stdout, opts))
		}
	}
	if journalEnabled() {
		handlers = append(handlers, newJournalHandler(level))
	}
	handlers = append(handlers, newHistoryHandler(history, level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return fanout(handlers)
}

// stdoutUsable reports false when stdout is /dev/null or closed.
func stdoutUsable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&os.ModeCharDevice != 0 || mode&os.ModeNamedPipe != 0 || mode&os.ModeSocket != 0 || mode.IsRegular()
}

func levelOrDefault(s string, def slog.Level) slog.Level {
	if l, ok := parseLevel(s); ok {
		return l
	}
	return def
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "fatal":
		return slog.LevelError, true
	}
	return 0, false
}
