package ffmpeg

import (
	"log/slog"
	"strings"
)

// ffmpeg -loglevel names mapped onto slog. Verbose levels go to debug.
var logLevels = map[string]slog.Level{
	"quiet":   slog.LevelDebug,
	"panic":   slog.LevelError,
	"fatal":   slog.LevelError,
	"error":   slog.LevelError,
	"warning": slog.LevelWarn,
	"info":    slog.LevelInfo,
	"verbose": slog.LevelDebug,
	"debug":   slog.LevelDebug,
	"trace":   slog.LevelDebug,
}

// ParseLogLine classifies a line of ffmpeg stderr written with
// "-loglevel level+...". Lines look like "[error] msg" or
// "[flv @ 0x55d1] [warning] msg"; the level tag is removed and a component
// tag is kept. Progress lines ("frame=" / "size=") are logged at debug so a
// running encoder does not flood the info log.
func ParseLogLine(line string) (slog.Level, string) {
	if strings.HasPrefix(line, "frame=") || strings.HasPrefix(line, "size=") {
		return slog.LevelDebug, line
	}

	var component string
	rest := line
	for range 2 {
		tag, after, ok := cutTag(rest)
		if !ok {
			break
		}
		if level, known := logLevels[tag]; known {
			return level, component + after
		}
		if component != "" {
			break
		}
		component = rest[:len(rest)-len(after)]
		rest = after
	}
	return slog.LevelInfo, line
}

// cutTag splits "[tag] rest" into tag and rest.
func cutTag(s string) (tag, rest string, ok bool) {
	if !strings.HasPrefix(s, "[") {
		return "", s, false
	}
	end := strings.Index(s, "] ")
	if end < 0 {
		return "", s, false
	}
	return s[1:end], s[end+2:], true
}
