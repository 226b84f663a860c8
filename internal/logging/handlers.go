package logging

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

const syslogIdentifier = "compositor"

// fanout forwards records to every handler that accepts the level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// attrState is the WithAttrs/WithGroup state shared by the custom handlers.
type attrState struct {
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func (s attrState) withAttrs(attrs []slog.Attr) attrState {
	prefixed := attrs
	if len(s.groups) > 0 {
		prefixed = []slog.Attr{{Key: strings.Join(s.groups, "."), Value: slog.GroupValue(attrs...)}}
	}
	s.attrs = append(slices.Clip(s.attrs), prefixed...)
	return s
}

func (s attrState) withGroup(name string) attrState {
	if name == "" {
		return s
	}
	s.groups = append(slices.Clip(s.groups), name)
	return s
}

// journalHandler writes records to the systemd journal with upper-cased
// structured fields (MODULE=source, SOURCE_ID=...).
type journalHandler struct{ attrState }

func journalEnabled() bool { return journal.Enabled() }

func newJournalHandler(level slog.Leveler) slog.Handler {
	return &journalHandler{attrState{level: level}}
}

func (h *journalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *journalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := map[string]string{"SYSLOG_IDENTIFIER": syslogIdentifier}
	for _, a := range h.attrs {
		journalField(fields, a, nil)
	}
	r.Attrs(func(a slog.Attr) bool {
		journalField(fields, a, h.groups)
		return true
	})
	return journal.Send(r.Message, journalPriority(r.Level), fields)
}

func (h *journalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &journalHandler{h.withAttrs(attrs)}
}

func (h *journalHandler) WithGroup(name string) slog.Handler {
	return &journalHandler{h.withGroup(name)}
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalField flattens an attribute. Journal field names allow only
// upper-case letters, digits and underscores.
func journalField(fields map[string]string, a slog.Attr, groups []string) {
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, "_") + "_" + key
	}
	key = strings.ToUpper(strings.NewReplacer(".", "_", "-", "_", "/", "_").Replace(key))

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		next := append(slices.Clone(groups), a.Key)
		for _, ga := range v.Group() {
			journalField(fields, ga, next)
		}
	case slog.KindInt64:
		fields[key] = strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		fields[key] = strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		fields[key] = strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		fields[key] = strconv.FormatBool(v.Bool())
	case slog.KindTime:
		fields[key] = v.Time().Format(time.RFC3339Nano)
	default:
		fields[key] = v.String()
	}
}

// historyHandler stores records in a History and notifies the entry callback.
type historyHandler struct {
	attrState
	history *History
}

func newHistoryHandler(history *History, level slog.Leveler) slog.Handler {
	return &historyHandler{attrState: attrState{level: level}, history: history}
}

func (h *historyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *historyHandler) Handle(_ context.Context, r slog.Record) error {
	entry := Entry{
		Time:    r.Time,
		Level:   levelName(r.Level),
		Module:  "app",
		Message: r.Message,
	}
	attrs := make(map[string]any)
	collect := func(a slog.Attr, groups []string) {
		if a.Key == "module" && len(groups) == 0 {
			entry.Module = a.Value.String()
			return
		}
		flatten(attrs, groups, a)
	}
	for _, a := range h.attrs {
		collect(a, nil)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(a, h.groups)
		return true
	})
	if len(attrs) > 0 {
		entry.Attributes = attrs
	}

	entry = h.history.Append(entry)
	if cb := entryCallback(); cb != nil {
		cb(entry)
	}
	return nil
}

func (h *historyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &historyHandler{attrState: h.withAttrs(attrs), history: h.history}
}

func (h *historyHandler) WithGroup(name string) slog.Handler {
	return &historyHandler{attrState: h.withGroup(name), history: h.history}
}

func flatten(attrs map[string]any, groups []string, a slog.Attr) {
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		next := append(slices.Clone(groups), a.Key)
		for _, ga := range v.Group() {
			flatten(attrs, next, ga)
		}
	case slog.KindTime:
		attrs[key] = v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		attrs[key] = v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			attrs[key] = err.Error()
		} else {
			attrs[key] = fmt.Sprint(v.Any())
		}
	default:
		attrs[key] = v.Any()
	}
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
