package logging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func resetLogging() {
	mu.Lock()
	loggers = make(map[string]*slog.Logger)
	levels = make(map[string]*slog.LevelVar)
	initialized = false
	onEntry = nil
	mu.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetLogging()
	Initialize(Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"source": "debug", "api": "warn"},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"source", true, true, true},
		{"api", false, false, true},
		{"output", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			h := GetLogger(tt.module).Handler()
			ctx := context.Background()
			if got := h.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := h.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := h.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestLoggerCreatedBeforeInitialize(t *testing.T) {
	resetLogging()
	early := GetLogger("engine")
	if early.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected info default before Initialize")
	}

	Initialize(Config{Level: "debug"})
	if !GetLogger("engine").Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug after Initialize")
	}
}

func TestSetLevel(t *testing.T) {
	resetLogging()
	Initialize(Config{Level: "info"})
	logger := GetLogger("display")

	if !SetLevel("display", "error") {
		t.Fatal("SetLevel returned false")
	}
	if logger.Handler().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be disabled after raising level to error")
	}
	if SetLevel("display", "loud") {
		t.Error("invalid level accepted")
	}
	if SetLevel("missing", "debug") {
		t.Error("unknown module accepted")
	}
}

func TestHistoryCapturesModuleAndAttrs(t *testing.T) {
	resetLogging()
	Initialize(Config{Level: "info"})

	var got []Entry
	OnEntry(func(e Entry) { got = append(got, e) })
	defer OnEntry(nil)

	logger := GetLogger("output").With("output_id", "out1")
	logger.Warn("publish failed", "error", errors.New("connection refused"), "attempt", 3)

	if len(got) != 1 {
		t.Fatalf("expected 1 callback, got %d", len(got))
	}
	e := got[0]
	if e.Module != "output" || e.Level != "warn" || e.Message != "publish failed" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.Attributes["output_id"] != "out1" {
		t.Errorf("output_id = %v", e.Attributes["output_id"])
	}
	if e.Attributes["error"] != "connection refused" {
		t.Errorf("error attr = %v", e.Attributes["error"])
	}
	if !strings.Contains(e.String(), "[WARN] [output] publish failed") {
		t.Errorf("String() = %q", e.String())
	}
}

func TestHistoryWrapAndSince(t *testing.T) {
	h := NewHistory(3)
	for i := range 5 {
		h.Append(Entry{Message: string(rune('a' + i))})
	}

	if h.Len() != 3 {
		t.Fatalf("Len = %d, want 3", h.Len())
	}

	all := h.Since(0)
	if len(all) != 3 || all[0].Message != "c" || all[2].Message != "e" {
		t.Fatalf("Since(0) = %+v", all)
	}
	if all[0].Seq != 3 || all[2].Seq != 5 {
		t.Errorf("unexpected seqs %d..%d", all[0].Seq, all[2].Seq)
	}

	tail := h.Since(4)
	if len(tail) != 1 || tail[0].Message != "e" {
		t.Errorf("Since(4) = %+v", tail)
	}
	if h.Since(5) != nil {
		t.Error("Since(latest) should be empty")
	}
}
