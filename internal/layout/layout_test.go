package layout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/smazurov/compositor/internal/engine"
	"github.com/smazurov/compositor/internal/output"
	"github.com/smazurov/compositor/internal/settings"
)

const sample = `
version = 1
active = "main"
transition = "cut"

[audio]
master_volume = -3.0
mode = "standalone"

[[scenes]]
id = "main"

  [[scenes.sources]]
  id = "cam"
  type = "live"
  url = "testsrc://?color=ff0000"
  volume = -6.0

  [[scenes.sources]]
  id = "logo"
  type = "image"
  url = "testsrc://?color=ffffff"

[[scenes]]
id = "break"

  [[scenes.sources]]
  id = "loop"
  type = "media"
  url = "testsrc://?color=0000ff"
  looping = true
  start_on_active = true

[outputs.primary]
url = "rtmp://live.example.com/app/key"
video_bitrate_kbps = 3000
scene_id = "main"

[[overlays]]
id = "lower-third"
up = true

  [[overlays.items]]
  type = "text"
  content = "Hello"
  width = 40
  height = 12
  font_size = 10
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type discardSink struct{}

func (discardSink) Open(context.Context, output.SinkConfig) error { return nil }
func (discardSink) Write(output.Packet) error                     { return nil }
func (discardSink) Close() error                                  { return nil }

func startEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New(engine.Options{
		Clock:  engine.NewManualClock(time.Now()),
		Sinks:  func(string) output.Sink { return discardSink{} },
		Logger: quietLogger(),
	})
	err := e.Startup(context.Background(), settings.Settings{
		Video: settings.Video{BaseWidth: 64, BaseHeight: 36, FPSNum: 25, FPSDen: 1},
		Audio: settings.Audio{SampleRate: 48000},
	})
	if err != nil {
		t.Fatalf("Startup: %v", err)
	}
	t.Cleanup(func() { e.Shutdown(context.Background()) })
	return e
}

func mustParse(t *testing.T, data string) Layout {
	t.Helper()
	l, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := l.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return l
}

func TestParse(t *testing.T) {
	l := mustParse(t, sample)

	if l.Active != "main" || l.Audio.Mode != settings.AudioStandalone || l.Audio.MasterVolume != -3 {
		t.Errorf("header = %+v", l)
	}
	if len(l.Scenes) != 2 || len(l.Scenes[0].Sources) != 2 {
		t.Fatalf("scenes = %+v", l.Scenes)
	}
	cam := l.Scenes[0].Sources[0]
	if cam.ID != "cam" || cam.Type != settings.SourceLive || cam.Volume != -6 {
		t.Errorf("cam = %+v", cam)
	}
	if loop := l.Scenes[1].Sources[0]; !loop.Looping || !loop.StartOnActive {
		t.Errorf("loop = %+v", loop)
	}
	out := l.Outputs["primary"]
	if out.VideoBitrateKbps != 3000 || out.KeyintSec != 2 || out.SceneID != "main" {
		t.Errorf("output = %+v", out)
	}
	if len(l.Overlays) != 1 || !l.Overlays[0].Up || l.Overlays[0].Items[0].ColorABGR != "ffffffff" {
		t.Errorf("overlays = %+v", l.Overlays)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	l := New()
	l.Active = "missing"
	l.Scenes = []Scene{
		{ID: "a", Sources: []Source{{ID: "x", Source: settings.Source{Type: "webcam", URL: "/dev/video0"}}}},
		{ID: "a"},
	}
	l.Outputs["o"] = settings.Output{URL: "rtmp://x/y", SceneID: "nope"}
	l.Normalize()

	err := l.Validate()
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("expected multierror, got %v", err)
	}
	if len(merr.Errors) != 4 {
		t.Errorf("got %d errors: %v", len(merr.Errors), err)
	}
	for _, want := range []string{"duplicate id", "webcam", "unknown scene", "active scene"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "layout.toml")

	s := NewStore(path)
	if err := s.Load(); err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if l := s.Layout(); len(l.Scenes) != 0 || l.Version != CurrentVersion {
		t.Errorf("empty layout = %+v", l)
	}

	if err := s.Set(mustParse(t, sample)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not written: %v", err)
	}

	reloaded := NewStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	l := reloaded.Layout()
	if len(l.Scenes) != 2 || l.Scenes[0].Sources[0].URL != "testsrc://?color=ff0000" || l.Outputs["primary"].VideoBitrateKbps != 3000 {
		t.Errorf("reloaded = %+v", l)
	}

	bad := l
	bad.Active = "nowhere"
	if err := reloaded.Set(bad); err == nil {
		t.Error("invalid layout stored")
	}
	if reloaded.Layout().Active != "main" {
		t.Error("failed Set changed the stored layout")
	}
}

func TestApplyReconciles(t *testing.T) {
	e := startEngine(t)
	ctx := context.Background()

	l := mustParse(t, sample)
	if err := Apply(ctx, e, l, quietLogger()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if active, _ := e.ActiveScene(); active != "main" {
		t.Errorf("active = %q", active)
	}
	mix, _ := e.GetAudio()
	if mix.Mode != settings.AudioStandalone || mix.MasterVolume != -3 {
		t.Errorf("audio = %+v", mix)
	}
	sources, _ := e.ListSources("main")
	if len(sources) != 2 || sources[0].SourceID != "cam" || sources[1].SourceID != "logo" {
		t.Errorf("main sources = %+v", sources)
	}
	overlays, _ := e.GetOverlays()
	if len(overlays) != 1 || overlays[0].Status != engine.OverlayUp {
		t.Errorf("overlays = %+v", overlays)
	}
	if _, err := e.GetOutput("primary"); err != nil {
		t.Errorf("output: %v", err)
	}

	// Second pass: change, drop and add entries.
	l.Scenes[0].Sources = l.Scenes[0].Sources[:1]
	l.Scenes[0].Sources[0].Volume = -12
	l.Scenes = append(l.Scenes, Scene{ID: "extra"})
	l.Active = "extra"
	o := l.Outputs["primary"]
	o.VideoBitrateKbps = 4500
	l.Outputs["primary"] = o
	l.Outputs["backup"] = settings.Output{URL: "rtmp://backup.example.com/app/key"}
	l.Overlays[0].Up = false

	if err := Apply(ctx, e, l, quietLogger()); err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	sources, _ = e.ListSources("main")
	if len(sources) != 1 || sources[0].Settings.Volume != -12 {
		t.Errorf("main sources after change = %+v", sources)
	}
	if active, _ := e.ActiveScene(); active != "extra" {
		t.Errorf("active = %q", active)
	}
	outputs, _ := e.ListOutputs()
	if len(outputs) != 2 {
		t.Fatalf("outputs = %+v", outputs)
	}
	if info, _ := e.GetOutput("primary"); info.Requested.VideoBitrateKbps != 4500 || !info.Pending {
		t.Errorf("primary update not requested: %+v", info)
	}
	overlays, _ = e.GetOverlays()
	if overlays[0].Status != engine.OverlayDown {
		t.Errorf("overlay still up")
	}

	// Dropping everything empties the engine.
	empty := New()
	if err := Apply(ctx, e, empty, quietLogger()); err != nil {
		t.Fatalf("empty Apply: %v", err)
	}
	scenes, _ := e.ListScenes()
	outputs, _ = e.ListOutputs()
	overlays, _ = e.GetOverlays()
	if len(scenes) != 0 || len(outputs) != 0 || len(overlays) != 0 {
		t.Errorf("left over: %d scenes, %d outputs, %d overlays", len(scenes), len(outputs), len(overlays))
	}
}

func TestApplyContinuesPastFailures(t *testing.T) {
	e := startEngine(t)
	l := New()
	l.Scenes = []Scene{
		{ID: "broken", Sources: []Source{{ID: "bad", Source: settings.Source{Type: settings.SourceLive, URL: "testsrc://?color=zz"}}}},
		{ID: "fine", Sources: []Source{{ID: "ok", Source: settings.Source{Type: settings.SourceLive, URL: "testsrc://"}}}},
	}
	l.Normalize()

	err := Apply(context.Background(), e, l, quietLogger())
	if err == nil || !strings.Contains(err.Error(), "add source broken/bad") {
		t.Fatalf("expected add source failure, got %v", err)
	}
	if !errors.Is(err, engine.ErrInvalidSettings) {
		t.Errorf("failure should carry the engine error: %v", err)
	}
	if _, err := e.GetSource("fine", "ok"); err != nil {
		t.Errorf("later source not applied: %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	e := startEngine(t)
	if err := Apply(context.Background(), e, mustParse(t, sample), quietLogger()); err != nil {
		t.Fatal(err)
	}
	l, err := Snapshot(e)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := l.Validate(); err != nil {
		t.Fatalf("snapshot invalid: %v", err)
	}
	if l.Active != "main" || len(l.Scenes) != 2 || len(l.Outputs) != 1 || len(l.Overlays) != 1 || !l.Overlays[0].Up {
		t.Errorf("snapshot = %+v", l)
	}

	// Applying a snapshot back is a no-op.
	if err := Apply(context.Background(), e, l, quietLogger()); err != nil {
		t.Errorf("re-apply: %v", err)
	}
	sources, _ := e.ListSources("main")
	for _, s := range sources {
		if s.State == engine.SourceRestarting {
			t.Errorf("source %s re-opened by a no-op apply", s.SourceID)
		}
	}
}

func TestWatchAppliesChanges(t *testing.T) {
	e := startEngine(t)
	path := filepath.Join(t.TempDir(), "layout.toml")
	if err := os.WriteFile(path, []byte(`[[scenes]]
id = "one"
`), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := Watch(context.Background(), path, e, 50*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte(`active = "two"
[[scenes]]
id = "two"
`), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if active, _ := e.ActiveScene(); active == "two" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("layout change not applied")
}
