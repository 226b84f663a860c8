package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/compositor/internal/encoders"
	"github.com/smazurov/compositor/internal/engine"
	"github.com/smazurov/compositor/internal/layout"
	"github.com/smazurov/compositor/internal/logging"
	"github.com/smazurov/compositor/internal/metrics"
	"github.com/smazurov/compositor/internal/output"
)

const (
	testUser = "admin"
	testPass = "secret"
)

type nopSink struct{}

func (nopSink) Open(context.Context, output.SinkConfig) error { return nil }
func (nopSink) Write(output.Packet) error                     { return nil }
func (nopSink) Close() error                                  { return nil }

type testServer struct {
	*httptest.Server
	engine *engine.Engine
	store  *layout.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	m := metrics.New()
	e := engine.New(engine.Options{
		Sinks:   func(string) output.Sink { return nopSink{} },
		Metrics: m,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	store := layout.NewStore(t.TempDir() + "/layout.toml")
	server := NewServer(&Options{
		AuthUsername: testUser,
		AuthPassword: testPass,
		Engine:       e,
		Layout:       store,
		Encoders: encoders.NewStaticDetector(&encoders.EncoderList{VideoEncoders: []encoders.Encoder{
			{Type: encoders.VideoEncoder, Name: "libx264", Description: "H.264"},
			{Type: encoders.VideoEncoder, Name: "h264_vaapi", Description: "H.264 VAAPI", HWAccel: true},
		}}),
		PrometheusHandler: m.Handler(),
	})
	ts := &testServer{Server: httptest.NewServer(server.Handler()), engine: e, store: store}
	t.Cleanup(func() {
		ts.Close()
		e.Shutdown(context.Background())
	})
	return ts
}

func (ts *testServer) call(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	contentType := "application/json"
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
		contentType = "application/toml"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.SetBasicAuth(testUser, testPass)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func (ts *testServer) expect(t *testing.T, method, path string, body any, want int) []byte {
	t.Helper()
	status, data := ts.call(t, method, path, body)
	if status != want {
		t.Fatalf("%s %s = %d, want %d: %s", method, path, status, want, data)
	}
	return data
}

func (ts *testServer) start(t *testing.T) {
	t.Helper()
	ts.expect(t, http.MethodPost, "/api/engine/startup", map[string]any{
		"baseWidth": 64, "baseHeight": 36, "fpsNum": 25, "sampleRate": 48000,
	}, http.StatusCreated)
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health without auth = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/scenes")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized || resp.Header.Get("WWW-Authenticate") == "" {
		t.Errorf("scenes without auth = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/scenes", nil)
	req.SetBasicAuth(testUser, "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password = %d", resp.StatusCode)
	}

	// Authenticated but the engine is not running.
	ts.expect(t, http.MethodGet, "/api/scenes", nil, http.StatusServiceUnavailable)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/scenes", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", resp.StatusCode, resp.Header)
	}
}

func TestEngineLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.start(t)

	status, _ := ts.call(t, http.MethodPost, "/api/engine/startup", map[string]any{
		"baseWidth": 64, "baseHeight": 36, "fpsNum": 25, "sampleRate": 48000,
	})
	if status != http.StatusConflict {
		t.Errorf("second startup = %d", status)
	}

	data := ts.expect(t, http.MethodGet, "/api/engine", nil, http.StatusOK)
	got := decode[struct {
		Running  bool `json:"running"`
		Settings struct {
			Video struct {
				OutputWidth int `json:"outputWidth"`
			} `json:"video"`
		} `json:"settings"`
	}](t, data)
	if !got.Running || got.Settings.Video.OutputWidth != 64 {
		t.Errorf("engine = %s", data)
	}

	ts.expect(t, http.MethodPost, "/api/engine/shutdown", nil, http.StatusNoContent)
	ts.expect(t, http.MethodPost, "/api/engine/shutdown", nil, http.StatusNoContent)

	status, _ = ts.call(t, http.MethodPost, "/api/engine/startup", map[string]any{
		"baseWidth": 63, "baseHeight": 36, "fpsNum": 25, "sampleRate": 48000,
	})
	if status != http.StatusUnprocessableEntity {
		t.Errorf("odd width startup = %d", status)
	}
}

func TestScenesAndSources(t *testing.T) {
	ts := newTestServer(t)
	ts.start(t)

	ts.expect(t, http.MethodPost, "/api/scenes", map[string]any{"id": "main"}, http.StatusCreated)
	ts.expect(t, http.MethodPost, "/api/scenes", map[string]any{"id": "main"}, http.StatusConflict)

	data := ts.expect(t, http.MethodPost, "/api/scenes/main/sources", map[string]any{
		"id": "cam", "type": "live", "url": "testsrc://?color=ff0000", "volume": -6,
	}, http.StatusCreated)
	src := decode[engine.SourceInfo](t, data)
	if src.SourceID != "cam" || src.Settings.Volume != -6 {
		t.Errorf("created source = %s", data)
	}

	ts.expect(t, http.MethodPost, "/api/scenes/nope/sources", map[string]any{
		"id": "cam", "type": "live", "url": "testsrc://",
	}, http.StatusNotFound)

	data = ts.expect(t, http.MethodPatch, "/api/scenes/main/sources/cam", map[string]any{"volume": -12}, http.StatusOK)
	src = decode[engine.SourceInfo](t, data)
	if src.Settings.Volume != -12 || src.Settings.URL != "testsrc://?color=ff0000" {
		t.Errorf("patched source = %s", data)
	}

	data = ts.expect(t, http.MethodGet, "/api/scenes/main/sources", nil, http.StatusOK)
	list := decode[struct {
		Count int `json:"count"`
	}](t, data)
	if list.Count != 1 {
		t.Errorf("sources = %s", data)
	}

	ts.expect(t, http.MethodPost, "/api/scenes/main/sources/cam/restart", nil, http.StatusAccepted)
	ts.expect(t, http.MethodDelete, "/api/scenes/main/sources/cam", nil, http.StatusNoContent)
	ts.expect(t, http.MethodGet, "/api/scenes/main/sources/cam", nil, http.StatusNotFound)
	ts.expect(t, http.MethodDelete, "/api/scenes/main", nil, http.StatusNoContent)
	ts.expect(t, http.MethodDelete, "/api/scenes/main", nil, http.StatusNotFound)
}

func TestSwitch(t *testing.T) {
	ts := newTestServer(t)
	ts.start(t)
	ts.expect(t, http.MethodPost, "/api/scenes", map[string]any{"id": "a"}, http.StatusCreated)

	data := ts.expect(t, http.MethodPost, "/api/switch", map[string]any{"sceneId": "a", "transition": "cut"}, http.StatusOK)
	p := decode[engine.ProgramInfo](t, data)
	if p.Active != "a" {
		t.Errorf("program = %s", data)
	}

	ts.expect(t, http.MethodPost, "/api/switch", map[string]any{"sceneId": "missing"}, http.StatusNotFound)
	ts.expect(t, http.MethodPost, "/api/switch", map[string]any{"sceneId": "a", "transition": "stinger"}, http.StatusUnprocessableEntity)
}

func TestOutputs(t *testing.T) {
	ts := newTestServer(t)
	ts.start(t)

	body := map[string]any{"id": "primary", "url": "rtmp://live.example.com/app/key", "videoBitrateKbps": 2500}
	data := ts.expect(t, http.MethodPost, "/api/outputs", body, http.StatusCreated)
	info := decode[output.Info](t, data)
	if info.ID != "primary" || info.Requested.VideoBitrateKbps != 2500 {
		t.Errorf("created output = %s", data)
	}
	ts.expect(t, http.MethodPost, "/api/outputs", body, http.StatusConflict)

	data = ts.expect(t, http.MethodPut, "/api/outputs/primary", map[string]any{
		"url": "rtmp://live.example.com/app/key", "videoBitrateKbps": 4000,
	}, http.StatusOK)
	if info = decode[output.Info](t, data); info.Requested.VideoBitrateKbps != 4000 {
		t.Errorf("updated output = %s", data)
	}

	ts.expect(t, http.MethodPost, "/api/outputs", map[string]any{
		"id": "scene-feed", "url": "rtmp://x/y", "sceneId": "missing",
	}, http.StatusNotFound)

	ts.expect(t, http.MethodDelete, "/api/outputs/primary", nil, http.StatusNoContent)
	ts.expect(t, http.MethodGet, "/api/outputs/primary", nil, http.StatusNotFound)
}

func TestOverlays(t *testing.T) {
	ts := newTestServer(t)
	ts.start(t)

	ts.expect(t, http.MethodPost, "/api/overlays", map[string]any{
		"id": "lt", "up": true,
		"items": []map[string]any{{"type": "text", "content": "Hello", "width": 40, "height": 12}},
	}, http.StatusCreated)

	data := ts.expect(t, http.MethodGet, "/api/overlays", nil, http.StatusOK)
	list := decode[struct {
		Overlays []engine.OverlayInfo `json:"overlays"`
	}](t, data)
	if len(list.Overlays) != 1 || list.Overlays[0].Status != engine.OverlayUp {
		t.Errorf("overlays = %s", data)
	}

	ts.expect(t, http.MethodPost, "/api/overlays/lt/down", nil, http.StatusNoContent)
	ts.expect(t, http.MethodPost, "/api/overlays/lt/down", nil, http.StatusNoContent)
	ts.expect(t, http.MethodDelete, "/api/overlays/lt", nil, http.StatusNoContent)
	ts.expect(t, http.MethodPost, "/api/overlays/lt/up", nil, http.StatusNotFound)
}

func TestAudio(t *testing.T) {
	ts := newTestServer(t)
	ts.start(t)

	data := ts.expect(t, http.MethodPatch, "/api/audio", map[string]any{"masterVolume": -3}, http.StatusOK)
	if !strings.Contains(string(data), `"masterVolume":-3`) {
		t.Errorf("audio = %s", data)
	}
	ts.expect(t, http.MethodPatch, "/api/audio", map[string]any{"mode": "surround"}, http.StatusUnprocessableEntity)
}

func TestScreenshotAndDisplayFrame(t *testing.T) {
	ts := newTestServer(t)
	ts.start(t)
	ts.expect(t, http.MethodPost, "/api/scenes", map[string]any{"id": "main"}, http.StatusCreated)
	ts.expect(t, http.MethodPost, "/api/scenes/main/sources", map[string]any{
		"id": "cam", "type": "live", "url": "testsrc://?color=00ff00",
	}, http.StatusCreated)

	data := ts.expect(t, http.MethodGet, "/api/screenshot/main/cam", nil, http.StatusOK)
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("screenshot is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 64 {
		t.Errorf("screenshot size %v", img.Bounds())
	}
	ts.expect(t, http.MethodGet, "/api/screenshot/main/nope", nil, http.StatusNotFound)

	data = ts.expect(t, http.MethodPost, "/api/displays", map[string]any{
		"name": "preview", "sourceIds": []string{"main"},
	}, http.StatusCreated)
	created := decode[engine.DisplayInfo](t, data)

	deadline := time.Now().Add(3 * time.Second)
	for {
		status, frame := ts.call(t, http.MethodGet, "/api/displays/preview/frame", nil)
		if status == http.StatusOK {
			if _, err := png.Decode(bytes.NewReader(frame)); err != nil {
				t.Fatalf("frame is not a PNG: %v", err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no display frame: %d %s", status, frame)
		}
		time.Sleep(20 * time.Millisecond)
	}

	data = ts.expect(t, http.MethodPut, "/api/displays/preview/geometry", map[string]any{
		"x": 5, "y": 5, "width": 16, "height": 9,
	}, http.StatusOK)
	if moved := decode[engine.DisplayInfo](t, data); moved.Handle != created.Handle || moved.Width != 16 {
		t.Errorf("moved display = %s", data)
	}

	ts.expect(t, http.MethodDelete, "/api/displays/preview", nil, http.StatusNoContent)
	ts.expect(t, http.MethodGet, "/api/displays/preview/frame", nil, http.StatusNotFound)
}

func TestLayoutRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	ts.start(t)

	ts.expect(t, http.MethodPut, "/api/layout", `
active = "main"

[[scenes]]
id = "main"

  [[scenes.sources]]
  id = "cam"
  type = "live"
  url = "testsrc://"
`, http.StatusOK)

	data := ts.expect(t, http.MethodGet, "/api/layout", nil, http.StatusOK)
	l := decode[layout.Layout](t, data)
	if l.Active != "main" || len(l.Scenes) != 1 || l.Scenes[0].Sources[0].ID != "cam" {
		t.Errorf("layout = %s", data)
	}

	ts.expect(t, http.MethodPut, "/api/layout", `active = "ghost"`, http.StatusUnprocessableEntity)
	ts.expect(t, http.MethodPut, "/api/layout", `[[scenes`, http.StatusBadRequest)

	ts.expect(t, http.MethodPost, "/api/layout/save", nil, http.StatusNoContent)
	saved := layout.NewStore(ts.store.Path())
	if err := saved.Load(); err != nil {
		t.Fatal(err)
	}
	if got := saved.Layout(); got.Active != "main" || len(got.Scenes) != 1 {
		t.Errorf("saved layout = %+v", got)
	}
}

func TestEncoders(t *testing.T) {
	ts := newTestServer(t)
	data := ts.expect(t, http.MethodGet, "/api/encoders?hwaccel=true", nil, http.StatusOK)
	got := decode[struct {
		VideoEncoders []encoders.Encoder `json:"video_encoders"`
		Hardware      encoders.Selection `json:"hardware"`
	}](t, data)
	if len(got.VideoEncoders) != 1 || got.Hardware.Encoder != "h264_vaapi" {
		t.Errorf("encoders = %s", data)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.start(t)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "compositor_") {
		t.Errorf("metrics = %d", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t)
	ts.start(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	req.SetBasicAuth(testUser, testPass)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type %q", ct)
	}

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	waitEvent := func(name string) {
		t.Helper()
		timeout := time.After(3 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %s", name)
				}
				if line == "event: "+name {
					return
				}
			case <-timeout:
				t.Fatalf("no %s event", name)
			}
		}
	}

	waitEvent("engine-state")
	ts.expect(t, http.MethodPost, "/api/scenes", map[string]any{"id": "a"}, http.StatusCreated)
	ts.expect(t, http.MethodPost, "/api/switch", map[string]any{"sceneId": "a"}, http.StatusOK)
	waitEvent("scene-switched")
}

func TestLogStream(t *testing.T) {
	ts := newTestServer(t)
	ForwardLogs(ts.engine.Bus())
	t.Cleanup(func() { logging.OnEntry(nil) })

	logger := logging.GetLogger("apitest")
	logger.Info("replayed-marker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/logs", nil)
	req.SetBasicAuth(testUser, testPass)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	lines := make(chan string, 256)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	waitData := func(marker string) {
		t.Helper()
		timeout := time.After(3 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %s", marker)
				}
				if strings.HasPrefix(line, "data: ") && strings.Contains(line, marker) {
					return
				}
			case <-timeout:
				t.Fatalf("no entry with %s", marker)
			}
		}
	}

	waitData("replayed-marker")
	logger.Info("live-marker")
	waitData("live-marker")
}
