package output

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/compositor/internal/events"
	"github.com/smazurov/compositor/internal/render"
	"github.com/smazurov/compositor/internal/settings"
)

var (
	testVideo = settings.Video{BaseWidth: 32, BaseHeight: 18, OutputWidth: 32, OutputHeight: 18, FPSNum: 25, FPSDen: 1}
	testAudio = settings.Audio{SampleRate: 48000, Channels: 2}
)

type session struct {
	cfg     SinkConfig
	packets []Packet
	closed  bool
}

// recorder is a SinkFactory whose sinks record every session.
type recorder struct {
	mu       sync.Mutex
	sessions []*session
	openErr  error
	writeErr error
	block    chan struct{}
}

func (r *recorder) factory(id string) Sink {
	return &recordingSink{r: r}
}

func (r *recorder) snapshot() []session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session, len(r.sessions))
	for i, s := range r.sessions {
		out[i] = *s
		out[i].packets = append([]Packet(nil), s.packets...)
	}
	return out
}

func (r *recorder) packetCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		n += len(s.packets)
	}
	return n
}

type recordingSink struct {
	r *recorder
	s *session
}

func (s *recordingSink) Open(_ context.Context, cfg SinkConfig) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if s.r.openErr != nil {
		return s.r.openErr
	}
	s.s = &session{cfg: cfg}
	s.r.sessions = append(s.r.sessions, s.s)
	return nil
}

func (s *recordingSink) Write(pkt Packet) error {
	if s.r.block != nil {
		<-s.r.block
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if s.r.writeErr != nil {
		return s.r.writeErr
	}
	s.s.packets = append(s.s.packets, pkt)
	return nil
}

func (s *recordingSink) Close() error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.s.closed = true
	return nil
}

func newTestManager(rec *recorder, bus *events.Bus) *Manager {
	return NewManager(Config{
		Video:     testVideo,
		Audio:     testAudio,
		Sinks:     rec.factory,
		Bus:       bus,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		QueueSize: 1024,
	})
}

func testOutput(kbps int) settings.Output {
	o := settings.Output{URL: "rtmp://live.example/app/key", VideoBitrateKbps: kbps, KeyintSec: 1}
	o.Normalize()
	return o
}

type frameSource struct {
	seq   uint64
	start time.Time
}

func (fs *frameSource) next() *render.Frame {
	n := fs.seq
	fs.seq++
	interval := testVideo.FrameInterval()
	img := render.Solid(color.RGBA{255, 0, 0, 255}, testVideo.BaseWidth, testVideo.BaseHeight)
	samples := testAudio.SamplesForFrame(testVideo, n)
	audio := [][]float32{make([]float32, samples), make([]float32, samples)}
	return &render.Frame{
		Seq:     n,
		PTS:     time.Duration(n) * interval,
		Time:    fs.start.Add(time.Duration(n) * interval),
		Width:   testVideo.BaseWidth,
		Height:  testVideo.BaseHeight,
		Program: render.FullCanvas(img, testVideo.BaseWidth, testVideo.BaseHeight),
		Audio:   audio,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBitrateChangeKeepsStreamContinuous(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(rec, nil)
	defer m.Shutdown(context.Background())

	if err := m.Add("main", testOutput(1000)); err != nil {
		t.Fatal(err)
	}
	fs := &frameSource{start: time.Unix(1000, 0)}

	// 45 frames at 1000 kbps, then ask for 2000 in the middle of a GOP
	for range 45 {
		m.Submit(fs.next())
	}
	waitFor(t, "first frames", func() bool { return rec.packetCount() == 45 })

	changed, err := m.Update("main", testOutput(2000))
	if err != nil || !changed {
		t.Fatalf("Update = %v, %v", changed, err)
	}
	for range 60 {
		m.Submit(fs.next())
	}
	waitFor(t, "all frames", func() bool { return rec.packetCount() == 105 })

	sessions := rec.snapshot()
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	if got := sessions[0].cfg.Output.VideoBitrateKbps; got != 1000 {
		t.Errorf("first session bitrate = %d", got)
	}
	if got := sessions[1].cfg.Output.VideoBitrateKbps; got != 2000 {
		t.Errorf("second session bitrate = %d", got)
	}
	if !sessions[0].closed {
		t.Error("first session not closed")
	}

	keyint := 25
	interval := testVideo.FrameInterval()
	var all []Packet
	for _, s := range sessions {
		if !s.packets[0].Keyframe {
			t.Error("session does not start with a keyframe")
		}
		if s.cfg.StartPTS != s.packets[0].PTS {
			t.Errorf("session StartPTS = %v, first packet %v", s.cfg.StartPTS, s.packets[0].PTS)
		}
		all = append(all, s.packets...)
	}

	sinceKey := 0
	for i, p := range all {
		if p.Index != uint64(i) || p.PTS != time.Duration(i)*interval {
			t.Fatalf("packet %d has index %d pts %v", i, p.Index, p.PTS)
		}
		if p.Keyframe {
			sinceKey = 0
		}
		sinceKey++
		if sinceKey > keyint {
			t.Fatalf("keyframe gap exceeds %d frames at packet %d", keyint, i)
		}
	}

	// applied at the first keyframe boundary after the request
	if first := sessions[1].packets[0].Index; first != 50 {
		t.Errorf("new settings applied at frame %d, want 50", first)
	}
}

func TestEqualUpdateIsNoop(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(rec, nil)
	defer m.Shutdown(context.Background())

	o := testOutput(1000)
	if err := m.Add("main", o); err != nil {
		t.Fatal(err)
	}
	changed, err := m.Update("main", o)
	if err != nil || changed {
		t.Errorf("Update with equal settings = %v, %v", changed, err)
	}
	info, _ := m.Get("main")
	if info.Pending {
		t.Error("equal update left a pending change")
	}

	if _, err := m.Update("missing", o); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update missing = %v", err)
	}
	if err := m.Add("main", o); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Add = %v", err)
	}
}

func TestDegradedOutputReconnectsWithBackoff(t *testing.T) {
	rec := &recorder{openErr: errors.New("connection refused")}
	bus := events.New()
	statuses := make(chan string, 64)
	unsubscribe := bus.Subscribe(func(e events.OutputStatusChangedEvent) { statuses <- e.Status })
	defer unsubscribe()

	m := newTestManager(rec, bus)
	defer m.Shutdown(context.Background())

	if err := m.Add("main", testOutput(1000)); err != nil {
		t.Fatalf("Add must not fail on connection errors: %v", err)
	}

	fs := &frameSource{start: time.Unix(1000, 0)}
	// 25 fps: the first attempt fails at frame 0, retries are due after
	// 1s (frame 25) and 2s more (frame 75)
	for range 100 {
		m.Submit(fs.next())
	}
	waitFor(t, "reconnect attempts", func() bool {
		info, _ := m.Get("main")
		return info.Reconnects == 2
	})

	info, _ := m.Get("main")
	if info.Status != StatusDegraded || info.Code != CodeConnectionDegraded {
		t.Errorf("info = %+v", info)
	}
	if info.Error != "connection refused" {
		t.Errorf("error = %q", info.Error)
	}

	rec.mu.Lock()
	rec.openErr = nil
	rec.mu.Unlock()

	// next retry is due 4s after frame 75
	for range 200 {
		m.Submit(fs.next())
	}
	waitFor(t, "live", func() bool {
		info, _ := m.Get("main")
		return info.Status == StatusLive
	})
	sessions := rec.snapshot()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if first := sessions[0].packets[0].Index; first != 175 {
		t.Errorf("reconnected at frame %d, want 175", first)
	}

	seen := map[string]bool{}
	timeout := time.After(time.Second)
	for !seen[string(StatusLive)] {
		select {
		case s := <-statuses:
			seen[s] = true
		case <-timeout:
			t.Fatalf("events seen = %v", seen)
		}
	}
	if !seen[string(StatusDegraded)] {
		t.Errorf("no degraded event, seen %v", seen)
	}
}

func TestWriteFailureDegrades(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(rec, nil)
	defer m.Shutdown(context.Background())

	if err := m.Add("main", testOutput(1000)); err != nil {
		t.Fatal(err)
	}
	fs := &frameSource{start: time.Unix(1000, 0)}
	m.Submit(fs.next())
	waitFor(t, "live", func() bool {
		info, _ := m.Get("main")
		return info.Status == StatusLive
	})

	rec.mu.Lock()
	rec.writeErr = errors.New("broken pipe")
	rec.mu.Unlock()
	m.Submit(fs.next())
	waitFor(t, "degraded", func() bool {
		info, _ := m.Get("main")
		return info.Status == StatusDegraded
	})
	if !rec.snapshot()[0].closed {
		t.Error("failed sink not closed")
	}
}

func TestLaggingWorkerDropsFrames(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	m := NewManager(Config{
		Video:     testVideo,
		Audio:     testAudio,
		Sinks:     rec.factory,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		QueueSize: 2,
	})

	if err := m.Add("slow", testOutput(1000)); err != nil {
		t.Fatal(err)
	}
	fs := &frameSource{start: time.Unix(1000, 0)}

	start := time.Now()
	for range 20 {
		m.Submit(fs.next())
	}
	if time.Since(start) > time.Second {
		t.Error("Submit blocked on a lagging worker")
	}

	info, _ := m.Get("slow")
	if info.FramesDropped == 0 {
		t.Error("expected dropped frames")
	}

	close(rec.block)
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestRemoveStopsWorker(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(rec, nil)

	if err := m.Add("main", testOutput(1000)); err != nil {
		t.Fatal(err)
	}
	fs := &frameSource{start: time.Unix(1000, 0)}
	m.Submit(fs.next())
	waitFor(t, "first packet", func() bool { return rec.packetCount() == 1 })

	if _, err := m.Update("main", testOutput(3000)); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove("main"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Get("main"); ok {
		t.Error("removed output still listed")
	}
	sessions := rec.snapshot()
	if len(sessions) != 1 || !sessions[0].closed {
		t.Errorf("sessions after remove = %+v", sessions)
	}
	if err := m.Remove("main"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove = %v", err)
	}
}

// stallingSink blocks in Write until closed, like an encoder that stopped
// reading its input while it waits on the network.
type stallingSink struct {
	writing chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func (s *stallingSink) Open(context.Context, SinkConfig) error { return nil }

func (s *stallingSink) Write(Packet) error {
	select {
	case s.writing <- struct{}{}:
	default:
	}
	<-s.closed
	return io.ErrClosedPipe
}

func (s *stallingSink) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func TestRemoveAbortsBlockedWrite(t *testing.T) {
	sinks := make(chan *stallingSink, 4)
	m := NewManager(Config{
		Video: testVideo,
		Audio: testAudio,
		Sinks: func(string) Sink {
			s := &stallingSink{writing: make(chan struct{}, 1), closed: make(chan struct{})}
			sinks <- s
			return s
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	if err := m.Add("stuck", testOutput(1000)); err != nil {
		t.Fatal(err)
	}
	fs := &frameSource{start: time.Unix(1000, 0)}
	for range 3 {
		m.Submit(fs.next())
	}
	sink := <-sinks
	select {
	case <-sink.writing:
	case <-time.After(3 * time.Second):
		t.Fatal("worker never wrote")
	}

	removed := make(chan error, 1)
	go func() { removed <- m.Remove("stuck") }()
	select {
	case err := <-removed:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Remove blocked behind a stalled Write")
	}
	select {
	case <-sink.closed:
	default:
		t.Error("sink not closed")
	}
}

func TestShutdownAbortsBlockedWrites(t *testing.T) {
	m := NewManager(Config{
		Video: testVideo,
		Audio: testAudio,
		Sinks: func(string) Sink {
			return &stallingSink{writing: make(chan struct{}, 1), closed: make(chan struct{})}
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	for _, id := range []string{"a", "b"} {
		if err := m.Add(id, testOutput(1000)); err != nil {
			t.Fatal(err)
		}
	}
	fs := &frameSource{start: time.Unix(1000, 0)}
	m.Submit(fs.next())
	waitFor(t, "both outputs writing", func() bool {
		infos := m.List()
		return len(infos) == 2 && infos[0].Status == StatusConnecting && infos[1].Status == StatusConnecting
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown = %v", err)
	}
	if n := len(m.List()); n != 0 {
		t.Errorf("%d outputs left after Shutdown", n)
	}
}

func TestBindingPicksFeed(t *testing.T) {
	red := render.Solid(color.RGBA{255, 0, 0, 255}, 4, 4)
	blue := render.Solid(color.RGBA{0, 0, 255, 255}, 4, 4)
	key := render.SourceKey{SceneID: "s1", SourceID: "cam"}
	f := &render.Frame{
		Width: 4, Height: 4,
		Program:     render.FullCanvas(red, 4, 4),
		Scenes:      map[string][]render.Layer{"s1": render.FullCanvas(blue, 4, 4)},
		Sources:     map[render.SourceKey]image.Image{key: blue},
		Audio:       [][]float32{{0.5}},
		SourceAudio: map[render.SourceKey][][]float32{key: {{0.25}}},
	}

	layers, audio := pick(f, settings.Binding{})
	if layers[0].Image != red || audio[0][0] != 0.5 {
		t.Error("global binding should take the program")
	}
	layers, _ = pick(f, settings.Binding{SceneID: "s1"})
	if layers[0].Image != blue {
		t.Error("scene binding should take the scene composition")
	}
	layers, audio = pick(f, settings.Binding{SceneID: "s1", SourceID: "cam"})
	if layers[0].Image != blue || audio[0][0] != 0.25 {
		t.Error("source binding should take the source feed")
	}
	layers, audio = pick(f, settings.Binding{SceneID: "gone"})
	if layers != nil || audio != nil {
		t.Error("missing referent should yield nothing")
	}
}

func TestRedact(t *testing.T) {
	if got := redact("rtmp://live.example/app/secret"); got != "rtmp://live.example/app/***" {
		t.Errorf("redact = %q", got)
	}
}
