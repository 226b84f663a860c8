package output

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/smazurov/compositor/internal/events"
	"github.com/smazurov/compositor/internal/input"
	"github.com/smazurov/compositor/internal/render"
	"github.com/smazurov/compositor/internal/settings"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// worker owns one output's encoder state. Everything below the channels is
// only touched by run.
type worker struct {
	id     string
	m      *Manager
	logger *slog.Logger
	cell   statusCell

	frames  chan *render.Frame
	updates chan settings.Output
	cancel  context.CancelFunc
	done    chan struct{}

	cfg      settings.Output
	pending  *settings.Output
	sink     *sinkSession
	index    uint64
	sinceKey int
	keyint   int
	backoff  time.Duration
	retryAt  time.Time
	delayed  []delayedPacket
	lastFail string
}

// sinkSession closes its sink at most once: either from the worker or, when
// the worker's context ends, from context.AfterFunc so a Write blocked on a
// stalled encoder returns.
type sinkSession struct {
	Sink
	once  sync.Once
	err   error
	abort func() bool
}

func (s *sinkSession) shut() {
	s.once.Do(func() { s.err = s.Sink.Close() })
}

func (s *sinkSession) close() error {
	s.abort()
	s.shut()
	return s.err
}

type delayedPacket struct {
	at  time.Time
	pkt Packet
}

func newWorker(m *Manager, id string, cfg settings.Output) *worker {
	w := &worker{
		id:      id,
		m:       m,
		logger:  m.logger.With("output_id", id),
		frames:  make(chan *render.Frame, m.queueSize),
		updates: make(chan settings.Output, 1),
		done:    make(chan struct{}),
		cfg:     cfg,
		backoff: minBackoff,
	}
	w.keyint = w.keyintFrames()
	w.cell.store(statusSnapshot{status: StatusIdle, since: time.Now(), settings: cfg})
	return w
}

// submit hands a frame over without blocking; a full queue drops it.
func (w *worker) submit(f *render.Frame) {
	select {
	case w.frames <- f:
	default:
		w.cell.dropped.Add(1)
		w.m.metrics.OutputFrameDropped(w.id)
	}
}

// update replaces any update still waiting to be picked up.
func (w *worker) update(cfg settings.Output) {
	for {
		select {
		case w.updates <- cfg:
			return
		default:
		}
		select {
		case <-w.updates:
		default:
		}
	}
}

func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.closeSink()
			w.setStatus(StatusStopped, "", "")
			return
		case cfg := <-w.updates:
			w.pending = &cfg
			w.publishSettings()
		case f := <-w.frames:
			w.handleFrame(ctx, f)
		}
	}
}

func (w *worker) keyintFrames() int {
	fps := w.m.video.FPS()
	if fps <= 0 {
		return 1
	}
	return max(1, int(math.Round(float64(w.cfg.KeyintSec)*fps)))
}

func (w *worker) pts() time.Duration {
	return time.Duration(w.index) * w.m.video.FrameInterval()
}

func (w *worker) handleFrame(ctx context.Context, f *render.Frame) {
	keyframe := w.sinceKey == 0 || w.sinceKey >= w.keyint

	if w.pending != nil && (keyframe || w.sink == nil) {
		w.applyPending(ctx, f.Time)
		keyframe = true
	}

	if w.sink == nil && !f.Time.Before(w.retryAt) {
		if w.connect(ctx, f.Time) {
			keyframe = true
		}
	}

	if keyframe {
		w.sinceKey = 0
	}
	pkt := w.packet(f, keyframe)
	w.index++
	w.sinceKey++

	if delay := time.Duration(w.cfg.DelaySec) * time.Second; delay > 0 {
		w.delayed = append(w.delayed, delayedPacket{at: f.Time.Add(delay), pkt: pkt})
		n := 0
		for n < len(w.delayed) && !w.delayed[n].at.After(f.Time) {
			w.write(w.delayed[n].pkt, f.Time)
			n++
		}
		w.delayed = w.delayed[n:]
		return
	}
	w.write(pkt, f.Time)
}

// applyPending switches to the pending settings; the caller makes the
// current frame a keyframe. Timestamps keep counting from the same index.
func (w *worker) applyPending(ctx context.Context, now time.Time) {
	reencode := w.cfg.NeedsReencode(*w.pending)
	w.cfg = *w.pending
	w.pending = nil
	w.keyint = w.keyintFrames()
	w.publishSettings()
	w.logger.Info("Applying output settings", "pts", w.pts(), "connected", w.sink != nil)

	if w.sink == nil {
		// retry right away with the new settings
		w.retryAt = time.Time{}
		w.backoff = minBackoff
		return
	}
	if !reencode {
		return
	}
	w.closeSink()
	if !w.open(ctx) {
		w.fail(now, w.lastFail)
	}
}

func (w *worker) connect(ctx context.Context, now time.Time) bool {
	if w.retryAt.IsZero() {
		w.setStatus(StatusConnecting, "", "")
	} else {
		w.cell.reconnects.Add(1)
		w.m.metrics.OutputReconnect(w.id)
		w.setStatus(StatusConnecting, CodeConnectionDegraded, w.lastFail)
	}
	if !w.open(ctx) {
		w.fail(now, w.lastFail)
		return false
	}
	return true
}

func (w *worker) open(ctx context.Context) bool {
	width, height := w.m.outputSize(w.cfg)
	sink := w.m.sinks(w.id)
	err := sink.Open(ctx, SinkConfig{
		ID:       w.id,
		Output:   w.cfg,
		Video:    w.m.video,
		Audio:    w.m.audio,
		Width:    width,
		Height:   height,
		StartPTS: w.pts(),
	})
	if err != nil {
		w.lastFail = err.Error()
		return false
	}
	sess := &sinkSession{Sink: sink}
	sess.abort = context.AfterFunc(ctx, sess.shut)
	w.sink = sess
	return true
}

// fail marks the output degraded and schedules a reconnect.
func (w *worker) fail(now time.Time, reason string) {
	w.closeSink()
	w.logger.Warn("Output degraded", "error", reason, "retry_in", w.backoff)
	w.setStatus(StatusDegraded, CodeConnectionDegraded, reason)
	w.retryAt = now.Add(w.backoff)
	w.backoff = min(w.backoff*2, maxBackoff)
}

func (w *worker) write(pkt Packet, now time.Time) {
	if w.sink == nil {
		return
	}
	if err := w.sink.Write(pkt); err != nil {
		w.lastFail = err.Error()
		w.fail(now, w.lastFail)
		return
	}
	w.cell.sent.Add(1)
	w.m.metrics.OutputFrameSent(w.id)
	if pkt.Keyframe {
		w.cell.keyframes.Add(1)
	}
	if w.cell.load().status != StatusLive {
		w.backoff = minBackoff
		w.setStatus(StatusLive, "", "")
	}
}

func (w *worker) closeSink() {
	if w.sink == nil {
		return
	}
	if err := w.sink.close(); err != nil {
		w.logger.Debug("Sink close", "error", err)
	}
	w.sink = nil
}

// packet renders the output's binding at the output raster.
func (w *worker) packet(f *render.Frame, keyframe bool) Packet {
	width, height := w.m.outputSize(w.cfg)
	layers, audio := pick(f, w.cfg.Bind())
	if audio == nil {
		audio = input.Silence(max(w.m.audio.Channels, 1), f.Samples())
	}
	return Packet{
		Index:    w.index,
		PTS:      w.pts(),
		Keyframe: keyframe,
		Image:    render.Rasterize(layers, f.Width, f.Height, width, height),
		Audio:    audio,
	}
}

// pick selects the layers and audio an output binding publishes. A binding
// whose referent is gone yields nothing, which renders black and silent.
func pick(f *render.Frame, b settings.Binding) ([]render.Layer, [][]float32) {
	switch {
	case b.Global():
		return f.Program, f.Audio
	case b.SourceID == "":
		return f.Scenes[b.SceneID], f.SceneAudio[b.SceneID]
	default:
		key := render.SourceKey{SceneID: b.SceneID, SourceID: b.SourceID}
		return render.FullCanvas(f.Sources[key], f.Width, f.Height), f.SourceAudio[key]
	}
}

func (w *worker) publishSettings() {
	s := w.cell.load()
	s.settings = w.cfg
	s.pending = w.pending != nil
	w.cell.store(s)
}

func (w *worker) setStatus(status Status, code, reason string) {
	prev := w.cell.load()
	if prev.status == status && prev.code == code && prev.err == reason {
		return
	}
	next := prev
	next.status, next.code, next.err = status, code, reason
	if prev.status != status {
		next.since = time.Now()
	}
	w.cell.store(next)
	w.m.metrics.SetOutputStatus(w.id, string(status), AllStatuses)
	if prev.status == status {
		return
	}
	w.m.bus.Publish(events.OutputStatusChangedEvent{
		OutputID:  w.id,
		Status:    string(status),
		Previous:  string(prev.status),
		Code:      code,
		Error:     reason,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
