// Package engine is the composition core: scenes of sources, transitions
// between them, overlays, the audio mixer, preview displays and the outputs
// fed from every composed frame.
//
// All registry state lives on a single compositor goroutine that ticks at
// the video frame rate. Public methods are safe for concurrent use; they
// validate their arguments, then run as commands on the compositor
// goroutine and return the command's result.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/smazurov/compositor/internal/encoders"
	"github.com/smazurov/compositor/internal/events"
	"github.com/smazurov/compositor/internal/input"
	"github.com/smazurov/compositor/internal/metrics"
	"github.com/smazurov/compositor/internal/output"
	"github.com/smazurov/compositor/internal/render"
	"github.com/smazurov/compositor/internal/settings"
)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Inputs   input.Opener
	Sinks    output.SinkFactory
	Surfaces SurfaceFactory
	Monitor  MonitorSink
	Clock    Clock
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// HTTPClient loads overlay images from http(s) URLs.
	HTTPClient *http.Client
	// OutputQueue is how many frames an output may lag before dropping.
	OutputQueue int
}

// Engine is an explicit engine context. The zero value is not usable; call
// New.
type Engine struct {
	opts   Options
	logger *slog.Logger

	mu sync.RWMutex
	rt *runtime

	vol volmeterHub
}

// runtime is the state of one Startup..Shutdown cycle.
type runtime struct {
	e        *Engine
	settings settings.Settings
	format   input.Format
	logger   *slog.Logger

	cmds    chan func()
	quit    chan struct{}
	stopped chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	outputs *output.Manager
	fonts   *render.Fonts
	closers sync.WaitGroup

	// compositor goroutine only
	now        time.Time
	seq        uint64
	scenes     map[string]*scene
	sceneOrder []string
	active     string
	trans      *transition
	scheduled  switchQueue
	overlays   []*overlay
	mix        settings.Mix
	displays   map[string]*display
	captures   []*capture
	clockText  *timestampOverlay

	latest atomic.Pointer[render.Frame]
}

// New creates an Engine. It does nothing until Startup.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Inputs == nil {
		opts.Inputs = input.NewRegistry(opts.Logger)
	}
	if opts.Sinks == nil {
		opts.Sinks = output.NewFFmpegSinkFactory(encoders.NewDetector(), opts.Metrics, opts.Logger)
	}
	if opts.Surfaces == nil {
		opts.Surfaces = HeadlessSurfaces{}
	}
	if opts.Monitor == nil {
		opts.Monitor = DiscardMonitor{}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Bus == nil {
		opts.Bus = events.New()
	}
	return &Engine{opts: opts, logger: opts.Logger}
}

// Bus returns the event bus.
func (e *Engine) Bus() *events.Bus {
	return e.opts.Bus
}

// Running reports whether the engine is started.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rt != nil
}

// Settings returns the settings the engine was started with.
func (e *Engine) Settings() (settings.Settings, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.rt == nil {
		return settings.Settings{}, ErrNotStarted
	}
	return e.rt.settings, nil
}

// Startup validates s and starts the compositor, the mixer and the output
// manager.
func (e *Engine) Startup(ctx context.Context, s settings.Settings) error {
	s.Normalize()
	if err := s.Validate(); err != nil {
		return invalidSettings(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rt != nil {
		return ErrAlreadyStarted
	}

	rtCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt := &runtime{
		ctx:      rtCtx,
		cancel:   cancel,
		fonts:    render.NewFonts(s.FontDirectory),
		e:        e,
		settings: s,
		format:   input.Format{Video: s.Video, Audio: s.Audio},
		logger:   e.logger,
		cmds:     make(chan func()),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		now:      e.opts.Clock.Now(),
		scenes:   make(map[string]*scene),
		mix:      settings.DefaultMix(),
		displays: make(map[string]*display),
	}
	rt.outputs = output.NewManager(output.Config{
		Video:     s.Video,
		Audio:     s.Audio,
		Sinks:     e.opts.Sinks,
		Bus:       e.opts.Bus,
		Metrics:   e.opts.Metrics,
		Logger:    e.logger,
		QueueSize: e.opts.OutputQueue,
	})
	if s.ShowTimestamp {
		ts, err := newTimestampOverlay(rt.fonts, s)
		if err != nil {
			cancel()
			return invalidSettings(fmt.Errorf("timestamp font: %w", err))
		}
		rt.clockText = ts
	}

	ticker := e.opts.Clock.NewTicker(s.Video.FrameInterval())
	go rt.loop(ticker)
	e.rt = rt

	e.logger.Info("Engine started",
		"base", fmt.Sprintf("%dx%d", s.Video.BaseWidth, s.Video.BaseHeight),
		"fps", s.Video.Rate(),
		"sample_rate", s.Audio.SampleRate,
		"channels", s.Audio.Channels)
	e.opts.Bus.Publish(events.EngineStateEvent{State: "started", Timestamp: time.Now().Format(time.RFC3339)})
	return nil
}

// Shutdown tears everything down: displays, outputs, overlays, sources,
// scenes. It always leaves the engine stopped and is a no-op when not
// started. Teardown failures are logged and returned together.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	rt := e.rt
	e.rt = nil
	e.mu.Unlock()
	if rt == nil {
		return nil
	}

	var result *multierror.Error

	// Stop the loop first so nothing is composed while tearing down.
	close(rt.quit)
	<-rt.stopped

	for _, name := range sortedKeys(rt.displays) {
		rt.closeDisplay(rt.displays[name])
	}
	rt.displays = nil
	e.opts.Metrics.SetDisplays(0)
	rt.cancelCaptures(&Error{Code: CodeNotStarted, Message: "engine shut down"}, func(render.SourceKey) bool { return true })

	if err := rt.outputs.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("outputs: %w", err))
	}
	rt.overlays = nil

	g, _ := errgroup.WithContext(ctx)
	for _, id := range rt.sceneOrder {
		for _, src := range rt.scenes[id].sources {
			g.Go(func() error {
				if err := src.in.Close(); err != nil {
					return fmt.Errorf("source %s: %w", src.key(), err)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		result = multierror.Append(result, err)
	}
	rt.closers.Wait()
	rt.cancel()
	rt.scenes, rt.sceneOrder = nil, nil

	if err := result.ErrorOrNil(); err != nil {
		e.logger.Warn("Engine shut down with errors", "error", err)
	} else {
		e.logger.Info("Engine shut down")
	}
	e.opts.Bus.Publish(events.EngineStateEvent{State: "stopped", Timestamp: time.Now().Format(time.RFC3339)})
	return result.ErrorOrNil()
}

// runtime returns the current runtime or ErrNotStarted.
func (e *Engine) runtime() (*runtime, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.rt == nil {
		return nil, ErrNotStarted
	}
	return e.rt, nil
}

// do runs fn on the compositor goroutine and returns its result.
func (e *Engine) do(fn func(rt *runtime) error) error {
	rt, err := e.runtime()
	if err != nil {
		return err
	}
	res := make(chan error, 1)
	select {
	case rt.cmds <- func() { res <- fn(rt) }:
	case <-rt.stopped:
		return ErrNotStarted
	}
	select {
	case err := <-res:
		return err
	case <-rt.stopped:
		return ErrNotStarted
	}
}

func (rt *runtime) loop(ticker Ticker) {
	defer close(rt.stopped)
	defer ticker.Stop()
	for {
		select {
		case <-rt.quit:
			return
		case cmd := <-rt.cmds:
			cmd()
		case now := <-ticker.C():
			rt.tick(now)
		}
	}
}

// closeLater closes an input off the compositor goroutine.
func (rt *runtime) closeLater(in input.Input, what string) {
	rt.closers.Add(1)
	go func() {
		defer rt.closers.Done()
		if err := in.Close(); err != nil {
			rt.logger.Warn("Failed to close input", "source", what, "error", err)
		}
	}()
}
