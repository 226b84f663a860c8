// Package output publishes composed frames. Each output runs its own worker
// goroutine that owns the encoder session; the compositor hands frames over
// without blocking and a lagging worker drops them.
package output

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/compositor/internal/events"
	"github.com/smazurov/compositor/internal/metrics"
	"github.com/smazurov/compositor/internal/render"
	"github.com/smazurov/compositor/internal/settings"
)

var (
	ErrExists   = errors.New("output already exists")
	ErrNotFound = errors.New("output not found")
)

// Config configures a Manager.
type Config struct {
	Video   settings.Video
	Audio   settings.Audio
	Sinks   SinkFactory
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// QueueSize is the number of frames a worker may lag behind.
	QueueSize int
}

// Manager runs output workers.
type Manager struct {
	video     settings.Video
	audio     settings.Audio
	sinks     SinkFactory
	bus       *events.Bus
	metrics   *metrics.Metrics
	logger    *slog.Logger
	queueSize int

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	workers   map[string]*worker
	requested map[string]settings.Output
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		video:     cfg.Video,
		audio:     cfg.Audio,
		sinks:     cfg.Sinks,
		bus:       cfg.Bus,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		queueSize: cfg.QueueSize,
		ctx:       ctx,
		cancel:    cancel,
		workers:   make(map[string]*worker),
		requested: make(map[string]settings.Output),
	}
}

func (m *Manager) outputSize(o settings.Output) (int, int) {
	if o.Width > 0 && o.Height > 0 {
		return o.Width, o.Height
	}
	if m.video.OutputWidth > 0 && m.video.OutputHeight > 0 {
		return m.video.OutputWidth, m.video.OutputHeight
	}
	return m.video.BaseWidth, m.video.BaseHeight
}

// Add starts a worker for a validated output. Connection problems surface
// as status, never as an error here.
func (m *Manager) Add(id string, o settings.Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[id]; ok {
		return ErrExists
	}

	w := newWorker(m, id, o)
	ctx, cancel := context.WithCancel(m.ctx)
	w.cancel = cancel
	m.workers[id] = w
	m.requested[id] = o
	m.metrics.SetOutputStatus(id, string(StatusIdle), AllStatuses)
	go w.run(ctx)

	m.logger.Info("Output added", "output_id", id, "url", redact(o.PublishURL()), "scene_id", o.SceneID, "source_id", o.SourceID)
	return nil
}

// Update queues new settings for the next keyframe boundary. It reports
// false when o equals the most recently requested settings.
func (m *Manager) Update(id string, o settings.Output) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return false, ErrNotFound
	}
	if m.requested[id].Equal(o) {
		return false, nil
	}
	m.requested[id] = o
	w.update(o)
	return true, nil
}

// Remove stops the worker, dropping any pending update, and closes its
// sink.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	w, ok := m.workers[id]
	if ok {
		delete(m.workers, id)
		delete(m.requested, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	w.cancel()
	<-w.done
	m.metrics.DeleteOutput(id, AllStatuses)
	m.logger.Info("Output removed", "output_id", id)
	return nil
}

// Get returns a snapshot of an output.
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	if !ok {
		return Info{}, false
	}
	return m.info(id, w), true
}

func (m *Manager) info(id string, w *worker) Info {
	info := w.cell.info(id)
	info.Requested = m.requested[id]
	if !info.Requested.Equal(info.Settings) {
		info.Pending = true
	}
	return info
}

// Requested returns the most recently requested settings of an output.
func (m *Manager) Requested(id string) (settings.Output, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.requested[id]
	return o, ok
}

// List returns all outputs sorted by id.
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.workers))
	for id, w := range m.workers {
		infos = append(infos, m.info(id, w))
	}
	m.mu.RUnlock()
	slices.SortFunc(infos, func(a, b Info) int { return strings.Compare(a.ID, b.ID) })
	return infos
}

// BoundTo returns the ids of outputs whose binding matches.
func (m *Manager) BoundTo(match func(settings.Binding) bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, o := range m.requested {
		if match(o.Bind()) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Submit offers a composed frame to every worker without blocking.
func (m *Manager) Submit(f *render.Frame) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.workers {
		w.submit(f)
	}
}

// Shutdown stops all workers in parallel.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			done := make(chan error, 1)
			go func() { done <- m.Remove(id) }()
			select {
			case err := <-done:
				if errors.Is(err, ErrNotFound) {
					return nil
				}
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	err := g.Wait()
	m.cancel()
	return err
}

// redact hides the stream key in logs.
func redact(url string) string {
	if i := strings.LastIndex(url, "/"); i > len("rtmp://") && i < len(url)-1 {
		return url[:i+1] + "***"
	}
	return url
}
