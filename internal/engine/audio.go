package engine

import (
	"math"
	"sync"
	"time"

	"github.com/smazurov/compositor/internal/events"
	"github.com/smazurov/compositor/internal/input"
	"github.com/smazurov/compositor/internal/render"
	"github.com/smazurov/compositor/internal/settings"
)

// volmeterEventInterval throttles volmeter events on the bus. Subscribers
// of SubscribeVolmeter get every sample.
const volmeterEventInterval = 100 * time.Millisecond

// VolmeterSample is one tick's meter reading of a source. Levels are dBFS,
// one value per channel, floored at settings.MinVolume.
type VolmeterSample struct {
	SceneID   string    `json:"sceneId"`
	SourceID  string    `json:"sourceId"`
	Channels  int       `json:"channels"`
	Magnitude []float64 `json:"magnitude"`
	Peak      []float64 `json:"peak"`
	InputPeak []float64 `json:"inputPeak"`
}

// MonitorSink receives the post-fader audio of sources with monitoring on.
type MonitorSink interface {
	Monitor(key render.SourceKey, samples [][]float32)
}

// DiscardMonitor drops monitored audio.
type DiscardMonitor struct{}

// Monitor implements MonitorSink.
func (DiscardMonitor) Monitor(render.SourceKey, [][]float32) {}

// GetAudio returns the master bus state.
func (e *Engine) GetAudio() (settings.Mix, error) {
	var m settings.Mix
	err := e.do(func(rt *runtime) error {
		m = rt.mix
		return nil
	})
	return m, err
}

// UpdateAudio applies the fields present in patch to the master bus.
func (e *Engine) UpdateAudio(patch settings.MixPatch) (settings.Mix, error) {
	if err := patch.Validate(); err != nil {
		return settings.Mix{}, invalidSettings(err)
	}
	var m settings.Mix
	err := e.do(func(rt *runtime) error {
		rt.mix = patch.Apply(rt.mix)
		m = rt.mix
		rt.logger.Debug("Audio updated", "master_volume", m.MasterVolume, "mode", m.Mode)
		return nil
	})
	return m, err
}

// SubscribeVolmeter registers a meter consumer. The channel holds up to
// buffer samples; when the consumer lags the oldest samples are dropped.
// Subscriptions outlive engine restarts until cancel is called.
func (e *Engine) SubscribeVolmeter(buffer int) (<-chan VolmeterSample, func()) {
	return e.vol.subscribe(buffer)
}

type volmeterHub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan VolmeterSample
}

func (h *volmeterHub) subscribe(buffer int) (<-chan VolmeterSample, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan VolmeterSample, buffer)

	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[int]chan VolmeterSample)
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// publish delivers s to every subscriber and returns how many queued
// samples were dropped to make room.
func (h *volmeterHub) publish(s VolmeterSample) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for _, ch := range h.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
			dropped++
		default:
		}
		select {
		case ch <- s:
		default:
			dropped++
		}
	}
	return dropped
}

// mixAudio drains one frame of audio from every source and fills the
// frame's per-source, per-scene and master buses.
func (rt *runtime) mixAudio(f *render.Frame, p float64) {
	channels := rt.settings.Audio.Channels
	n := rt.settings.Audio.SamplesForFrame(rt.settings.Video, f.Seq)

	f.SourceAudio = make(map[render.SourceKey][][]float32)
	f.SceneAudio = make(map[string][][]float32, len(rt.sceneOrder))
	master := input.Silence(channels, n)

	for _, id := range rt.sceneOrder {
		sceneBus := input.Silence(channels, n)
		for _, s := range rt.scenes[id].sources {
			raw := s.in.ReadAudio(n)
			inputPeak := peaks(raw, channels)
			post := applyGain(raw, channels, n, dbToLinear(s.gainDB()))

			f.SourceAudio[s.key()] = post
			accumulate(sceneBus, post, 1)
			if rt.mix.Mode == settings.AudioStandalone {
				accumulate(master, post, 1)
			}
			if s.cfg.AudioMonitor {
				rt.e.opts.Monitor.Monitor(s.key(), post)
			}
			rt.meter(s, post, inputPeak, f.Time)
		}
		f.SceneAudio[id] = sceneBus
	}

	if rt.mix.Mode != settings.AudioStandalone {
		if t := rt.trans; t != nil && p < 1 {
			if bus, ok := f.SceneAudio[t.from]; ok {
				accumulate(master, bus, float32(1-p))
			}
			if bus, ok := f.SceneAudio[t.to]; ok {
				accumulate(master, bus, float32(p))
			}
		} else if bus, ok := f.SceneAudio[rt.active]; ok {
			accumulate(master, bus, 1)
		}
	}

	gain := float32(dbToLinear(rt.mix.MasterVolume))
	for _, ch := range master {
		for i, v := range ch {
			ch[i] = clip(v * gain)
		}
	}
	f.Audio = master
}

func (rt *runtime) meter(s *source, post [][]float32, inputPeak []float64, now time.Time) {
	channels := len(post)
	sample := VolmeterSample{
		SceneID:   s.sceneID,
		SourceID:  s.id,
		Channels:  channels,
		Magnitude: make([]float64, channels),
		Peak:      peaks(post, channels),
		InputPeak: inputPeak,
	}
	for c, ch := range post {
		var sum float64
		for _, v := range ch {
			sum += float64(v) * float64(v)
		}
		rms := 0.0
		if len(ch) > 0 {
			rms = math.Sqrt(sum / float64(len(ch)))
		}
		sample.Magnitude[c] = toDB(rms)
		sample.Peak[c] = toDB(sample.Peak[c])
	}
	for c := range sample.InputPeak {
		sample.InputPeak[c] = toDB(sample.InputPeak[c])
	}

	if dropped := rt.e.vol.publish(sample); dropped > 0 {
		rt.e.opts.Metrics.VolmeterDropped(dropped)
	}
	if now.Sub(s.lastMeter) >= volmeterEventInterval {
		s.lastMeter = now
		rt.e.opts.Bus.Publish(events.VolmeterEvent{
			SceneID:   sample.SceneID,
			SourceID:  sample.SourceID,
			Channels:  sample.Channels,
			Magnitude: sample.Magnitude,
			Peak:      sample.Peak,
			InputPeak: sample.InputPeak,
		})
	}
}

// dbToLinear converts a fader level to an amplitude factor. Levels at or
// below settings.MinVolume are silence.
func dbToLinear(db float64) float64 {
	if db <= settings.MinVolume {
		return 0
	}
	return math.Pow(10, db/20)
}

func toDB(amplitude float64) float64 {
	if amplitude <= 0 {
		return settings.MinVolume
	}
	return max(20*math.Log10(amplitude), settings.MinVolume)
}

// peaks returns the absolute peak of each channel as an amplitude.
func peaks(planar [][]float32, channels int) []float64 {
	out := make([]float64, channels)
	for c := 0; c < channels && c < len(planar); c++ {
		for _, v := range planar[c] {
			out[c] = max(out[c], math.Abs(float64(v)))
		}
	}
	return out
}

// applyGain returns a scaled copy shaped channels x n.
func applyGain(planar [][]float32, channels, n int, gain float64) [][]float32 {
	out := input.Silence(channels, n)
	g := float32(gain)
	for c := 0; c < channels && c < len(planar); c++ {
		src := planar[c]
		for i := 0; i < n && i < len(src); i++ {
			out[c][i] = src[i] * g
		}
	}
	return out
}

func accumulate(dst, src [][]float32, weight float32) {
	for c := 0; c < len(dst) && c < len(src); c++ {
		d, s := dst[c], src[c]
		for i := 0; i < len(d) && i < len(s); i++ {
			d[i] += s[i] * weight
		}
	}
}

func clip(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
