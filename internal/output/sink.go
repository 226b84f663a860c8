package output

import (
	"context"
	"image"
	"time"

	"github.com/smazurov/compositor/internal/settings"
)

// SinkConfig describes one encoder session.
type SinkConfig struct {
	ID     string
	Output settings.Output
	Video  settings.Video
	Audio  settings.Audio
	Width  int
	Height int
	// StartPTS is the timestamp of the first packet of the session.
	StartPTS time.Duration
}

// Packet is one raw frame handed to a sink.
type Packet struct {
	Index    uint64
	PTS      time.Duration
	Keyframe bool
	Image    *image.RGBA
	// Audio holds one video frame's worth of samples per channel.
	Audio [][]float32
}

// Sink encodes and publishes packets. A sink is opened once, written from a
// single goroutine and closed once. Close may run while a Write is blocked
// and must make that Write return.
type Sink interface {
	Open(ctx context.Context, cfg SinkConfig) error
	Write(pkt Packet) error
	Close() error
}

// SinkFactory creates a sink for an output.
type SinkFactory func(id string) Sink
