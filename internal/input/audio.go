package input

import "sync"

// audioBuffer is a bounded FIFO of interleaved samples. When full, the
// oldest samples are discarded.
type audioBuffer struct {
	mu       sync.Mutex
	channels int
	buf      []float32
	start    int
	size     int
}

func newAudioBuffer(channels, capacityFrames int) *audioBuffer {
	if channels <= 0 {
		channels = 2
	}
	return &audioBuffer{channels: channels, buf: make([]float32, channels*capacityFrames)}
}

// Write appends interleaved samples.
func (b *audioBuffer) Write(samples []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.buf)
	if n == 0 {
		return
	}
	for _, s := range samples {
		end := (b.start + b.size) % n
		b.buf[end] = s
		if b.size < n {
			b.size++
		} else {
			b.start = (b.start + 1) % n
		}
	}
}

// Read drains up to n frames into planar slices padded with silence.
func (b *audioBuffer) Read(n int) [][]float32 {
	out := make([][]float32, b.channels)
	for c := range out {
		out[c] = make([]float32, n)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// keep frames aligned: drop a partial frame left by a short write
	b.size -= b.size % b.channels
	avail := b.size / b.channels
	if avail > n {
		avail = n
	}
	for i := 0; i < avail; i++ {
		for c := 0; c < b.channels; c++ {
			out[c][i] = b.buf[b.start]
			b.start = (b.start + 1) % len(b.buf)
		}
	}
	b.size -= avail * b.channels
	return out
}

// Reset drops buffered samples.
func (b *audioBuffer) Reset() {
	b.mu.Lock()
	b.start, b.size = 0, 0
	b.mu.Unlock()
}

// Silence returns n samples of silence per channel.
func Silence(channels, n int) [][]float32 {
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, n)
	}
	return out
}
