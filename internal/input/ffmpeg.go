package input

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/smazurov/compositor/internal/ffmpeg"
	"github.com/smazurov/compositor/internal/logging"
	"github.com/smazurov/compositor/internal/process"
	"github.com/smazurov/compositor/internal/settings"
)

const (
	minRetryDelay = time.Second
	maxRetryDelay = 10 * time.Second
)

// FFmpegSource decodes a live or media URL through an ffmpeg subprocess. A
// live input that drops is reopened with a growing delay.
type FFmpegSource struct {
	src    settings.Source
	format Format
	logger *slog.Logger

	audio *audioBuffer

	mu      sync.Mutex
	img     image.Image
	frames  uint64
	playing bool
	ended   bool
	proc    *process.Process

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// OpenFFmpeg starts decoding src. The subprocess is started in the
// background; Open itself only fails on invalid arguments.
func OpenFFmpeg(ctx context.Context, src settings.Source, format Format, logger *slog.Logger) (*FFmpegSource, error) {
	if format.Video.BaseWidth <= 0 || format.Video.BaseHeight <= 0 {
		return nil, errors.New("ffmpeg input: canvas size required")
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &FFmpegSource{
		src:     src,
		format:  format,
		logger:  logger.With("url", src.URL),
		playing: !src.StartOnActive,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if format.Audio.SampleRate > 0 {
		s.audio = newAudioBuffer(format.Audio.Channels, format.Audio.SampleRate)
	}
	go s.supervise()
	return s, nil
}

func (s *FFmpegSource) command() string {
	return ffmpeg.BuildDecodeCommand(&ffmpeg.DecodeParams{
		Input:           s.src.URL,
		IsFile:          s.src.IsFile,
		Looping:         s.src.Looping,
		HardwareDecoder: s.src.HardwareDecoder,
		BufferMB:        s.src.BufferMB,
		Width:           s.format.Video.BaseWidth,
		Height:          s.format.Video.BaseHeight,
		FPS:             s.format.Video.Rate(),
		SampleRate:      s.format.Audio.SampleRate,
		Channels:        s.format.Audio.Channels,
	})
}

func (s *FFmpegSource) supervise() {
	defer close(s.done)
	delay := minRetryDelay
	for {
		if !s.waitPlaying() {
			return
		}

		started := time.Now()
		code := s.runOnce()
		if s.ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		playing := s.playing
		s.mu.Unlock()
		if !playing {
			// paused while running
			continue
		}

		if code == 0 && s.src.IsFile && !s.src.Looping {
			s.logger.Info("Media ended")
			s.mu.Lock()
			s.playing = false
			s.ended = true
			s.mu.Unlock()
			continue
		}

		if time.Since(started) > maxRetryDelay {
			delay = minRetryDelay
		}
		s.logger.Warn("Decoder exited, reopening", "exit_code", code, "delay", delay)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)
	}
}

func (s *FFmpegSource) waitPlaying() bool {
	for {
		s.mu.Lock()
		playing := s.playing
		s.mu.Unlock()
		if playing {
			return true
		}
		select {
		case <-s.ctx.Done():
			return false
		case <-s.wake:
		}
	}
}

func (s *FFmpegSource) runOnce() int {
	proc := process.NewProcess("decode", s.command(), s.logger)
	proc.SetLogParser(logging.GetLogger("ffmpeg").With("url", s.src.URL), ffmpeg.ParseLogLine)

	pipes := process.Pipes{Stdout: &frameWriter{source: s, size: s.format.Video.BaseWidth * s.format.Video.BaseHeight * 4}}

	var audioDone chan struct{}
	if s.audio != nil {
		r, w, err := os.Pipe()
		if err != nil {
			s.logger.Error("Failed to create audio pipe", "error", err)
			return 1
		}
		pipes.ExtraFiles = []*os.File{w}
		audioDone = make(chan struct{})
		go func() {
			defer close(audioDone)
			defer r.Close()
			s.readAudio(r)
		}()
	}
	proc.SetPipes(pipes)

	s.mu.Lock()
	if s.ctx.Err() != nil || !s.playing {
		s.mu.Unlock()
		for _, f := range pipes.ExtraFiles {
			_ = f.Close()
		}
		if audioDone != nil {
			<-audioDone
		}
		return 0
	}
	s.proc = proc
	s.mu.Unlock()

	code := proc.Run()

	s.mu.Lock()
	s.proc = nil
	s.mu.Unlock()
	if audioDone != nil {
		<-audioDone
	}
	return code
}

func (s *FFmpegSource) readAudio(r io.Reader) {
	buf := make([]byte, 16*1024)
	var pending []byte
	samples := make([]float32, 0, len(buf)/4)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(pending, buf[:n]...)
			whole := len(data) - len(data)%4
			samples = ffmpeg.DecodeF32LE(samples[:0], data[:whole])
			s.audio.Write(samples)
			pending = append(pending[:0], data[whole:]...)
		}
		if err != nil {
			return
		}
	}
}

func (s *FFmpegSource) publish(img image.Image) {
	s.mu.Lock()
	s.img = img
	s.frames++
	s.mu.Unlock()
}

// frameWriter cuts the decoder's rawvideo stream into RGBA pictures.
type frameWriter struct {
	source *FFmpegSource
	size   int
	buf    []byte
}

func (w *frameWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		if w.buf == nil {
			w.buf = make([]byte, 0, w.size)
		}
		take := min(w.size-len(w.buf), len(p))
		w.buf = append(w.buf, p[:take]...)
		p = p[take:]
		if len(w.buf) == w.size {
			v := w.source.format.Video
			w.source.publish(&image.RGBA{
				Pix:    w.buf,
				Stride: v.BaseWidth * 4,
				Rect:   image.Rect(0, 0, v.BaseWidth, v.BaseHeight),
			})
			w.buf = nil
		}
	}
	return n, nil
}

func (s *FFmpegSource) Frame() (image.Image, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img, s.frames
}

func (s *FFmpegSource) ReadAudio(n int) [][]float32 {
	if s.audio == nil {
		return Silence(max(s.format.Audio.Channels, 1), n)
	}
	return s.audio.Read(n)
}

func (s *FFmpegSource) Play() {
	s.mu.Lock()
	s.playing = true
	s.ended = false
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pause stops the decoder; the next Play starts from the beginning.
func (s *FFmpegSource) Pause() {
	s.mu.Lock()
	s.playing = false
	s.ended = false
	proc := s.proc
	s.mu.Unlock()
	if proc != nil {
		proc.Shutdown()
	}
	if s.audio != nil {
		s.audio.Reset()
	}
}

func (s *FFmpegSource) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *FFmpegSource) Close() error {
	s.cancel()
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc != nil {
		proc.Shutdown()
	}
	<-s.done
	return nil
}
