package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/smazurov/compositor/internal/encoders"
	"github.com/smazurov/compositor/internal/ffmpeg"
	"github.com/smazurov/compositor/internal/logging"
	"github.com/smazurov/compositor/internal/metrics"
	"github.com/smazurov/compositor/internal/process"
)

var errEncoderExited = errors.New("encoder exited")

// FFmpegSink publishes through an ffmpeg subprocess fed raw RGBA on stdin
// and f32le audio on fd 3.
type FFmpegSink struct {
	id       string
	logger   *slog.Logger
	detector *encoders.Detector
	metrics  *metrics.Metrics

	proc    *process.Process
	video   *os.File
	audio   *os.File
	exited  chan struct{}
	exitErr error
	pcm     []byte
	wg      sync.WaitGroup
}

// NewFFmpegSinkFactory returns a SinkFactory producing FFmpegSinks.
func NewFFmpegSinkFactory(detector *encoders.Detector, m *metrics.Metrics, logger *slog.Logger) SinkFactory {
	return func(id string) Sink {
		return &FFmpegSink{id: id, logger: logger.With("output_id", id), detector: detector, metrics: m}
	}
}

func (s *FFmpegSink) command(ctx context.Context, cfg SinkConfig) string {
	o := cfg.Output
	enc := encoders.Software
	if s.detector != nil {
		enc = s.detector.Select(ctx, o.HardwareEnable)
	}

	record := ""
	if o.RecordEnable {
		record = o.RecordFilePath
	}
	return ffmpeg.BuildPublishCommand(&ffmpeg.PublishParams{
		Width:            cfg.Width,
		Height:           cfg.Height,
		FPS:              cfg.Video.Rate(),
		SampleRate:       cfg.Audio.SampleRate,
		Channels:         cfg.Audio.Channels,
		Encoder:          enc.Encoder,
		GlobalArgs:       enc.GlobalArgs,
		VideoFilters:     enc.VideoFilters,
		RateControl:      string(o.RateControl),
		VideoBitrateKbps: o.VideoBitrateKbps,
		AudioBitrateKbps: o.AudioBitrateKbps,
		KeyintSec:        o.KeyintSec,
		KeyintFrames:     int(float64(o.KeyintSec)*cfg.Video.FPS() + 0.5),
		Preset:           o.Preset,
		Profile:          o.Profile,
		Tune:             o.Tune,
		X264Opts:         o.X264Opts,
		TimestampOffset:  cfg.StartPTS.Seconds(),
		ProgressPipe:     true,
		URL:              o.PublishURL(),
		RecordPath:       record,
	})
}

// Open starts the encoder. Connection failures show up as write errors once
// ffmpeg exits.
func (s *FFmpegSink) Open(ctx context.Context, cfg SinkConfig) error {
	audioR, audioW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("audio pipe: %w", err)
	}
	progressR, progressW, err := os.Pipe()
	if err != nil {
		audioR.Close()
		audioW.Close()
		return fmt.Errorf("progress pipe: %w", err)
	}
	videoR, videoW, err := os.Pipe()
	if err != nil {
		audioR.Close()
		audioW.Close()
		progressR.Close()
		progressW.Close()
		return fmt.Errorf("video pipe: %w", err)
	}

	cmd := s.command(ctx, cfg)
	s.proc = process.NewProcess(s.id, cmd, s.logger)
	s.proc.SetLogParser(logging.GetLogger("ffmpeg").With("output_id", s.id), ffmpeg.ParseLogLine)
	s.proc.SetPipes(process.Pipes{Stdin: videoR, ExtraFiles: []*os.File{audioR, progressW}})
	s.video = videoW
	s.audio = audioW
	s.exited = make(chan struct{})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer progressR.Close()
		err := ffmpeg.ReadProgress(progressR, func(p ffmpeg.Progress) {
			s.metrics.SetEncoderProgress(s.id, p.FPS, p.Speed)
		})
		if err != nil && !errors.Is(err, os.ErrClosed) {
			s.logger.Debug("Progress stream ended", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		code := s.proc.Run()
		s.exitErr = fmt.Errorf("%w with code %d", errEncoderExited, code)
		close(s.exited)
	}()

	s.logger.Debug("Encoder started", "command", cmd)
	return nil
}

func (s *FFmpegSink) Write(pkt Packet) error {
	select {
	case <-s.exited:
		return s.exitErr
	default:
	}
	if _, err := s.video.Write(pkt.Image.Pix); err != nil {
		return s.writeErr(err)
	}
	s.pcm = ffmpeg.EncodeF32LE(s.pcm[:0], pkt.Audio)
	if _, err := s.audio.Write(s.pcm); err != nil {
		return s.writeErr(err)
	}
	return nil
}

func (s *FFmpegSink) writeErr(err error) error {
	select {
	case <-s.exited:
		return s.exitErr
	default:
		return err
	}
}

// Close ends the inputs so ffmpeg flushes, then stops it.
func (s *FFmpegSink) Close() error {
	if s.proc == nil {
		return nil
	}
	s.video.Close()
	s.audio.Close()
	s.proc.Shutdown()
	s.wg.Wait()
	return nil
}
