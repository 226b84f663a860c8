// Package settings holds the typed configuration records of the compositor:
// engine startup settings, sources, outputs, overlays and audio. Records are
// validated here, before they reach the engine's command queue.
package settings

import (
	"errors"
	"fmt"
	"time"
)

// Defaults applied by Settings.Normalize.
const (
	DefaultLocale              = "zh-CN"
	DefaultTimestampFontHeight = 40
	DefaultChannels            = 2
	DefaultStallTimeout        = 5 * time.Second
)

// FieldError reports one invalid field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Reason
}

func invalid(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Settings configures the engine at startup.
type Settings struct {
	Locale              string `toml:"locale" json:"locale"`
	FontDirectory       string `toml:"font_directory" json:"fontDirectory,omitempty"`
	ShowTimestamp       bool   `toml:"show_timestamp" json:"showTimestamp"`
	TimestampFontPath   string `toml:"timestamp_font_path" json:"timestampFontPath,omitempty"`
	TimestampFontHeight int    `toml:"timestamp_font_height" json:"timestampFontHeight"`
	StallTimeoutMs      int    `toml:"stall_timeout_ms" json:"stallTimeoutMs"`

	Video Video `toml:"video" json:"video"`
	Audio Audio `toml:"audio" json:"audio"`
}

// Video describes the canvas and output raster.
type Video struct {
	BaseWidth    int `toml:"base_width" json:"baseWidth"`
	BaseHeight   int `toml:"base_height" json:"baseHeight"`
	OutputWidth  int `toml:"output_width" json:"outputWidth"`
	OutputHeight int `toml:"output_height" json:"outputHeight"`
	FPSNum       int `toml:"fps_num" json:"fpsNum"`
	FPSDen       int `toml:"fps_den" json:"fpsDen"`
}

// Audio describes the master bus format.
type Audio struct {
	SampleRate int `toml:"sample_rate" json:"sampleRate"`
	Channels   int `toml:"channels" json:"channels"`
}

// Normalize fills zero values with defaults.
func (s *Settings) Normalize() {
	if s.Locale == "" {
		s.Locale = DefaultLocale
	}
	if s.TimestampFontHeight == 0 {
		s.TimestampFontHeight = DefaultTimestampFontHeight
	}
	if s.StallTimeoutMs == 0 {
		s.StallTimeoutMs = int(DefaultStallTimeout / time.Millisecond)
	}
	if s.Video.OutputWidth == 0 && s.Video.OutputHeight == 0 {
		s.Video.OutputWidth = s.Video.BaseWidth
		s.Video.OutputHeight = s.Video.BaseHeight
	}
	if s.Video.FPSDen == 0 {
		s.Video.FPSDen = 1
	}
	if s.Audio.Channels == 0 {
		s.Audio.Channels = DefaultChannels
	}
}

// Validate checks ranges. Call Normalize first.
func (s Settings) Validate() error {
	var errs []error
	v := s.Video
	for _, d := range []struct {
		name string
		val  int
	}{
		{"video.base_width", v.BaseWidth},
		{"video.base_height", v.BaseHeight},
		{"video.output_width", v.OutputWidth},
		{"video.output_height", v.OutputHeight},
	} {
		switch {
		case d.val <= 0 || d.val > 8192:
			errs = append(errs, invalid(d.name, "must be in 1..8192, got %d", d.val))
		case d.val%2 != 0:
			errs = append(errs, invalid(d.name, "must be even, got %d", d.val))
		}
	}
	if v.FPSNum <= 0 || v.FPSDen <= 0 {
		errs = append(errs, invalid("video.fps", "numerator and denominator must be positive"))
	} else if fps := float64(v.FPSNum) / float64(v.FPSDen); fps < 1 || fps > 240 {
		errs = append(errs, invalid("video.fps", "%.3f is outside 1..240", fps))
	}
	if s.Audio.SampleRate < 8000 || s.Audio.SampleRate > 192000 {
		errs = append(errs, invalid("audio.sample_rate", "must be in 8000..192000, got %d", s.Audio.SampleRate))
	}
	if s.Audio.Channels < 1 || s.Audio.Channels > 8 {
		errs = append(errs, invalid("audio.channels", "must be in 1..8, got %d", s.Audio.Channels))
	}
	if s.TimestampFontHeight < 0 {
		errs = append(errs, invalid("timestamp_font_height", "must not be negative"))
	}
	if s.StallTimeoutMs < 0 {
		errs = append(errs, invalid("stall_timeout_ms", "must not be negative"))
	}
	return errors.Join(errs...)
}

// StallTimeout returns the decode stall threshold.
func (s Settings) StallTimeout() time.Duration {
	return time.Duration(s.StallTimeoutMs) * time.Millisecond
}

// FrameInterval is the duration of one video frame.
func (v Video) FrameInterval() time.Duration {
	if v.FPSNum <= 0 || v.FPSDen <= 0 {
		return 0
	}
	return time.Duration(int64(time.Second) * int64(v.FPSDen) / int64(v.FPSNum))
}

// FPS returns the frame rate as a float.
func (v Video) FPS() float64 {
	if v.FPSDen == 0 {
		return 0
	}
	return float64(v.FPSNum) / float64(v.FPSDen)
}

// Rate formats the frame rate as ffmpeg expects it ("25" or "30000/1001").
func (v Video) Rate() string {
	if v.FPSDen == 1 {
		return fmt.Sprint(v.FPSNum)
	}
	return fmt.Sprintf("%d/%d", v.FPSNum, v.FPSDen)
}

// SamplesForFrame returns how many audio samples belong to video frame n,
// distributing the remainder so that the total never drifts.
func (a Audio) SamplesForFrame(v Video, n uint64) int {
	if v.FPSNum <= 0 {
		return 0
	}
	// samples up to frame n = floor(n * rate * den / num)
	num := uint64(a.SampleRate) * uint64(v.FPSDen)
	den := uint64(v.FPSNum)
	return int((n+1)*num/den - n*num/den)
}
