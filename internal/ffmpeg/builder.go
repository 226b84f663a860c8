package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/smazurov/compositor/internal/process"
)

// Base returns the ffmpeg command with standard flags. Log lines carry a
// [level] prefix for ParseLogLine.
func Base() string {
	return "ffmpeg -hide_banner -nostdin -loglevel level+info"
}

// EncodersListCommand lists the encoders compiled into ffmpeg.
func EncodersListCommand() string {
	return "ffmpeg -hide_banner -encoders"
}

// IsHardwareEncoder reports whether codec names a hardware encoder.
func IsHardwareEncoder(codec string) bool {
	for _, hw := range []string{"nvenc", "amf", "vaapi", "qsv", "videotoolbox", "rkmpp", "v4l2m2m"} {
		if strings.Contains(codec, hw) {
			return true
		}
	}
	return false
}

// BuildDecodeCommand builds a command that writes rawvideo RGBA frames to
// stdout and, when audio is requested, f32le samples to fd 3.
func BuildDecodeCommand(p *DecodeParams) string {
	var cmd strings.Builder
	cmd.WriteString(Base())

	if p.HardwareDecoder {
		cmd.WriteString(" -hwaccel auto")
	}
	if p.IsFile {
		// Files are paced at their native rate like a live feed.
		cmd.WriteString(" -re")
		if p.Looping {
			cmd.WriteString(" -stream_loop -1")
		}
	} else {
		cmd.WriteString(" -fflags nobuffer")
		if p.BufferMB > 0 {
			fmt.Fprintf(&cmd, " -rtbufsize %dM", p.BufferMB)
		}
	}
	cmd.WriteString(" -i " + process.Quote(p.Input))

	fps := p.FPS
	if fps == "" {
		fps = "30"
	}
	fmt.Fprintf(&cmd, " -map 0:v:0 -vf scale=%d:%d,fps=%s -pix_fmt rgba -f rawvideo pipe:1", p.Width, p.Height, fps)

	if p.SampleRate > 0 {
		channels := p.Channels
		if channels <= 0 {
			channels = 2
		}
		fmt.Fprintf(&cmd, " -map 0:a:0? -ac %d -ar %d -f f32le pipe:3", channels, p.SampleRate)
	}

	return cmd.String()
}

// BuildPublishCommand builds an encoder command that reads raw RGBA from
// stdin and f32le audio from fd 3 and publishes FLV to p.URL, optionally
// recording to p.RecordPath as well.
func BuildPublishCommand(p *PublishParams) string {
	var cmd strings.Builder
	cmd.WriteString(Base())

	for _, arg := range p.GlobalArgs {
		cmd.WriteString(" " + arg)
	}

	fps := p.FPS
	if fps == "" {
		fps = "30"
	}
	fmt.Fprintf(&cmd, " -f rawvideo -pix_fmt rgba -s %dx%d -r %s -i pipe:0", p.Width, p.Height, fps)

	channels := p.Channels
	if channels <= 0 {
		channels = 2
	}
	sampleRate := p.SampleRate
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	fmt.Fprintf(&cmd, " -f f32le -ar %d -ac %d -i pipe:3", sampleRate, channels)
	cmd.WriteString(" -map 0:v -map 1:a")

	var filters []string
	if p.OutputWidth > 0 && p.OutputHeight > 0 && (p.OutputWidth != p.Width || p.OutputHeight != p.Height) {
		filters = append(filters, fmt.Sprintf("scale=%d:%d", p.OutputWidth, p.OutputHeight))
	}
	if p.VideoFilters != "" {
		filters = append(filters, p.VideoFilters)
	} else if !IsHardwareEncoder(p.Encoder) {
		filters = append(filters, "format=yuv420p")
	}
	if len(filters) > 0 {
		cmd.WriteString(" -vf " + strings.Join(filters, ","))
	}

	encoder := p.Encoder
	if encoder == "" {
		encoder = "libx264"
	}
	cmd.WriteString(" -c:v " + encoder)

	if encoder == "libx264" {
		if p.Preset != "" {
			cmd.WriteString(" -preset " + p.Preset)
		}
		if p.Tune != "" {
			cmd.WriteString(" -tune " + p.Tune)
		}
		if p.X264Opts != "" {
			cmd.WriteString(" -x264-params " + process.Quote(p.X264Opts))
		}
	}
	if p.Profile != "" {
		cmd.WriteString(" -profile:v " + p.Profile)
	}

	// Rate control
	if p.VideoBitrateKbps > 0 {
		rate := p.VideoBitrateKbps
		fmt.Fprintf(&cmd, " -b:v %dk", rate)
		if strings.EqualFold(p.RateControl, "VBR") {
			fmt.Fprintf(&cmd, " -maxrate %dk -bufsize %dk", rate*3/2, rate*2)
		} else {
			fmt.Fprintf(&cmd, " -minrate %dk -maxrate %dk -bufsize %dk", rate, rate, rate)
			if encoder == "libx264" {
				cmd.WriteString(" -x264opts nal-hrd=cbr")
			}
		}
	}

	// Keyframes at a fixed interval, never on scene cuts.
	if p.KeyintFrames > 0 {
		fmt.Fprintf(&cmd, " -g %d -keyint_min %d -sc_threshold 0", p.KeyintFrames, p.KeyintFrames)
	}
	if p.KeyintSec > 0 {
		fmt.Fprintf(&cmd, " -force_key_frames %s", process.Quote(fmt.Sprintf("expr:gte(t,n_forced*%d)", p.KeyintSec)))
	}

	audioRate := p.AudioBitrateKbps
	if audioRate <= 0 {
		audioRate = 160
	}
	fmt.Fprintf(&cmd, " -c:a aac -b:a %dk -ar %d -ac %d", audioRate, sampleRate, channels)

	if p.TimestampOffset > 0 {
		fmt.Fprintf(&cmd, " -output_ts_offset %.3f", p.TimestampOffset)
	}

	if p.ProgressPipe {
		cmd.WriteString(" -progress pipe:4 -stats_period 1")
	}

	if p.RecordPath != "" {
		targets := "[f=flv]" + p.URL + "|[onfail=ignore]" + p.RecordPath
		cmd.WriteString(" -flags +global_header -f tee " + process.Quote(targets))
	} else {
		cmd.WriteString(" -flvflags no_duration_filesize -f flv " + process.Quote(p.URL))
	}

	return cmd.String()
}
