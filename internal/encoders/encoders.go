package encoders

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/smazurov/compositor/internal/ffmpeg"
)

// EncoderType represents the type of encoder (video, audio, subtitle)
type EncoderType string

const (
	VideoEncoder    EncoderType = "V"
	AudioEncoder    EncoderType = "A"
	SubtitleEncoder EncoderType = "S"
	Unknown         EncoderType = "?"
)

// Encoder represents an FFmpeg encoder
type Encoder struct {
	Type        EncoderType `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	HWAccel     bool        `json:"hwaccel"`
}

// EncoderList holds a categorized list of encoders
type EncoderList struct {
	VideoEncoders    []Encoder `json:"video_encoders"`
	AudioEncoders    []Encoder `json:"audio_encoders"`
	SubtitleEncoders []Encoder `json:"subtitle_encoders"`
	OtherEncoders    []Encoder `json:"other_encoders"`
}

// Has reports whether a video encoder with the given name is available.
func (l *EncoderList) Has(name string) bool {
	if l == nil {
		return false
	}
	for _, e := range l.VideoEncoders {
		if e.Name == name {
			return true
		}
	}
	return false
}

// EncoderFilter represents filter options for encoders
type EncoderFilter struct {
	Type    string `json:"type"`    // Filter by encoder type (V, A, S)
	Search  string `json:"search"`  // Search term for name or description
	Hwaccel bool   `json:"hwaccel"` // Filter for hardware accelerated encoders
}

// GetFFmpegEncoders retrieves all available encoders from ffmpeg
func GetFFmpegEncoders(ctx context.Context) (*EncoderList, error) {
	if !IsFFmpegInstalled() {
		return nil, fmt.Errorf("ffmpeg is not installed or not in PATH")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", ffmpeg.EncodersListCommand())
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to execute encoders command: %w", err)
	}

	return parseEncoderOutput(string(output))
}

// IsFFmpegInstalled checks if ffmpeg is installed and available
func IsFFmpegInstalled() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

var (
	encoderRegex = regexp.MustCompile(`^\s*([VASF\.]{6})\s+(\w+)\s+(.+)$`)
	hwaccelRegex = regexp.MustCompile(`(?i)(nvenc|qsv|amf|vaapi|videotoolbox|vdpau|cuda|dxva2|d3d11va|opencl|vulkan)`)
)

// parseEncoderOutput processes the output of ffmpeg -encoders command
func parseEncoderOutput(output string) (*EncoderList, error) {
	result := &EncoderList{
		VideoEncoders:    []Encoder{},
		AudioEncoders:    []Encoder{},
		SubtitleEncoders: []Encoder{},
		OtherEncoders:    []Encoder{},
	}

	scanner := bufio.NewScanner(strings.NewReader(output))

	// Skip the legend until the "------" separator after "Encoders:"
	encodersStarted := false
	for scanner.Scan() {
		line := scanner.Text()
		if !encodersStarted {
			if strings.HasPrefix(strings.TrimSpace(line), "------") {
				encodersStarted = true
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		matches := encoderRegex.FindStringSubmatch(line)
		if len(matches) != 4 {
			continue
		}
		typeFlags, name, description := matches[1], matches[2], matches[3]

		encoderType := Unknown
		switch typeFlags[0] {
		case 'V':
			encoderType = VideoEncoder
		case 'A':
			encoderType = AudioEncoder
		case 'S':
			encoderType = SubtitleEncoder
		}

		encoder := Encoder{
			Type:        encoderType,
			Name:        name,
			Description: description,
			HWAccel:     hwaccelRegex.MatchString(name) || hwaccelRegex.MatchString(description),
		}

		switch encoderType {
		case VideoEncoder:
			result.VideoEncoders = append(result.VideoEncoders, encoder)
		case AudioEncoder:
			result.AudioEncoders = append(result.AudioEncoders, encoder)
		case SubtitleEncoder:
			result.SubtitleEncoders = append(result.SubtitleEncoders, encoder)
		default:
			result.OtherEncoders = append(result.OtherEncoders, encoder)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading output: %w", err)
	}

	return result, nil
}

// FilterEncoders applies filters to a list of encoders
func FilterEncoders(encoders *EncoderList, filter EncoderFilter) *EncoderList {
	matches := func(encoder Encoder) bool {
		if filter.Type != "" && string(encoder.Type) != filter.Type {
			return false
		}
		if filter.Hwaccel && !encoder.HWAccel {
			return false
		}
		if filter.Search != "" {
			term := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(encoder.Name), term) &&
				!strings.Contains(strings.ToLower(encoder.Description), term) {
				return false
			}
		}
		return true
	}

	filter1 := func(in []Encoder) []Encoder {
		out := []Encoder{}
		for _, e := range in {
			if matches(e) {
				out = append(out, e)
			}
		}
		return out
	}

	return &EncoderList{
		VideoEncoders:    filter1(encoders.VideoEncoders),
		AudioEncoders:    filter1(encoders.AudioEncoders),
		SubtitleEncoders: filter1(encoders.SubtitleEncoders),
		OtherEncoders:    filter1(encoders.OtherEncoders),
	}
}

// Selection is an H.264 encoder with the ffmpeg arguments it needs.
type Selection struct {
	Encoder      string   `json:"encoder"`
	Hardware     bool     `json:"hardware"`
	GlobalArgs   []string `json:"global_args,omitempty"`
	VideoFilters string   `json:"video_filters,omitempty"`
}

// Software is the fallback encoder.
var Software = Selection{Encoder: "libx264"}

// hardwarePreference lists H.264 hardware encoders in order of preference.
var hardwarePreference = []Selection{
	{Encoder: "h264_nvenc", Hardware: true, VideoFilters: "format=yuv420p"},
	{Encoder: "h264_qsv", Hardware: true,
		GlobalArgs:   []string{"-init_hw_device qsv=hw", "-filter_hw_device hw"},
		VideoFilters: "format=nv12,hwupload=extra_hw_frames=64"},
	{Encoder: "h264_vaapi", Hardware: true,
		GlobalArgs:   []string{"-vaapi_device /dev/dri/renderD128"},
		VideoFilters: "format=nv12,hwupload"},
	{Encoder: "h264_videotoolbox", Hardware: true, VideoFilters: "format=yuv420p"},
	{Encoder: "h264_amf", Hardware: true, VideoFilters: "format=yuv420p"},
}

// Select picks the encoder for an output. Without hardware, or when no
// hardware H.264 encoder is listed, it returns libx264.
func Select(list *EncoderList, hardware bool) Selection {
	if !hardware {
		return Software
	}
	for _, s := range hardwarePreference {
		if list.Has(s.Encoder) {
			return s
		}
	}
	return Software
}

// Detector probes ffmpeg once and caches the encoder list.
type Detector struct {
	once sync.Once
	list *EncoderList
	err  error
	load func(context.Context) (*EncoderList, error)
}

// NewDetector creates a Detector backed by GetFFmpegEncoders.
func NewDetector() *Detector {
	return &Detector{load: GetFFmpegEncoders}
}

// NewStaticDetector creates a Detector that reports list.
func NewStaticDetector(list *EncoderList) *Detector {
	return &Detector{load: func(context.Context) (*EncoderList, error) { return list, nil }}
}

// Encoders returns the cached encoder list, probing on first use.
func (d *Detector) Encoders(ctx context.Context) (*EncoderList, error) {
	d.once.Do(func() {
		d.list, d.err = d.load(ctx)
	})
	return d.list, d.err
}

// Select picks an encoder, falling back to libx264 when ffmpeg cannot be
// probed.
func (d *Detector) Select(ctx context.Context, hardware bool) Selection {
	if !hardware {
		return Software
	}
	list, err := d.Encoders(ctx)
	if err != nil {
		return Software
	}
	return Select(list, hardware)
}
