package settings

import (
	"net/url"
	"strings"
)

// RateControl selects constant or variable bitrate.
type RateControl string

// Rate control modes.
const (
	RateCBR RateControl = "CBR"
	RateVBR RateControl = "VBR"
)

// Output describes one encode-and-publish pipeline.
type Output struct {
	Server string `toml:"server" json:"server,omitempty"`
	Key    string `toml:"key" json:"key,omitempty"`
	URL    string `toml:"url" json:"url,omitempty"`

	HardwareEnable   bool        `toml:"hardware_enable" json:"hardwareEnable"`
	Width            int         `toml:"width" json:"width,omitempty"`
	Height           int         `toml:"height" json:"height,omitempty"`
	KeyintSec        int         `toml:"keyint_sec" json:"keyintSec"`
	RateControl      RateControl `toml:"rate_control" json:"rateControl"`
	Preset           string      `toml:"preset" json:"preset,omitempty"`
	Profile          string      `toml:"profile" json:"profile,omitempty"`
	Tune             string      `toml:"tune" json:"tune,omitempty"`
	X264Opts         string      `toml:"x264opts" json:"x264opts,omitempty"`
	VideoBitrateKbps int         `toml:"video_bitrate_kbps" json:"videoBitrateKbps"`
	AudioBitrateKbps int         `toml:"audio_bitrate_kbps" json:"audioBitrateKbps"`
	DelaySec         int         `toml:"delay_sec" json:"delaySec,omitempty"`
	Mixers           int         `toml:"mixers" json:"mixers"`
	RecordEnable     bool        `toml:"record_enable" json:"recordEnable"`
	RecordFilePath   string      `toml:"record_file_path" json:"recordFilePath,omitempty"`

	// Binding: both empty is the program mix, SceneID alone is that scene's
	// composition, both set is one source's feed.
	SceneID  string `toml:"scene_id" json:"sceneId,omitempty"`
	SourceID string `toml:"source_id" json:"sourceId,omitempty"`
}

// Binding identifies what an output publishes.
type Binding struct {
	SceneID  string `json:"sceneId,omitempty"`
	SourceID string `json:"sourceId,omitempty"`
}

// Global reports whether the binding is the program mix.
func (b Binding) Global() bool { return b.SceneID == "" && b.SourceID == "" }

// Bind returns the output binding.
func (o Output) Bind() Binding {
	return Binding{SceneID: o.SceneID, SourceID: o.SourceID}
}

// PublishURL joins server and key unless URL is set.
func (o Output) PublishURL() string {
	if o.URL != "" {
		return o.URL
	}
	if o.Key == "" {
		return o.Server
	}
	return strings.TrimRight(o.Server, "/") + "/" + strings.TrimLeft(o.Key, "/")
}

// Normalize fills defaults.
func (o *Output) Normalize() {
	if o.KeyintSec == 0 {
		o.KeyintSec = 2
	}
	if o.RateControl == "" {
		o.RateControl = RateCBR
	}
	o.RateControl = RateControl(strings.ToUpper(string(o.RateControl)))
	if o.VideoBitrateKbps == 0 {
		o.VideoBitrateKbps = 2500
	}
	if o.AudioBitrateKbps == 0 {
		o.AudioBitrateKbps = 160
	}
	if o.Mixers == 0 {
		o.Mixers = 1
	}
}

// Validate checks the record. Reachability of the URL is not checked.
func (o Output) Validate() error {
	target := o.PublishURL()
	if target == "" {
		return invalid("url", "required")
	}
	if u, err := url.Parse(target); err != nil || u.Scheme == "" {
		return invalid("url", "must be an absolute url, got %q", target)
	}
	if (o.Width == 0) != (o.Height == 0) {
		return invalid("width", "width and height must be set together")
	}
	if o.Width < 0 || o.Height < 0 || o.Width%2 != 0 || o.Height%2 != 0 {
		return invalid("width", "dimensions must be positive and even, got %dx%d", o.Width, o.Height)
	}
	if o.KeyintSec < 1 || o.KeyintSec > 20 {
		return invalid("keyint_sec", "must be in 1..20, got %d", o.KeyintSec)
	}
	switch o.RateControl {
	case RateCBR, RateVBR:
	default:
		return invalid("rate_control", "must be CBR or VBR, got %q", o.RateControl)
	}
	if o.VideoBitrateKbps < 100 || o.VideoBitrateKbps > 100000 {
		return invalid("video_bitrate_kbps", "must be in 100..100000, got %d", o.VideoBitrateKbps)
	}
	if o.AudioBitrateKbps < 32 || o.AudioBitrateKbps > 512 {
		return invalid("audio_bitrate_kbps", "must be in 32..512, got %d", o.AudioBitrateKbps)
	}
	if o.DelaySec < 0 || o.DelaySec > 60 {
		return invalid("delay_sec", "must be in 0..60, got %d", o.DelaySec)
	}
	if o.Mixers < 1 || o.Mixers > 6 {
		return invalid("mixers", "must be in 1..6, got %d", o.Mixers)
	}
	if o.RecordEnable && strings.TrimSpace(o.RecordFilePath) == "" {
		return invalid("record_file_path", "required when recording")
	}
	if o.SourceID != "" && o.SceneID == "" {
		return invalid("scene_id", "required when source_id is set")
	}
	return nil
}

// Equal reports whether two outputs are configured identically.
func (o Output) Equal(other Output) bool {
	return o == other
}

// NeedsReencode reports whether moving from o to next needs a new encoder
// session. Binding and delay changes are handled without one.
func (o Output) NeedsReencode(next Output) bool {
	a, b := o, next
	a.SceneID, a.SourceID, a.DelaySec = "", "", 0
	b.SceneID, b.SourceID, b.DelaySec = "", "", 0
	return a != b
}
