package settings

import (
	"math"
	"net/url"
	"strings"
)

// SourceType selects the input driver.
type SourceType string

// Source types.
const (
	SourceLive  SourceType = "live"
	SourceMedia SourceType = "media"
	SourceImage SourceType = "image"
)

// Source describes one media input inside a scene.
type Source struct {
	Type            SourceType `toml:"type" json:"type"`
	URL             string     `toml:"url" json:"url"`
	IsFile          bool       `toml:"is_file" json:"isFile"`
	HardwareDecoder bool       `toml:"hardware_decoder" json:"hardwareDecoder"`
	StartOnActive   bool       `toml:"start_on_active" json:"startOnActive"`
	Looping         bool       `toml:"looping" json:"looping"`
	BufferMB        int        `toml:"buffer_mb" json:"bufferMb,omitempty"`

	Volume       float64 `toml:"volume" json:"volume"`
	AudioLock    bool    `toml:"audio_lock" json:"audioLock"`
	AudioMonitor bool    `toml:"audio_monitor" json:"audioMonitor"`

	// Output, when set, publishes this source's own feed. Its binding
	// fields are overwritten with the source identity.
	Output *Output `toml:"output,omitempty" json:"output,omitempty"`
}

// Normalize infers IsFile for media sources given a plain path.
func (s *Source) Normalize() {
	if s.Type == SourceMedia && !s.IsFile {
		s.IsFile = isLocalPath(s.URL)
	}
	if s.Output != nil {
		s.Output.Normalize()
	}
}

// isLocalPath reports whether location is a plain path or a file:// URL.
func isLocalPath(location string) bool {
	u, err := url.Parse(location)
	return err == nil && (u.Scheme == "" || u.Scheme == "file")
}

// Validate checks the record.
func (s Source) Validate() error {
	switch s.Type {
	case SourceLive, SourceMedia, SourceImage:
	case "":
		return invalid("type", "required")
	default:
		return invalid("type", "unknown source type %q", s.Type)
	}
	if strings.TrimSpace(s.URL) == "" {
		return invalid("url", "required")
	}
	if err := validateVolume("volume", s.Volume); err != nil {
		return err
	}
	if s.BufferMB < 0 || s.BufferMB > 1024 {
		return invalid("buffer_mb", "must be in 0..1024, got %d", s.BufferMB)
	}
	if s.Output != nil {
		if err := s.Output.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// NeedsReopen reports whether moving from s to next requires re-opening the
// input rather than adjusting it in place.
func (s Source) NeedsReopen(next Source) bool {
	return s.URL != next.URL || s.HardwareDecoder != next.HardwareDecoder ||
		s.Looping != next.Looping || s.IsFile != next.IsFile || s.BufferMB != next.BufferMB
}

// SourcePatch is a partial source update. Nil fields are left unchanged.
type SourcePatch struct {
	URL             *string  `json:"url,omitempty"`
	HardwareDecoder *bool    `json:"hardwareDecoder,omitempty"`
	StartOnActive   *bool    `json:"startOnActive,omitempty"`
	Looping         *bool    `json:"looping,omitempty"`
	Volume          *float64 `json:"volume,omitempty"`
	AudioLock       *bool    `json:"audioLock,omitempty"`
	AudioMonitor    *bool    `json:"audioMonitor,omitempty"`
}

// Empty reports whether the patch sets nothing.
func (p SourcePatch) Empty() bool {
	return p == SourcePatch{}
}

// Validate checks the fields that are present.
func (p SourcePatch) Validate() error {
	if p.URL != nil && strings.TrimSpace(*p.URL) == "" {
		return invalid("url", "must not be empty")
	}
	if p.Volume != nil {
		return validateVolume("volume", *p.Volume)
	}
	return nil
}

// Apply returns s with the present fields of p applied. A new URL decides
// IsFile again, since the old value described the previous location.
func (p SourcePatch) Apply(s Source) Source {
	if p.URL != nil && *p.URL != s.URL {
		s.URL = *p.URL
		s.IsFile = s.Type == SourceMedia && isLocalPath(s.URL)
	}
	if p.HardwareDecoder != nil {
		s.HardwareDecoder = *p.HardwareDecoder
	}
	if p.StartOnActive != nil {
		s.StartOnActive = *p.StartOnActive
	}
	if p.Looping != nil {
		s.Looping = *p.Looping
	}
	if p.Volume != nil {
		s.Volume = *p.Volume
	}
	if p.AudioLock != nil {
		s.AudioLock = *p.AudioLock
	}
	if p.AudioMonitor != nil {
		s.AudioMonitor = *p.AudioMonitor
	}
	return s
}

// MinVolume is treated as silence.
const MinVolume = -100.0

// MaxVolume is the highest fader gain.
const MaxVolume = 26.0

func validateVolume(field string, db float64) error {
	if math.IsNaN(db) {
		return invalid(field, "must be a number")
	}
	if db < MinVolume || db > MaxVolume {
		return invalid(field, "must be in %.0f..26 dB, got %.2f", MinVolume, db)
	}
	return nil
}
