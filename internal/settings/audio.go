package settings

// AudioMode selects which sources reach the master bus.
type AudioMode string

// Audio modes.
const (
	// AudioFollow mixes only the sources of the program scene.
	AudioFollow AudioMode = "follow"
	// AudioStandalone mixes every source regardless of the program.
	AudioStandalone AudioMode = "standalone"
)

// Mix is the master bus state.
type Mix struct {
	MasterVolume float64   `toml:"master_volume" json:"masterVolume"`
	Mode         AudioMode `toml:"mode" json:"mode"`
}

// DefaultMix is the bus state after startup.
func DefaultMix() Mix {
	return Mix{MasterVolume: 0, Mode: AudioFollow}
}

// MixPatch updates the bus partially.
type MixPatch struct {
	MasterVolume *float64   `json:"masterVolume,omitempty"`
	Mode         *AudioMode `json:"mode,omitempty"`
}

// Validate checks the fields that are present.
func (p MixPatch) Validate() error {
	if p.MasterVolume != nil {
		if err := validateVolume("master_volume", *p.MasterVolume); err != nil {
			return err
		}
	}
	if p.Mode != nil {
		switch *p.Mode {
		case AudioFollow, AudioStandalone:
		default:
			return invalid("mode", "must be follow or standalone, got %q", *p.Mode)
		}
	}
	return nil
}

// Apply returns m with the present fields of p applied.
func (p MixPatch) Apply(m Mix) Mix {
	if p.MasterVolume != nil {
		m.MasterVolume = *p.MasterVolume
	}
	if p.Mode != nil {
		m.Mode = *p.Mode
	}
	return m
}
