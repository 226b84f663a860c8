package ffmpeg

// DecodeParams describes an input decoded to raw frames on pipes.
type DecodeParams struct {
	Input           string
	IsFile          bool
	Looping         bool
	HardwareDecoder bool
	BufferMB        int

	// Decoded video is scaled to Width x Height RGBA at FPS (a rate such as
	// "30" or "30000/1001").
	Width  int
	Height int
	FPS    string

	// Audio is resampled to interleaved f32le on fd 3 when SampleRate > 0.
	SampleRate int
	Channels   int
}

// PublishParams describes an encoder fed raw RGBA on stdin and f32le audio
// on fd 3.
type PublishParams struct {
	// Input canvas
	Width      int
	Height     int
	FPS        string
	SampleRate int
	Channels   int

	// Scaled size; zero keeps the canvas size.
	OutputWidth  int
	OutputHeight int

	Encoder      string   // libx264, h264_nvenc, h264_vaapi, ...
	GlobalArgs   []string // -vaapi_device, -init_hw_device
	VideoFilters string   // format=nv12,hwupload

	RateControl      string // CBR or VBR
	VideoBitrateKbps int
	AudioBitrateKbps int
	KeyintSec        int
	KeyintFrames     int
	Preset           string
	Profile          string
	Tune             string
	X264Opts         string

	// TimestampOffset (seconds) continues timestamps of a previous
	// encoder session.
	TimestampOffset float64

	// ProgressPipe writes -progress blocks to fd 4.
	ProgressPipe bool

	URL        string
	RecordPath string
}
