package models

import (
	"time"

	"github.com/smazurov/compositor/internal/encoders"
	"github.com/smazurov/compositor/internal/engine"
	"github.com/smazurov/compositor/internal/output"
	"github.com/smazurov/compositor/internal/settings"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
	Engine  bool   `json:"engine" example:"true" doc:"Whether the engine is running"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc123" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build date"`
	Modified  bool   `json:"modified" doc:"Built from a dirty working tree"`
	GoVersion string `json:"go_version" example:"go1.24" doc:"Go version"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Engine models
type EngineData struct {
	Running  bool               `json:"running" example:"true" doc:"Whether the engine is running"`
	Settings *settings.Settings `json:"settings,omitempty" doc:"Settings the engine was started with"`
}

type EngineResponse struct {
	Body EngineData
}

// StartupData mirrors settings.Settings; zero fields take their defaults.
type StartupData struct {
	BaseWidth    int `json:"baseWidth" minimum:"2" example:"1280" doc:"Canvas width"`
	BaseHeight   int `json:"baseHeight" minimum:"2" example:"720" doc:"Canvas height"`
	OutputWidth  int `json:"outputWidth,omitempty" example:"1280" doc:"Encoded width, defaults to the canvas width"`
	OutputHeight int `json:"outputHeight,omitempty" example:"720" doc:"Encoded height, defaults to the canvas height"`
	FPSNum       int `json:"fpsNum" minimum:"1" example:"30" doc:"Frame rate numerator"`
	FPSDen       int `json:"fpsDen,omitempty" example:"1" doc:"Frame rate denominator"`
	SampleRate   int `json:"sampleRate" example:"48000" doc:"Audio sample rate"`
	Channels     int `json:"channels,omitempty" example:"2" doc:"Audio channel count"`

	Locale              string `json:"locale,omitempty" example:"en-US" doc:"Locale"`
	FontDirectory       string `json:"fontDirectory,omitempty" doc:"Directory searched for overlay fonts"`
	ShowTimestamp       bool   `json:"showTimestamp,omitempty" doc:"Draw a wall clock over the program"`
	TimestampFontPath   string `json:"timestampFontPath,omitempty" doc:"Font file for the wall clock"`
	TimestampFontHeight int    `json:"timestampFontHeight,omitempty" example:"40" doc:"Wall clock font height"`
	StallTimeoutMs      int    `json:"stallTimeoutMs,omitempty" example:"5000" doc:"Frame gap after which a source counts as stalled"`
}

type StartupRequest struct {
	Body StartupData
}

// Settings converts the request into engine settings.
func (d StartupData) Settings() settings.Settings {
	return settings.Settings{
		Locale:              d.Locale,
		FontDirectory:       d.FontDirectory,
		ShowTimestamp:       d.ShowTimestamp,
		TimestampFontPath:   d.TimestampFontPath,
		TimestampFontHeight: d.TimestampFontHeight,
		StallTimeoutMs:      d.StallTimeoutMs,
		Video: settings.Video{
			BaseWidth:    d.BaseWidth,
			BaseHeight:   d.BaseHeight,
			OutputWidth:  d.OutputWidth,
			OutputHeight: d.OutputHeight,
			FPSNum:       d.FPSNum,
			FPSDen:       d.FPSDen,
		},
		Audio: settings.Audio{SampleRate: d.SampleRate, Channels: d.Channels},
	}
}

// Scene models
type SceneRequest struct {
	Body struct {
		ID string `json:"id" minLength:"1" example:"main" doc:"Scene identifier"`
	}
}

type SceneResponse struct {
	Body engine.SceneInfo
}

type SceneListData struct {
	Scenes []engine.SceneInfo `json:"scenes" doc:"Scenes in creation order"`
	Count  int                `json:"count" example:"2" doc:"Number of scenes"`
}

type SceneListResponse struct {
	Body SceneListData
}

type ScenePath struct {
	SceneID string `path:"scene_id" example:"main" doc:"Scene identifier"`
}

// Source models
type SourcePath struct {
	SceneID  string `path:"scene_id" example:"main" doc:"Scene identifier"`
	SourceID string `path:"source_id" example:"cam1" doc:"Source identifier"`
}

type SourceData struct {
	ID              string      `json:"id" minLength:"1" example:"cam1" doc:"Source identifier, unique within the scene"`
	Type            string      `json:"type" enum:"live,media,image" example:"live" doc:"Source type"`
	URL             string      `json:"url" minLength:"1" example:"rtmp://ingest.example.com/live/cam1" doc:"Stream URL or file path"`
	IsFile          bool        `json:"isFile,omitempty" doc:"Treat the URL as a local file"`
	HardwareDecoder bool        `json:"hardwareDecoder,omitempty" doc:"Decode with hardware acceleration"`
	StartOnActive   bool        `json:"startOnActive,omitempty" doc:"Play only while the scene is on program"`
	Looping         bool        `json:"looping,omitempty" doc:"Restart media at end of file"`
	BufferMB        int         `json:"bufferMb,omitempty" example:"2" doc:"Network buffer size"`
	Volume          float64     `json:"volume,omitempty" example:"-6" doc:"Fader in dB"`
	AudioLock       bool        `json:"audioLock,omitempty" doc:"Hold the fader at its current value"`
	AudioMonitor    bool        `json:"audioMonitor,omitempty" doc:"Send post-fader audio to the monitor"`
	Output          *OutputData `json:"output,omitempty" doc:"Publish this source's own feed"`
}

type SourceRequest struct {
	SceneID string `path:"scene_id" example:"main" doc:"Scene identifier"`
	Body    SourceData
}

// Settings converts the request into source settings.
func (d SourceData) Settings() settings.Source {
	s := settings.Source{
		Type:            settings.SourceType(d.Type),
		URL:             d.URL,
		IsFile:          d.IsFile,
		HardwareDecoder: d.HardwareDecoder,
		StartOnActive:   d.StartOnActive,
		Looping:         d.Looping,
		BufferMB:        d.BufferMB,
		Volume:          d.Volume,
		AudioLock:       d.AudioLock,
		AudioMonitor:    d.AudioMonitor,
	}
	if d.Output != nil {
		o := d.Output.Settings()
		s.Output = &o
	}
	return s
}

type SourcePatchRequest struct {
	SceneID  string `path:"scene_id" example:"main" doc:"Scene identifier"`
	SourceID string `path:"source_id" example:"cam1" doc:"Source identifier"`
	Body     settings.SourcePatch
}

type SourceResponse struct {
	Body engine.SourceInfo
}

type SourceListData struct {
	Sources []engine.SourceInfo `json:"sources" doc:"Sources in stacking order"`
	Count   int                 `json:"count" example:"1" doc:"Number of sources"`
}

type SourceListResponse struct {
	Body SourceListData
}

// Program models
type SwitchData struct {
	SceneID    string     `json:"sceneId" minLength:"1" example:"main" doc:"Scene to put on program"`
	Transition string     `json:"transition,omitempty" example:"fade" doc:"cut, fade, swipe or slide"`
	DurationMs int        `json:"durationMs,omitempty" example:"500" doc:"Transition duration"`
	At         *time.Time `json:"at,omitempty" doc:"Switch at this time instead of now, at most two seconds ahead"`
}

type SwitchRequest struct {
	Body SwitchData
}

type ProgramResponse struct {
	Body engine.ProgramInfo
}

// Output models
type OutputPath struct {
	OutputID string `path:"output_id" example:"primary" doc:"Output identifier"`
}

type OutputData struct {
	Server string `json:"server,omitempty" example:"rtmp://live.example.com/app" doc:"RTMP server, joined with key"`
	Key    string `json:"key,omitempty" doc:"Stream key"`
	URL    string `json:"url,omitempty" example:"rtmp://live.example.com/app/key" doc:"Full publish URL, overrides server and key"`

	HardwareEnable   bool   `json:"hardwareEnable,omitempty" doc:"Prefer a hardware H.264 encoder"`
	Width            int    `json:"width,omitempty" example:"1280" doc:"Encoded width"`
	Height           int    `json:"height,omitempty" example:"720" doc:"Encoded height"`
	KeyintSec        int    `json:"keyintSec,omitempty" example:"2" doc:"Keyframe interval"`
	RateControl      string `json:"rateControl,omitempty" example:"CBR" doc:"CBR, VBR or ABR"`
	Preset           string `json:"preset,omitempty" example:"veryfast" doc:"x264 preset"`
	Profile          string `json:"profile,omitempty" example:"main" doc:"H.264 profile"`
	Tune             string `json:"tune,omitempty" example:"zerolatency" doc:"x264 tune"`
	X264Opts         string `json:"x264opts,omitempty" doc:"Extra x264 options"`
	VideoBitrateKbps int    `json:"videoBitrateKbps,omitempty" example:"2500" doc:"Video bitrate"`
	AudioBitrateKbps int    `json:"audioBitrateKbps,omitempty" example:"160" doc:"Audio bitrate"`
	DelaySec         int    `json:"delaySec,omitempty" doc:"Publish delay"`
	Mixers           int    `json:"mixers,omitempty" example:"1" doc:"Audio tracks"`
	RecordEnable     bool   `json:"recordEnable,omitempty" doc:"Also record to a file"`
	RecordFilePath   string `json:"recordFilePath,omitempty" doc:"Recording path"`

	SceneID  string `json:"sceneId,omitempty" example:"main" doc:"Publish one scene instead of the program"`
	SourceID string `json:"sourceId,omitempty" example:"cam1" doc:"Publish one source of that scene"`
}

// Settings converts the request into output settings.
func (d OutputData) Settings() settings.Output {
	return settings.Output{
		Server:           d.Server,
		Key:              d.Key,
		URL:              d.URL,
		HardwareEnable:   d.HardwareEnable,
		Width:            d.Width,
		Height:           d.Height,
		KeyintSec:        d.KeyintSec,
		RateControl:      settings.RateControl(d.RateControl),
		Preset:           d.Preset,
		Profile:          d.Profile,
		Tune:             d.Tune,
		X264Opts:         d.X264Opts,
		VideoBitrateKbps: d.VideoBitrateKbps,
		AudioBitrateKbps: d.AudioBitrateKbps,
		DelaySec:         d.DelaySec,
		Mixers:           d.Mixers,
		RecordEnable:     d.RecordEnable,
		RecordFilePath:   d.RecordFilePath,
		SceneID:          d.SceneID,
		SourceID:         d.SourceID,
	}
}

type OutputRequest struct {
	Body struct {
		ID string `json:"id" minLength:"1" example:"primary" doc:"Output identifier"`
		OutputData
	}
}

type OutputUpdateRequest struct {
	OutputID string `path:"output_id" example:"primary" doc:"Output identifier"`
	Body     OutputData
}

type OutputResponse struct {
	Body output.Info
}

type OutputListData struct {
	Outputs []output.Info `json:"outputs" doc:"Outputs sorted by id"`
	Count   int           `json:"count" example:"1" doc:"Number of outputs"`
}

type OutputListResponse struct {
	Body OutputListData
}

// Overlay models
type OverlayPath struct {
	OverlayID string `path:"overlay_id" example:"lower-third" doc:"Overlay identifier"`
}

type OverlayItemData struct {
	Type       string `json:"type" enum:"text,image" example:"text" doc:"Item type"`
	X          int    `json:"x,omitempty" doc:"Left edge in canvas pixels"`
	Y          int    `json:"y,omitempty" doc:"Top edge in canvas pixels"`
	Width      int    `json:"width" minimum:"1" example:"400" doc:"Item width"`
	Height     int    `json:"height" minimum:"1" example:"60" doc:"Item height"`
	URL        string `json:"url,omitempty" doc:"Image location for image items"`
	Content    string `json:"content,omitempty" example:"Breaking news" doc:"Text for text items"`
	FontSize   int    `json:"fontSize,omitempty" example:"32" doc:"Font size"`
	FontFamily string `json:"fontFamily,omitempty" doc:"Font family"`
	ColorABGR  string `json:"colorABGR,omitempty" example:"ffffffff" doc:"Text color as AABBGGRR hex"`
}

type OverlayData struct {
	ID    string            `json:"id" minLength:"1" example:"lower-third" doc:"Overlay identifier"`
	Name  string            `json:"name,omitempty" doc:"Display name"`
	Type  string            `json:"type,omitempty" example:"cg" doc:"Overlay type"`
	Items []OverlayItemData `json:"items" doc:"Items drawn in order"`
	Up    bool              `json:"up,omitempty" doc:"Show the overlay right away"`
}

// Settings converts the request into overlay settings.
func (d OverlayData) Settings() settings.Overlay {
	ov := settings.Overlay{ID: d.ID, Name: d.Name, Type: settings.OverlayType(d.Type)}
	for _, it := range d.Items {
		ov.Items = append(ov.Items, settings.OverlayItem{
			Type:       settings.ItemType(it.Type),
			X:          it.X,
			Y:          it.Y,
			Width:      it.Width,
			Height:     it.Height,
			URL:        it.URL,
			Content:    it.Content,
			FontSize:   it.FontSize,
			FontFamily: it.FontFamily,
			ColorABGR:  it.ColorABGR,
		})
	}
	return ov
}

type OverlayRequest struct {
	Body OverlayData
}

type OverlayListData struct {
	Overlays []engine.OverlayInfo `json:"overlays" doc:"Overlays in drawing order"`
	Count    int                  `json:"count" example:"1" doc:"Number of overlays"`
}

type OverlayListResponse struct {
	Body OverlayListData
}

// Audio models
type AudioRequest struct {
	Body settings.MixPatch
}

type AudioResponse struct {
	Body settings.Mix
}

// Display models
type DisplayPath struct {
	Name string `path:"name" example:"preview" doc:"Display name"`
}

type DisplayRequest struct {
	Body struct {
		Name        string   `json:"name" minLength:"1" example:"preview" doc:"Display name"`
		ScaleFactor float64  `json:"scaleFactor,omitempty" example:"1" doc:"Surface pixels per logical pixel"`
		SourceIDs   []string `json:"sourceIds" minItems:"1" example:"[\"main\"]" doc:"Scene ids or scene/source keys to show"`
	}
}

type DisplayMoveRequest struct {
	Name string `path:"name" example:"preview" doc:"Display name"`
	Body struct {
		X      int `json:"x" example:"0" doc:"Left edge"`
		Y      int `json:"y" example:"0" doc:"Top edge"`
		Width  int `json:"width" minimum:"1" example:"640" doc:"Logical width"`
		Height int `json:"height" minimum:"1" example:"360" doc:"Logical height"`
	}
}

type DisplayUpdateRequest struct {
	Name string `path:"name" example:"preview" doc:"Display name"`
	Body struct {
		SourceIDs []string `json:"sourceIds" minItems:"1" doc:"Scene ids or scene/source keys to show"`
	}
}

type DisplayResponse struct {
	Body engine.DisplayInfo
}

type DisplayListData struct {
	Displays []engine.DisplayInfo `json:"displays" doc:"Displays sorted by name"`
	Count    int                  `json:"count" example:"1" doc:"Number of displays"`
}

type DisplayListResponse struct {
	Body DisplayListData
}

// ImageResponse carries a PNG.
type ImageResponse struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// Encoder models
type EncoderData struct {
	VideoEncoders []encoders.Encoder `json:"video_encoders" doc:"Video encoders ffmpeg reports"`
	Software      encoders.Selection `json:"software" doc:"Encoder used without hardware"`
	Hardware      encoders.Selection `json:"hardware" doc:"Encoder picked when hardwareEnable is set"`
}

type EncodersResponse struct {
	Body EncoderData
}
