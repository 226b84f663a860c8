package encoders

import (
	"context"
	"errors"
	"testing"
)

const sampleOutput = `Encoders:
 V..... = Video
 A..... = Audio
 S..... = Subtitle
 .F.... = Frame-level multithreading
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V....D h264_vaapi           H.264/AVC (VAAPI) (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
 S..... srt                  SubRip subtitle
`

func TestParseEncoderOutput(t *testing.T) {
	list, err := parseEncoderOutput(sampleOutput)
	if err != nil {
		t.Fatal(err)
	}
	if len(list.VideoEncoders) != 3 {
		t.Fatalf("video encoders = %d, want 3: %+v", len(list.VideoEncoders), list.VideoEncoders)
	}
	if len(list.AudioEncoders) != 1 || list.AudioEncoders[0].Name != "aac" {
		t.Errorf("audio encoders = %+v", list.AudioEncoders)
	}
	if len(list.SubtitleEncoders) != 1 {
		t.Errorf("subtitle encoders = %+v", list.SubtitleEncoders)
	}
	if list.VideoEncoders[0].HWAccel {
		t.Error("libx264 should not be hardware accelerated")
	}
	if !list.VideoEncoders[1].HWAccel || !list.VideoEncoders[2].HWAccel {
		t.Error("nvenc and vaapi should be hardware accelerated")
	}
}

func TestFilterEncoders(t *testing.T) {
	list, _ := parseEncoderOutput(sampleOutput)

	hw := FilterEncoders(list, EncoderFilter{Hwaccel: true})
	if len(hw.VideoEncoders) != 2 || len(hw.AudioEncoders) != 0 {
		t.Errorf("hwaccel filter = %+v", hw)
	}

	search := FilterEncoders(list, EncoderFilter{Type: "V", Search: "VAAPI"})
	if len(search.VideoEncoders) != 1 || search.VideoEncoders[0].Name != "h264_vaapi" {
		t.Errorf("search filter = %+v", search.VideoEncoders)
	}
}

func TestSelect(t *testing.T) {
	list, _ := parseEncoderOutput(sampleOutput)

	if got := Select(list, false); got.Encoder != "libx264" {
		t.Errorf("software select = %s", got.Encoder)
	}
	if got := Select(list, true); got.Encoder != "h264_nvenc" || !got.Hardware {
		t.Errorf("hardware select = %+v", got)
	}

	onlyVaapi := &EncoderList{VideoEncoders: []Encoder{{Type: VideoEncoder, Name: "h264_vaapi"}}}
	got := Select(onlyVaapi, true)
	if got.Encoder != "h264_vaapi" || len(got.GlobalArgs) == 0 || got.VideoFilters == "" {
		t.Errorf("vaapi select = %+v", got)
	}

	if got := Select(&EncoderList{}, true); got.Encoder != "libx264" {
		t.Errorf("fallback select = %s", got.Encoder)
	}
}

func TestDetectorCachesAndFallsBack(t *testing.T) {
	calls := 0
	d := &Detector{load: func(context.Context) (*EncoderList, error) {
		calls++
		return nil, errors.New("no ffmpeg")
	}}

	for range 3 {
		if got := d.Select(context.Background(), true); got.Encoder != "libx264" {
			t.Errorf("select = %s, want libx264", got.Encoder)
		}
	}
	if calls != 1 {
		t.Errorf("load called %d times, want 1", calls)
	}
}
