package ffmpeg

import (
	"strings"
	"testing"
)

func TestReadProgress(t *testing.T) {
	input := `frame=120
fps=29.97
drop_frames=1
dup_frames=0
speed=1.01x
progress=continue
frame=150
fps=30.00
speed= 1x
progress=end
`
	var got []Progress
	if err := ReadProgress(strings.NewReader(input), func(p Progress) { got = append(got, p) }); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("blocks = %d, want 2", len(got))
	}
	if got[0].Frame != 120 || got[0].FPS != 29.97 || got[0].Dropped != 1 || got[0].Speed != 1.01 || got[0].Ended {
		t.Errorf("first block = %+v", got[0])
	}
	if got[1].Frame != 150 || got[1].Speed != 1 || !got[1].Ended {
		t.Errorf("second block = %+v", got[1])
	}
}
