package ffmpeg

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Progress is one block of ffmpeg -progress output.
type Progress struct {
	Frame   uint64
	FPS     float64
	Speed   float64
	Dropped uint64
	Dup     uint64
	Ended   bool
}

// ReadProgress parses key=value blocks written by ffmpeg -progress and
// calls fn at the end of each block. It returns when r is exhausted.
func ReadProgress(r io.Reader, fn func(Progress)) error {
	scanner := bufio.NewScanner(r)
	data := make(map[string]string)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		data[strings.TrimSpace(key)] = strings.TrimSpace(value)

		if key == "progress" {
			fn(parseProgress(data))
			data = make(map[string]string)
		}
	}
	return scanner.Err()
}

func parseProgress(data map[string]string) Progress {
	var p Progress
	p.Frame, _ = strconv.ParseUint(data["frame"], 10, 64)
	p.FPS, _ = strconv.ParseFloat(data["fps"], 64)
	p.Dropped, _ = strconv.ParseUint(data["drop_frames"], 10, 64)
	p.Dup, _ = strconv.ParseUint(data["dup_frames"], 10, 64)
	p.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(data["speed"], "x"), 64)
	p.Ended = data["progress"] == "end"
	return p
}
