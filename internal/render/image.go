package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const maxImageBytes = 32 << 20

// LoadImage decodes an image from a file path, a file:// url or an http(s)
// url.
func LoadImage(ctx context.Context, client *http.Client, location string) (image.Image, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return loadFile(location)
	}

	switch u.Scheme {
	case "file":
		return loadFile(u.Path)
	case "http", "https":
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch image: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch image: %s returned %s", location, resp.Status)
		}
		return decode(io.LimitReader(resp.Body, maxImageBytes))
	}
	return nil, fmt.Errorf("unsupported image url scheme %q", u.Scheme)
}

func loadFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decode(f)
}

func decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// EncodePNG encodes img favoring speed over size.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
