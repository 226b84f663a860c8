package settings

import (
	"image/color"
	"strconv"
	"strings"
)

// OverlayType is the overlay kind. Only caption graphics exist.
type OverlayType string

// OverlayCG is a caption-graphic overlay.
const OverlayCG OverlayType = "cg"

// ItemType is the kind of an overlay item.
type ItemType string

// Overlay item kinds.
const (
	ItemText  ItemType = "text"
	ItemImage ItemType = "image"
)

// Overlay is a compositing layer above the program.
type Overlay struct {
	ID    string        `toml:"id" json:"id"`
	Name  string        `toml:"name" json:"name,omitempty"`
	Type  OverlayType   `toml:"type" json:"type"`
	Items []OverlayItem `toml:"items" json:"items"`
}

// OverlayItem is one drawable element in canvas coordinates.
type OverlayItem struct {
	Type   ItemType `toml:"type" json:"type"`
	X      int      `toml:"x" json:"x"`
	Y      int      `toml:"y" json:"y"`
	Width  int      `toml:"width" json:"width"`
	Height int      `toml:"height" json:"height"`

	URL string `toml:"url" json:"url,omitempty"`

	Content    string `toml:"content" json:"content,omitempty"`
	FontSize   int    `toml:"font_size" json:"fontSize,omitempty"`
	FontFamily string `toml:"font_family" json:"fontFamily,omitempty"`
	ColorABGR  string `toml:"color_abgr" json:"colorABGR,omitempty"`
}

// Normalize fills defaults.
func (o *Overlay) Normalize() {
	if o.Type == "" {
		o.Type = OverlayCG
	}
	o.Type = OverlayType(strings.ToLower(string(o.Type)))
	for i := range o.Items {
		it := &o.Items[i]
		if it.Type == ItemText {
			if it.FontSize == 0 {
				it.FontSize = 32
			}
			if it.ColorABGR == "" {
				it.ColorABGR = "ffffffff"
			}
		}
	}
}

// Validate checks the overlay and its items.
func (o Overlay) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return invalid("id", "required")
	}
	if o.Type != OverlayCG {
		return invalid("type", "unknown overlay type %q", o.Type)
	}
	for i, it := range o.Items {
		field := "items[" + strconv.Itoa(i) + "]"
		if it.Width <= 0 || it.Height <= 0 {
			return invalid(field, "width and height must be positive")
		}
		switch it.Type {
		case ItemImage:
			if strings.TrimSpace(it.URL) == "" {
				return invalid(field+".url", "required for image items")
			}
		case ItemText:
			if it.FontSize <= 0 || it.FontSize > 1000 {
				return invalid(field+".font_size", "must be in 1..1000, got %d", it.FontSize)
			}
			if _, err := ParseABGR(it.ColorABGR); err != nil {
				return invalid(field+".color_abgr", "%v", err)
			}
		default:
			return invalid(field+".type", "unknown item type %q", it.Type)
		}
	}
	return nil
}

// ParseABGR parses an AABBGGRR hex color, with or without a leading "#" or
// "0x". Six digits mean opaque BBGGRR.
func ParseABGR(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(s), "#"), "0x")
	if len(s) == 6 {
		s = "ff" + s
	}
	if len(s) != 8 {
		return color.NRGBA{}, invalid("color", "expected 8 hex digits, got %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, invalid("color", "not hex: %q", s)
	}
	return color.NRGBA{
		A: uint8(v >> 24),
		B: uint8(v >> 16),
		G: uint8(v >> 8),
		R: uint8(v),
	}, nil
}
