package browser

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

const (
	// DefaultLabelKey is the property used for labels when none is configured.
	DefaultLabelKey = "name"
	// DefaultColor is used when a colour template does not resolve.
	DefaultColor = "DarkBlue"
)

// LabelRule derives a feature label. Key is either a property name or a
// template such as "{name} ({foo})".
type LabelRule struct {
	Key string
}

// Label returns the label for f. Missing properties render as empty text.
func (r LabelRule) Label(f *Feature) string {
	key := r.Key
	if key == "" {
		key = DefaultLabelKey
	}
	if IsTemplate(key) {
		return Expand(key, f.Property)
	}
	v, _ := f.Property(key)
	return v
}

// ColorRule derives a feature colour from a fixed value or a template like
// "{mycolor}", falling back to Default.
type ColorRule struct {
	Template string
	Default  string
}

// Swatch is a resolved colour.
type Swatch struct {
	Name string
	RGBA color.RGBA
}

// CSS returns the colour in the form browsers report computed styles.
func (s Swatch) CSS() string {
	return fmt.Sprintf("rgb(%d, %d, %d)", s.RGBA.R, s.RGBA.G, s.RGBA.B)
}

// Color resolves the swatch for f.
func (r ColorRule) Color(f *Feature) Swatch {
	if r.Template != "" {
		name := Expand(r.Template, f.Property)
		if c, ok := ParseColor(name); ok {
			return Swatch{Name: strings.TrimSpace(name), RGBA: c}
		}
	}
	return r.fallback()
}

func (r ColorRule) fallback() Swatch {
	if c, ok := ParseColor(r.Default); ok {
		return Swatch{Name: r.Default, RGBA: c}
	}
	c, _ := ParseColor(DefaultColor)
	return Swatch{Name: DefaultColor, RGBA: c}
}

// ParseColor accepts CSS named colours (case-insensitive) and #rgb / #rrggbb.
func ParseColor(s string) (color.RGBA, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return color.RGBA{}, false
	}
	if c, ok := colornames.Map[s]; ok {
		return c, true
	}
	if !strings.HasPrefix(s, "#") {
		return color.RGBA{}, false
	}
	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, false
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, true
}

// Rules are the map-wide label and colour settings. A data layer may
// override either one.
type Rules struct {
	Label LabelRule
	Color ColorRule
}

// merge returns r with the non-empty layer overrides applied.
func (r Rules) merge(s LayerSettings) Rules {
	if s.LabelKey != "" {
		r.Label.Key = s.LabelKey
	}
	if s.Color != "" {
		r.Color.Template = s.Color
	}
	return r
}
