package certificate

import (
	"bytes"
	"image/color"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/colornames"
	"gopkg.in/yaml.v3"
)

// Source is the value a field draws.
type Source string

const (
	SourceName   Source = "name"
	SourceCourse Source = "course"
	SourceDate   Source = "date"
)

// Default asset keys, relative to the asset root.
const (
	DefaultTemplate  = "templates/certificate_template1.png"
	DefaultNameFont  = "fonts/PlayfairDisplay-VariableFont_wght.ttf"
	DefaultDateFont  = "fonts/Cardo-Regular.ttf"
	DefaultTextColor = "black"
)

// Layout describes where each text goes on the template.
type Layout struct {
	Template string  `yaml:"template"`
	Fields   []Field `yaml:"fields"`
}

// Field is one text drawn on the template. X and Y are the top-left corner of the text in pixels.
type Field struct {
	Source Source  `yaml:"source"`
	Font   string  `yaml:"font"`
	Size   float64 `yaml:"size"` // pixels
	X      int     `yaml:"x"`
	Y      int     `yaml:"y"`
	Color  string  `yaml:"color"` // CSS color name or #rgb / #rrggbb
}

// DefaultLayout returns the stock certificate layout.
func DefaultLayout() Layout {
	return Layout{
		Template: DefaultTemplate,
		Fields: []Field{
			{Source: SourceName, Font: DefaultNameFont, Size: 90, X: 510, Y: 500, Color: DefaultTextColor},
			{Source: SourceDate, Font: DefaultDateFont, Size: 45, X: 840, Y: 950, Color: DefaultTextColor},
			{Source: SourceCourse, Font: DefaultNameFont, Size: 40, X: 490, Y: 705, Color: DefaultTextColor},
		},
	}
}

// ParseLayout decodes a YAML layout and validates it. Unknown keys are rejected.
func ParseLayout(data []byte) (Layout, error) {
	var l Layout

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil {
		return Layout{}, errors.Wrap(err, "failed to decode layout")
	}

	for i := range l.Fields {
		if l.Fields[i].Color == "" {
			l.Fields[i].Color = DefaultTextColor
		}
	}

	if err := l.Validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// LoadLayout reads a YAML layout file.
func LoadLayout(path string) (Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, errors.Wrapf(err, "failed to read layout %s", path)
	}
	return ParseLayout(data)
}

// Validate checks the layout without touching any asset.
func (l Layout) Validate() error {
	if l.Template == "" {
		return errors.New("layout: template is empty")
	}
	if len(l.Fields) == 0 {
		return errors.New("layout: no fields")
	}

	for i, f := range l.Fields {
		switch f.Source {
		case SourceName, SourceCourse, SourceDate:
		default:
			return errors.Errorf("layout: field %d: unknown source %q", i, f.Source)
		}
		if f.Font == "" {
			return errors.Errorf("layout: field %d: font is empty", i)
		}
		if f.Size <= 0 {
			return errors.Errorf("layout: field %d: size must be positive", i)
		}
		if _, err := parseColor(f.Color); err != nil {
			return errors.Wrapf(err, "layout: field %d", i)
		}
	}
	return nil
}

// Assets returns the distinct asset keys the layout needs, template first.
func (l Layout) Assets() []string {
	keys := []string{l.Template}
	seen := map[string]bool{l.Template: true}
	for _, f := range l.Fields {
		if !seen[f.Font] {
			seen[f.Font] = true
			keys = append(keys, f.Font)
		}
	}
	return keys
}

func parseColor(s string) (color.Color, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if c, ok := colornames.Map[s]; ok {
		return c, nil
	}

	hex, ok := strings.CutPrefix(s, "#")
	if !ok {
		return nil, errors.Errorf("unknown color %q", s)
	}
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return nil, errors.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, errors.Errorf("invalid hex color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
