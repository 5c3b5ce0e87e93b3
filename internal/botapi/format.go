package botapi

import (
	"fmt"
	"strings"
)

// Format selects how message text is rendered into the request.
type Format int

const (
	Plain Format = iota
	Monospace
)

// monoFence is the delimiter pair wrapped around monospace text.
const monoFence = "```"

func (f Format) String() string {
	switch f {
	case Monospace:
		return "monospace"
	default:
		return "plain"
	}
}

// ParseFormat accepts "plain" or "monospace" (also "mono").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "plain":
		return Plain, nil
	case "mono", "monospace":
		return Monospace, nil
	default:
		return Plain, fmt.Errorf("unknown format %q (use plain|monospace)", s)
	}
}

// UnmarshalText lets Format be decoded from YAML/flags.
func (f *Format) UnmarshalText(b []byte) error {
	v, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

func (f Format) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

var preEscaper = strings.NewReplacer("\\", "\\\\", "`", "\\`")

// Render returns the text to submit and the parse_mode ("" for none).
func Render(text string, f Format) (string, string) {
	if f != Monospace {
		return text, ""
	}
	return monoFence + "\n" + preEscaper.Replace(text) + "\n" + monoFence, "MarkdownV2"
}
