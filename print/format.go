package print

import (
	"fmt"
	"strings"
)

// Format is the logical print format of a composed image.
type Format uint8

const (
	// FormatStandard is a full 4x6 print.
	FormatStandard Format = iota
	// FormatStrip is a 4x6 print carrying two 2-inch photo strips that
	// the printer cuts apart after printing.
	FormatStrip
)

// stripAspectLimit is the width/height ratio below which an image is
// classified as a strip. Two 2x6 strips stacked on a 4x6 canvas come out
// around 0.33; a plain 4x6 portrait is 0.66. The cutoff is deliberately a
// constant rather than a setting so the routing behavior is predictable
// across installs. If formats beyond 4x6 and 2x6 are ever added this
// becomes a lookup table instead of a single threshold.
const stripAspectLimit = 0.5

// Classify maps image pixel dimensions to a print format. Portrait
// dimensions are expected. A square image classifies Standard; the
// ambiguity is resolved toward the more common format.
func Classify(width, height int) Format {
	if width <= 0 || height <= 0 {
		return FormatStandard
	}
	if float64(width)/float64(height) < stripAspectLimit {
		return FormatStrip
	}
	return FormatStandard
}

func (f Format) String() string {
	switch f {
	case FormatStandard:
		return "standard"
	case FormatStrip:
		return "strip"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// ParseFormat parses the string form used in config files and URLs.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "standard":
		return FormatStandard, nil
	case "strip":
		return FormatStrip, nil
	default:
		return FormatStandard, fmt.Errorf("unknown print format %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler so formats serialize as
// their names in JSON.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
