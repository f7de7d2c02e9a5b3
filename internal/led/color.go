package led

import (
	"encoding"
	"fmt"
	"strconv"
	"strings"
)

// MaxColor is the largest 24-bit color value.
const MaxColor = 0xFFFFFF

// RGBColor is a 24-bit color, one byte per channel.
type RGBColor [3]uint8

var (
	_ encoding.TextUnmarshaler = (*RGBColor)(nil)
	_ encoding.TextMarshaler   = RGBColor{}
	_ fmt.Stringer             = RGBColor{}
)

// Black is the zero color. Outputs show it until the first beat.
var Black = RGBColor{}

// FromUint32 converts the low 24 bits of v into a color.
func FromUint32(v uint32) RGBColor {
	return RGBColor{uint8(v >> 16), uint8(v >> 8), uint8(v)}
}

// Uint32 returns the color packed as 0xRRGGBB.
func (c RGBColor) Uint32() uint32 {
	return uint32(c[0])<<16 | uint32(c[1])<<8 | uint32(c[2])
}

// Hex formats the color as "#rrggbb". It always writes six digits.
func (c RGBColor) Hex() string {
	return fmt.Sprintf("#%06x", c.Uint32())
}

// String implements fmt.Stringer.
func (c RGBColor) String() string {
	return c.Hex()
}

// Scale returns the color with every channel multiplied by f, where f is in
// [0, 1].
func (c RGBColor) Scale(f float64) RGBColor {
	f = max(0, min(1, f))
	return RGBColor{
		uint8(float64(c[0]) * f),
		uint8(float64(c[1]) * f),
		uint8(float64(c[2]) * f),
	}
}

// ParseColor parses "#rrggbb", "rrggbb" or the short "#rgb" form.
func ParseColor(s string) (RGBColor, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return RGBColor{}, fmt.Errorf("invalid color %q: want #rrggbb", s)
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return RGBColor{}, fmt.Errorf("invalid color %q: %w", s, err)
	}

	return FromUint32(uint32(v)), nil
}

func (c *RGBColor) UnmarshalText(text []byte) error {
	v, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c RGBColor) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}
