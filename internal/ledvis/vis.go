// Package ledvis renders the beat pulse into LED frames.
package ledvis

import (
	"encoding"
	"fmt"
)

// PulseStyle is the style a pulse range is drawn in between two beats.
type PulseStyle uint8

const (
	// Solid keeps the beat color at full brightness until the next beat.
	Solid PulseStyle = iota
	// Fade starts every beat at full brightness and dims it towards the
	// floor brightness over the beat period.
	Fade
)

var (
	_ encoding.TextUnmarshaler = (*PulseStyle)(nil)
	_ encoding.TextMarshaler   = Solid
)

func (s PulseStyle) String() string {
	switch s {
	case Solid:
		return "solid"
	case Fade:
		return "fade"
	default:
		return fmt.Sprintf("PulseStyle(%d)", s)
	}
}

// Animated returns true if frames change between beats.
func (s PulseStyle) Animated() bool {
	return s == Fade
}

func (s *PulseStyle) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "solid":
		*s = Solid
	case "fade":
		*s = Fade
	default:
		return fmt.Errorf("unknown pulse style %q", text)
	}
	return nil
}

func (s PulseStyle) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PulseConfig is the configuration for a pulse range.
type PulseConfig struct {
	// NumLEDs is the number of LEDs in the range.
	NumLEDs int
	// Style is the pulse style.
	Style PulseStyle
	// Floor is the brightness a Fade pulse dims down to, in [0, 1].
	Floor float64
}
