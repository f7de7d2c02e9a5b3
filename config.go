package beatglow

import (
	"encoding"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"libdb.so/beatglow/internal/capture"
	"libdb.so/beatglow/internal/led"
	"libdb.so/beatglow/internal/ledvis"
	"libdb.so/beatglow/internal/pulse"
	"libdb.so/beatglow/internal/tempo"
)

// Config is the configuration for the beatglow daemon.
type Config struct {
	// Capture configures the audio input.
	Capture CaptureConfig `toml:"capture"`
	// Tempo configures the tempo estimator.
	Tempo TempoConfig `toml:"tempo"`
	// Pulse configures the beat pulse.
	Pulse PulseConfig `toml:"pulse"`
	// Strip configures an optional LED strip on a serial port.
	Strip *StripConfig `toml:"strip,omitempty"`
	// HTTP configures the optional status API.
	HTTP HTTPConfig `toml:"http"`
	// Analytics configures the optional usage event collector.
	Analytics AnalyticsConfig `toml:"analytics"`
}

// CaptureConfig is the configuration for the audio input.
type CaptureConfig struct {
	// Backend is the capture backend: "portaudio", "stdin", or any catnip
	// input backend such as "parec" or "ffmpeg-alsa".
	Backend string `toml:"backend"`
	// Device is the input device. Empty means the backend's default.
	Device string `toml:"device"`
	// SampleRate is the input sample rate in Hz.
	SampleRate int `toml:"sample_rate"`
	// Channels is the number of input channels, downmixed to mono.
	Channels int `toml:"channels"`
}

// TempoConfig is the configuration for the tempo estimator.
type TempoConfig struct {
	// ComputeDelay is how much audio is needed before the first estimate.
	ComputeDelay TOMLDuration `toml:"compute_delay"`
	// PushInterval is the estimate cadence.
	PushInterval TOMLDuration `toml:"push_interval"`
	// StabilizationTime is how long an estimate must hold before the peak
	// history is cleared.
	StabilizationTime TOMLDuration `toml:"stabilization_time"`
	// OneShot disables continuous analysis: the peak history is never
	// cleared, so the estimate converges once and stays.
	OneShot bool `toml:"one_shot"`
}

// PulseConfig is the configuration for the beat pulse.
type PulseConfig struct {
	// Startup is the startup policy, "eager" or "wait".
	Startup pulse.StartupPolicy `toml:"startup"`
	// StartupBPM is the tempo pulsed by the eager policy.
	StartupBPM int `toml:"startup_bpm"`
}

// StripConfig is the configuration for an LED strip.
type StripConfig struct {
	// Device is the path to the serial device of the strip controller.
	// This is usually /dev/ttyUSB0 or /dev/ttyACM0.
	Device string `toml:"device"`
	// Baud is the baud rate for the serial connection.
	Baud int `toml:"baud"`
	// Rate is the maximum refresh rate for the LEDs.
	Rate int `toml:"rate"`
	// LEDs is a list of LED range configurations.
	LEDs []LEDConfig `toml:"led"`
}

// HTTPConfig is the configuration for the status API.
type HTTPConfig struct {
	// Addr is the listen address. Empty disables the API.
	Addr string `toml:"addr"`
}

// AnalyticsConfig is the configuration for usage events.
type AnalyticsConfig struct {
	// Endpoint receives the events as JSON POSTs. Empty disables them.
	Endpoint string `toml:"endpoint"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

func (c *Config) setDefaults() {
	defaultCapture := capture.DefaultConfig()
	if c.Capture.Backend == "" {
		c.Capture.Backend = defaultCapture.Backend
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = int(defaultCapture.SampleRate)
	}
	if c.Capture.Channels == 0 {
		c.Capture.Channels = defaultCapture.Channels
	}

	defaultTempo := tempo.DefaultAnalyzerConfig(float64(c.Capture.SampleRate))
	if c.Tempo.ComputeDelay == 0 {
		c.Tempo.ComputeDelay = TOMLDuration(defaultTempo.ComputeDelay)
	}
	if c.Tempo.PushInterval == 0 {
		c.Tempo.PushInterval = TOMLDuration(defaultTempo.PushInterval)
	}
	if c.Tempo.StabilizationTime == 0 {
		c.Tempo.StabilizationTime = TOMLDuration(defaultTempo.StabilizationTime)
	}

	if c.Pulse.Startup == "" {
		c.Pulse.Startup = pulse.EagerStartup
	}
	if c.Pulse.StartupBPM == 0 {
		c.Pulse.StartupBPM = pulse.DefaultStartupBPM
	}

	if c.Strip != nil {
		if c.Strip.Baud == 0 {
			c.Strip.Baud = 115200
		}
		if c.Strip.Rate == 0 {
			c.Strip.Rate = 60
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.captureConfig().Validate(); err != nil {
		return errors.Wrap(err, "capture")
	}

	if c.Tempo.PushInterval <= 0 {
		return errors.New("tempo: push_interval must be positive")
	}

	switch c.Pulse.Startup {
	case pulse.EagerStartup, pulse.WaitStartup:
	default:
		return fmt.Errorf("pulse: unknown startup policy %q", c.Pulse.Startup)
	}

	if c.Pulse.StartupBPM <= 0 {
		return fmt.Errorf("pulse: invalid startup_bpm %d", c.Pulse.StartupBPM)
	}

	if c.Strip != nil {
		if err := c.Strip.Validate(); err != nil {
			return errors.Wrap(err, "strip")
		}
	}

	return nil
}

func (c *Config) captureConfig() capture.Config {
	return capture.Config{
		Backend:    c.Capture.Backend,
		Device:     c.Capture.Device,
		SampleRate: float64(c.Capture.SampleRate),
		Channels:   c.Capture.Channels,
		BufferSize: capture.DefaultBufferSize,
	}
}

func (c *Config) analyzerConfig() tempo.AnalyzerConfig {
	return tempo.AnalyzerConfig{
		SampleRate:         float64(c.Capture.SampleRate),
		ComputeDelay:       time.Duration(c.Tempo.ComputeDelay),
		PushInterval:       time.Duration(c.Tempo.PushInterval),
		StabilizationTime:  time.Duration(c.Tempo.StabilizationTime),
		ContinuousAnalysis: !c.Tempo.OneShot,
	}
}

// Validate validates the strip configuration.
func (c *StripConfig) Validate() error {
	if c.Device == "" {
		return errors.New("no serial device configured")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.Baud)
	}
	if c.Rate <= 0 {
		return fmt.Errorf("invalid refresh rate %d", c.Rate)
	}
	if c.NumLEDs() == 0 {
		return errors.New("no LEDs configured")
	}
	if c.NumLEDs() > math.MaxUint16 {
		return fmt.Errorf("too many LEDs (%d)", c.NumLEDs())
	}

	for i, led := range c.LEDs {
		if led.Range[0] < 0 || led.Range[1] <= led.Range[0] {
			return fmt.Errorf("invalid LED range %v", led.Range)
		}
		if (led.Color == nil) == (led.Pulse == nil) {
			return fmt.Errorf("LED range %v must set exactly one of color or pulse", led.Range)
		}
		if led.Pulse != nil && (led.Pulse.Floor < 0 || led.Pulse.Floor > 1) {
			return fmt.Errorf("LED range %v: pulse floor %v not in [0, 1]", led.Range, led.Pulse.Floor)
		}

		// Check for overlapping LED ranges. Ranges are half-open.
		for _, other := range c.LEDs[i+1:] {
			if led.Range[0] < other.Range[1] && other.Range[0] < led.Range[1] {
				return fmt.Errorf("LED range %v overlaps with %v", led.Range, other.Range)
			}
		}
	}

	return nil
}

// NumLEDs returns the number of LEDs configured.
func (c *StripConfig) NumLEDs() int {
	var numLEDs int
	for _, led := range c.LEDs {
		if led.Range[1] > numLEDs {
			numLEDs = led.Range[1]
		}
	}
	return numLEDs
}

// LEDConfig is the configuration for a range of LEDs.
type LEDConfig struct {
	// Range is the half-open range [start, end) of LEDs to configure.
	Range [2]int `toml:"range"`

	// Only one of the following fields must be set.

	// Color is a static color for the range.
	Color *led.RGBColor `toml:"color,omitempty"`
	// Pulse makes the range follow the beat.
	Pulse *PulseLEDConfig `toml:"pulse,omitempty"`
}

// PulseLEDConfig is the configuration for a range following the beat.
type PulseLEDConfig struct {
	// Style is "solid" or "fade".
	Style ledvis.PulseStyle `toml:"style"`
	// Floor is the brightness a fading pulse dims down to, in [0, 1]. It is
	// a TOML float, so whole values are written as 0.0 or 1.0.
	Floor float64 `toml:"floor"`
}

// TOMLDuration is a duration that can be parsed from TOML.
type TOMLDuration time.Duration

var (
	_ encoding.TextUnmarshaler = (*TOMLDuration)(nil)
	_ encoding.TextMarshaler   = (*TOMLDuration)(nil)
)

func (d *TOMLDuration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = TOMLDuration(duration)
	return nil
}

func (d TOMLDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ParseConfig parses a configuration from a reader. Missing values are
// filled with their defaults.
func ParseConfig(r io.Reader) (*Config, error) {
	var config Config
	if err := toml.NewDecoder(r).Decode(&config); err != nil {
		return nil, err
	}
	config.setDefaults()
	return &config, nil
}
