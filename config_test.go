package beatglow

import (
	"os"
	"strings"
	"testing"
	"time"

	"libdb.so/beatglow/internal/led"
	"libdb.so/beatglow/internal/ledvis"
	"libdb.so/beatglow/internal/pulse"
)

const testConfig = `
[capture]
backend = "parec"
sample_rate = 48000
channels = 2

[tempo]
compute_delay = "2s"
stabilization_time = "5s"

[pulse]
startup = "wait"

[http]
addr = "127.0.0.1:8080"

[strip]
device = "/dev/ttyACM0"

[[strip.led]]
range = [0, 10]
color = "#ff8000"

[[strip.led]]
range = [10, 60]
[strip.led.pulse]
style = "fade"
floor = 0.2
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(testConfig))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Capture.Backend != "parec" || cfg.Capture.SampleRate != 48000 || cfg.Capture.Channels != 2 {
		t.Errorf("capture = %+v", cfg.Capture)
	}

	analyzer := cfg.analyzerConfig()
	if analyzer.ComputeDelay != 2*time.Second {
		t.Errorf("compute delay = %v, want 2s", analyzer.ComputeDelay)
	}
	if analyzer.PushInterval != time.Second {
		t.Errorf("push interval = %v, want the 1s default", analyzer.PushInterval)
	}
	if analyzer.StabilizationTime != 5*time.Second {
		t.Errorf("stabilization time = %v, want 5s", analyzer.StabilizationTime)
	}
	if !analyzer.ContinuousAnalysis {
		t.Error("continuous analysis disabled by default")
	}

	if cfg.Pulse.Startup != pulse.WaitStartup {
		t.Errorf("startup = %q, want wait", cfg.Pulse.Startup)
	}
	if cfg.Pulse.StartupBPM != pulse.DefaultStartupBPM {
		t.Errorf("startup bpm = %v, want default", cfg.Pulse.StartupBPM)
	}

	if cfg.HTTP.Addr != "127.0.0.1:8080" {
		t.Errorf("http addr = %q", cfg.HTTP.Addr)
	}

	strip := cfg.Strip
	if strip == nil {
		t.Fatal("strip not parsed")
	}
	if strip.Baud != 115200 || strip.Rate != 60 {
		t.Errorf("strip defaults = %d baud at %d fps", strip.Baud, strip.Rate)
	}
	if strip.NumLEDs() != 60 {
		t.Errorf("NumLEDs = %d, want 60", strip.NumLEDs())
	}
	if len(strip.LEDs) != 2 {
		t.Fatalf("%d LED ranges, want 2", len(strip.LEDs))
	}
	if c := strip.LEDs[0].Color; c == nil || *c != (led.RGBColor{0xff, 0x80, 0x00}) {
		t.Errorf("static color = %v", c)
	}
	if p := strip.LEDs[1].Pulse; p == nil || p.Style != ledvis.Fade || p.Floor != 0.2 {
		t.Errorf("pulse range = %+v", p)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}

	if cfg.Pulse.Startup != pulse.EagerStartup {
		t.Errorf("default startup = %q, want eager", cfg.Pulse.Startup)
	}
	if cfg.Strip != nil || cfg.HTTP.Addr != "" || cfg.Analytics.Endpoint != "" {
		t.Error("default config enables optional outputs")
	}
	if got := cfg.captureConfig().BufferSize; got != 4096 {
		t.Errorf("buffer size = %d, want 4096", got)
	}
}

func TestConfigValidate(t *testing.T) {
	blue := led.RGBColor{0, 0, 0xff}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown startup", func(c *Config) { c.Pulse.Startup = "lazy" }},
		{"negative channels", func(c *Config) { c.Capture.Channels = -1 }},
		{"negative sample rate", func(c *Config) { c.Capture.SampleRate = -1 }},
		{"negative pulse floor", func(c *Config) {
			c.Strip = &StripConfig{Device: "x", Baud: 1, Rate: 1, LEDs: []LEDConfig{
				{Range: [2]int{0, 10}, Pulse: &PulseLEDConfig{Floor: -0.1}},
			}}
		}},
		{"pulse floor above one", func(c *Config) {
			c.Strip = &StripConfig{Device: "x", Baud: 1, Rate: 1, LEDs: []LEDConfig{
				{Range: [2]int{0, 10}, Pulse: &PulseLEDConfig{Floor: 1.5}},
			}}
		}},
		{"no strip device", func(c *Config) {
			c.Strip = &StripConfig{Baud: 1, Rate: 1, LEDs: []LEDConfig{
				{Range: [2]int{0, 1}, Color: &blue},
			}}
		}},
		{"overlapping ranges", func(c *Config) {
			c.Strip = &StripConfig{Device: "x", Baud: 1, Rate: 1, LEDs: []LEDConfig{
				{Range: [2]int{0, 10}, Color: &blue},
				{Range: [2]int{5, 15}, Pulse: &PulseLEDConfig{}},
			}}
		}},
		{"color and pulse", func(c *Config) {
			c.Strip = &StripConfig{Device: "x", Baud: 1, Rate: 1, LEDs: []LEDConfig{
				{Range: [2]int{0, 10}, Color: &blue, Pulse: &PulseLEDConfig{}},
			}}
		}},
		{"empty range", func(c *Config) {
			c.Strip = &StripConfig{Device: "x", Baud: 1, Rate: 1, LEDs: []LEDConfig{
				{Range: [2]int{3, 3}, Color: &blue},
			}}
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid configuration")
			}
		})
	}
}

func TestAdjacentRangesDoNotOverlap(t *testing.T) {
	blue := led.RGBColor{0, 0, 0xff}

	strip := StripConfig{Device: "x", Baud: 1, Rate: 1, LEDs: []LEDConfig{
		{Range: [2]int{0, 10}, Color: &blue},
		{Range: [2]int{10, 20}, Pulse: &PulseLEDConfig{}},
	}}
	if err := strip.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestExampleConfig(t *testing.T) {
	b, err := os.ReadFile("beatglow.example.toml")
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := ParseConfig(strings.NewReader(string(b)))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Capture.SampleRate != 44100 {
		t.Errorf("sample rate = %d, want 44100", cfg.Capture.SampleRate)
	}
	if cfg.Pulse.StartupBPM != 120 {
		t.Errorf("startup bpm = %d, want 120", cfg.Pulse.StartupBPM)
	}
	if cfg.Strip != nil {
		t.Errorf("strip configured although commented out: %+v", cfg.Strip)
	}

	// Uncomment the strip section and parse again.
	example, strip, _ := strings.Cut(string(b), "# [strip]")
	var uncommented strings.Builder
	uncommented.WriteString(example)
	uncommented.WriteString("[strip]")
	for _, line := range strings.Split(strip, "\n") {
		uncommented.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "#"), " "))
		uncommented.WriteString("\n")
	}

	cfg, err = ParseConfig(strings.NewReader(uncommented.String()))
	if err != nil {
		t.Fatalf("ParseConfig with strip: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate with strip: %v", err)
	}

	if cfg.Strip == nil || cfg.Strip.NumLEDs() != 60 {
		t.Fatalf("strip = %+v, want 60 LEDs", cfg.Strip)
	}
	if p := cfg.Strip.LEDs[1].Pulse; p == nil || p.Style != ledvis.Fade || p.Floor != 0.1 {
		t.Errorf("pulse range = %+v, want fade with floor 0.1", p)
	}
}
