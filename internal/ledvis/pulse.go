package ledvis

import (
	"time"

	"libdb.so/beatglow/internal/led"
)

// Pulse draws the current beat color over a range of LEDs.
type Pulse struct {
	baseOutput
	cfg PulseConfig
	now func() time.Time

	color  led.RGBColor
	beatAt time.Time
	period time.Duration
}

// NewPulse creates a new pulse animation. The range starts black.
func NewPulse(cfg PulseConfig) *Pulse {
	return &Pulse{
		baseOutput: baseOutput{leds: led.NewLEDs(cfg.NumLEDs)},
		cfg:        cfg,
		now:        time.Now,
	}
}

// Beat records a new beat color. period is the time until the next beat is
// expected; it only matters for animated styles.
func (p *Pulse) Beat(color led.RGBColor, period time.Duration) {
	p.mu.Lock()
	p.color = color
	p.period = period
	p.beatAt = p.now()
	p.mu.Unlock()
}

// AcquireFrame renders the current frame and passes it to f. f must not keep
// the frame after it returns.
func (p *Pulse) AcquireFrame(f func(led.LEDs)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.leds.Fill(p.color.Scale(p.brightness()))
	f(p.leds)
}

// Animated returns true if the frame changes between beats.
func (p *Pulse) Animated() bool {
	return p.cfg.Style.Animated()
}

func (p *Pulse) brightness() float64 {
	if p.cfg.Style != Fade || p.period <= 0 {
		return 1
	}

	progress := float64(p.now().Sub(p.beatAt)) / float64(p.period)
	progress = max(0, min(1, progress))

	return 1 - progress*(1-p.cfg.Floor)
}
