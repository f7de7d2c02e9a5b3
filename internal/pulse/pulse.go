// Package pulse implements the beat pulse controller: the state machine that
// turns tempo estimates into a periodic color pulse.
//
// A Controller is not safe for concurrent use. It is meant to be owned by a
// single event loop that calls Beat whenever the channel returned by Ticks
// fires.
package pulse

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"
	"libdb.so/beatglow/internal/led"
	"libdb.so/beatglow/internal/tempo"
)

// ErrInvalidTempo is returned for tempos that are not finite and positive.
var ErrInvalidTempo = errors.New("invalid tempo")

// State is the lifecycle state of a controller.
type State uint8

const (
	// NotStarted means the start action has not happened yet.
	NotStarted State = iota
	// Initializing means capture was requested but no tempo estimate has
	// arrived yet.
	Initializing
	// Pulsing means at least one tempo estimate has been applied.
	Pulsing
	// Failed means audio capture could not be started or broke down.
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Initializing:
		return "initializing"
	case Pulsing:
		return "pulsing"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for _, state := range []State{NotStarted, Initializing, Pulsing, Failed} {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Capturing returns true if the state implies a running capture.
func (s State) Capturing() bool {
	return s == Initializing || s == Pulsing
}

// StartupPolicy decides what the controller pulses before the first
// estimate arrives.
type StartupPolicy string

const (
	// EagerStartup pulses at the startup tempo right away.
	EagerStartup StartupPolicy = "eager"
	// WaitStartup stays dark until the first estimate.
	WaitStartup StartupPolicy = "wait"
)

// DefaultStartupBPM is the tempo used by EagerStartup.
const DefaultStartupBPM = 120

// Options configures a Controller.
type Options struct {
	// Clock creates the pulse tickers. Defaults to RealClock.
	Clock Clock
	// Rand is the source of beat colors. Defaults to a randomly seeded PCG.
	Rand *rand.Rand
	// Startup is the startup policy. Defaults to EagerStartup.
	Startup StartupPolicy
	// StartupBPM is the tempo pulsed by EagerStartup. Defaults to
	// DefaultStartupBPM.
	StartupBPM float64
}

// Snapshot is a read-only copy of the controller state.
type Snapshot struct {
	State  State
	BPM    float64
	Period time.Duration
	Color  led.RGBColor
	Err    error
}

// Controller owns the pulse ticker, the display color and the lifecycle
// state.
type Controller struct {
	opts   Options
	ticker Ticker
	state  State
	bpm    float64
	color  led.RGBColor
	err    error
}

// New creates a new controller in the NotStarted state.
func New(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.Startup == "" {
		opts.Startup = EagerStartup
	}
	if opts.StartupBPM == 0 {
		opts.StartupBPM = DefaultStartupBPM
	}

	return &Controller{opts: opts}
}

// Interval returns the beat interval for the given tempo.
func Interval(bpm float64) time.Duration {
	return time.Duration(float64(time.Minute) / bpm)
}

func validTempo(bpm float64) bool {
	return bpm > 0 && !math.IsInf(bpm, 0) && !math.IsNaN(bpm)
}

// SetTempo re-arms the pulse ticker to the given tempo. The previous ticker
// is stopped before the new one is created, so at most one ticker is ever
// active. Invalid tempos are rejected and leave the controller untouched.
func (c *Controller) SetTempo(bpm float64) error {
	if !validTempo(bpm) {
		return errors.Wrapf(ErrInvalidTempo, "%v bpm", bpm)
	}

	interval := Interval(bpm)
	if interval <= 0 {
		return errors.Wrapf(ErrInvalidTempo, "%v bpm is too fast", bpm)
	}

	c.stopTicker()
	c.ticker = c.opts.Clock.NewTicker(interval)
	c.bpm = bpm
	return nil
}

// Beat draws a new random display color.
func (c *Controller) Beat() led.RGBColor {
	c.color = RandomColor(c.opts.Rand)
	return c.color
}

// RandomColor draws a uniformly random 24-bit color.
func RandomColor(r *rand.Rand) led.RGBColor {
	return led.FromUint32(r.Uint32N(led.MaxColor + 1))
}

// Ticks returns the channel of the active ticker, or nil if there is none.
// The returned channel changes whenever the tempo changes, so callers must
// fetch it again after every call that may re-arm the ticker.
func (c *Controller) Ticks() <-chan time.Time {
	if c.ticker == nil {
		return nil
	}
	return c.ticker.C()
}

// Start moves the controller into the Initializing state. It returns false
// if a capture is already running. With EagerStartup, the startup tempo
// starts pulsing immediately.
func (c *Controller) Start() bool {
	if c.state.Capturing() {
		return false
	}

	c.state = Initializing
	c.err = nil

	if c.opts.Startup == EagerStartup {
		if err := c.SetTempo(c.opts.StartupBPM); err != nil {
			// StartupBPM is validated by the configuration; an invalid value
			// only means there is no eager pulse.
			c.stopTicker()
		}
	}

	return true
}

// Update applies a list of tempo estimates. Only the first, most confident
// estimate is used. An empty list changes nothing and returns false.
func (c *Controller) Update(estimates []tempo.Tempo) (bool, error) {
	if len(estimates) == 0 || !c.state.Capturing() {
		return false, nil
	}

	if err := c.SetTempo(estimates[0].BPM); err != nil {
		return false, err
	}

	c.state = Pulsing
	return true, nil
}

// Fail stops the pulse and moves the controller into the Failed state.
func (c *Controller) Fail(err error) {
	c.stopTicker()
	c.state = Failed
	c.bpm = 0
	c.color = led.Black
	c.err = err
}

// Stop stops the active ticker, if any.
func (c *Controller) Stop() {
	c.stopTicker()
}

func (c *Controller) stopTicker() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	s := Snapshot{
		State: c.state,
		BPM:   c.bpm,
		Color: c.color,
		Err:   c.err,
	}
	if c.ticker != nil {
		s.Period = c.ticker.Period()
	}
	return s
}
