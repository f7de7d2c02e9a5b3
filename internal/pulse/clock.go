package pulse

import "time"

// Clock creates tickers. It exists so that tests can drive the controller
// without waiting on real time.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// Ticker is a repeating timer.
type Ticker interface {
	// C returns the channel the ticks are delivered on.
	C() <-chan time.Time
	// Period returns the tick interval.
	Period() time.Duration
	// Stop stops the ticker. No ticks are delivered after Stop returns.
	Stop()
}

// RealClock is a Clock backed by time.Ticker.
var RealClock Clock = realClock{}

type realClock struct{}

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{Ticker: time.NewTicker(d), period: d}
}

type realTicker struct {
	*time.Ticker
	period time.Duration
}

func (t *realTicker) C() <-chan time.Time    { return t.Ticker.C }
func (t *realTicker) Period() time.Duration { return t.period }
