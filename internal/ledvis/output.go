package ledvis

import (
	"sync"

	"libdb.so/beatglow/internal/led"
)

// baseOutput guards a frame shared between the writer (the beat) and the
// reader (the strip driver).
type baseOutput struct {
	mu   sync.Mutex
	leds led.LEDs
}

func (o *baseOutput) AcquireFrame(f func(led.LEDs)) {
	o.mu.Lock()
	f(o.leds)
	o.mu.Unlock()
}
