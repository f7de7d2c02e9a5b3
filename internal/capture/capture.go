// Package capture acquires audio input and delivers it as fixed-size mono
// sample buffers.
package capture

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// DefaultBufferSize is the number of mono samples in each delivered buffer.
const DefaultBufferSize = 4096

var (
	// ErrNoDevice is returned by Open when no compatible input device exists
	// or access to it was denied.
	ErrNoDevice = errors.New("no usable audio input device")
	// ErrStreamEnded is returned by Run when the input ends on its own.
	ErrStreamEnded = errors.New("audio input ended")
)

// Config is the configuration for opening a capture stream.
type Config struct {
	// Backend is the name of the capture backend.
	Backend string
	// Device is the input device name. Empty means the backend default.
	Device string
	// SampleRate is the requested sample rate in Hz.
	SampleRate float64
	// Channels is the number of input channels. They are downmixed to mono.
	Channels int
	// BufferSize is the number of mono samples per delivered buffer.
	BufferSize int
}

// DefaultConfig returns the default capture configuration.
func DefaultConfig() Config {
	return Config{
		Backend:    "portaudio",
		SampleRate: 44100,
		Channels:   1,
		BufferSize: DefaultBufferSize,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return errors.Errorf("invalid sample rate %v", c.SampleRate)
	case c.Channels < 1:
		return errors.Errorf("invalid channel count %d", c.Channels)
	case c.BufferSize < 1:
		return errors.Errorf("invalid buffer size %d", c.BufferSize)
	}
	return nil
}

// Buffer is a mono sample buffer. A Buffer passed to a callback is only valid
// for the duration of that callback.
type Buffer []float64

// Backend opens capture streams.
type Backend interface {
	// Open acquires the input device. Failing to find or access a device
	// returns an error wrapping ErrNoDevice.
	Open(cfg Config) (Stream, error)
}

// Stream is an opened audio input.
type Stream interface {
	// Run delivers buffers of exactly cfg.BufferSize samples to f until ctx
	// is canceled or the input fails. f is always called from a single
	// goroutine.
	Run(ctx context.Context, f func(Buffer)) error
	// Close releases the device.
	Close() error
}

var (
	backendsMu sync.RWMutex
	backends   = map[string]Backend{}
)

// Register registers a backend under the given name. It replaces any backend
// previously registered under that name.
func Register(name string, b Backend) {
	backendsMu.Lock()
	backends[name] = b
	backendsMu.Unlock()
}

// Lookup returns the backend registered under the given name. Names that are
// not registered are handed to catnip, which provides its own set of input
// backends.
func Lookup(name string) Backend {
	backendsMu.RLock()
	b, ok := backends[name]
	backendsMu.RUnlock()

	if ok {
		return b
	}
	return CatnipBackend(name)
}

// Backends returns the names of the registered backends.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DropCounter is implemented by streams that drop input when the consumer
// falls behind.
type DropCounter interface {
	// Dropped returns the number of input chunks dropped so far.
	Dropped() int64
}
