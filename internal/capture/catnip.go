package capture

import (
	"context"
	"sync"

	"github.com/noriah/catnip/input"
	"github.com/pkg/errors"

	// Register all of catnip's input backends.
	_ "github.com/noriah/catnip/input/all"
)

// CatnipBackend returns a Backend that captures through the catnip input
// backend of the given name, such as "parec" or "ffmpeg-alsa".
func CatnipBackend(name string) Backend {
	return catnipBackend{name: name}
}

type catnipBackend struct {
	name string
}

func (b catnipBackend) Open(cfg Config) (Stream, error) {
	backend, err := input.InitBackend(b.name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialize %q backend", b.name)
	}

	device, err := input.GetDevice(backend, cfg.Device)
	if err != nil {
		backend.Close()
		return nil, errors.Wrapf(ErrNoDevice, "%s: %v", b.name, err)
	}

	session, err := backend.Start(input.SessionConfig{
		Device:     device,
		FrameSize:  cfg.Channels,
		SampleSize: cfg.BufferSize,
		SampleRate: cfg.SampleRate,
	})
	if err != nil {
		backend.Close()
		return nil, errors.Wrapf(ErrNoDevice, "%s: failed to start session on %s: %v", b.name, device, err)
	}

	return &catnipStream{
		cfg:     cfg,
		backend: backend,
		session: session,
	}, nil
}

type catnipStream struct {
	cfg     Config
	backend input.Backend
	session input.Session
}

func (s *catnipStream) Run(ctx context.Context, f func(Buffer)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// catnip fills one buffer per channel and kicks us whenever the buffers
	// are ready. The mutex guards the buffers while we read them.
	buffers := make([][]float64, s.cfg.Channels)
	for i := range buffers {
		buffers[i] = make([]float64, s.cfg.BufferSize)
	}

	var mu sync.Mutex
	kick := make(chan bool, 1)

	done := make(chan error, 1)
	go func() {
		done <- s.session.Start(ctx, buffers, kick, &mu)
	}()

	framer := NewFramer(s.cfg.Channels, s.cfg.BufferSize, f)

	for {
		select {
		case <-ctx.Done():
			<-done
			return ctx.Err()

		case err := <-done:
			if err != nil {
				return errors.Wrap(err, "catnip session failed")
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrStreamEnded

		case <-kick:
			mu.Lock()
			framer.WriteChannels(buffers)
			mu.Unlock()
		}
	}
}

func (s *catnipStream) Close() error {
	return s.backend.Close()
}
