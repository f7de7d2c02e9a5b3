package capture

import (
	"context"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/pkg/errors"
)

func init() {
	Register("portaudio", PortAudioBackend{})
}

// PortAudioBackend captures from a PortAudio input device.
type PortAudioBackend struct{}

// Open implements Backend.
func (PortAudioBackend) Open(cfg Config) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize portaudio")
	}

	device, err := findPortAudioDevice(cfg.Device)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	s := &portaudioStream{
		cfg: cfg,
		// A few buffers of slack between the audio thread and the reader.
		chunks: make(chan []float32, 8),
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = cfg.SampleRate
	params.FramesPerBuffer = cfg.BufferSize

	stream, err := portaudio.OpenStream(params, s.process)
	if err != nil {
		portaudio.Terminate()
		return nil, errors.Wrapf(ErrNoDevice, "failed to open %q: %v", device.Name, err)
	}
	s.stream = stream

	return s, nil
}

func findPortAudioDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, errors.Wrapf(ErrNoDevice, "no default input: %v", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, errors.Wrapf(ErrNoDevice, "failed to list devices: %v", err)
	}

	for _, device := range devices {
		if device.Name == name && device.MaxInputChannels > 0 {
			return device, nil
		}
	}

	return nil, errors.Wrapf(ErrNoDevice, "no input device named %q", name)
}

var _ DropCounter = (*portaudioStream)(nil)

type portaudioStream struct {
	cfg     Config
	stream  *portaudio.Stream
	chunks  chan []float32
	dropped atomic.Int64
}

// process runs on the PortAudio callback thread.
func (s *portaudioStream) process(in []float32) {
	chunk := make([]float32, len(in))
	copy(chunk, in)

	select {
	case s.chunks <- chunk:
	default:
		s.dropped.Add(1)
	}
}

func (s *portaudioStream) Run(ctx context.Context, f func(Buffer)) error {
	if err := s.stream.Start(); err != nil {
		return errors.Wrap(err, "failed to start portaudio stream")
	}
	defer s.stream.Stop()

	framer := NewFramer(s.cfg.Channels, s.cfg.BufferSize, f)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk := <-s.chunks:
			framer.WriteFloat32(chunk)
		}
	}
}

// Dropped returns the number of input chunks dropped because the reader fell
// behind.
func (s *portaudioStream) Dropped() int64 {
	return s.dropped.Load()
}

func (s *portaudioStream) Close() error {
	err := s.stream.Close()
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}
