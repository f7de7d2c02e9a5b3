package beatglow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
	"libdb.so/beatglow/internal/led"
	"libdb.so/beatglow/internal/ledvis"
	"libdb.so/beatglow/internal/pulse"
	"libdb.so/beatglow/ledserial"
)

// ackTimeout is how long the strip waits for the controller to acknowledge
// a frame before sending the next one anyway.
const ackTimeout = time.Second

// errControllerPanicked is returned by the strip when the controller reports
// a panic. The controller needs a reset before it will accept packets again.
var errControllerPanicked = errors.New("controller panicked")

// beater is a range of LEDs that follows the pulse color.
type beater interface {
	Beat(color led.RGBColor, period time.Duration)
}

type trackedAnimator struct {
	Animator
	cfg LEDConfig
}

// strip drives an LED strip controller over a serial port. It mirrors the
// pulse color onto the configured LED ranges.
type strip struct {
	cfg     *StripConfig
	logger  *slog.Logger
	refresh chan struct{}
	open    func(*StripConfig) (io.ReadWriteCloser, error)

	pulses    []beater
	animators []trackedAnimator

	lastColor led.RGBColor
	beaten    bool
}

var _ RefreshQueuer = (*strip)(nil)

func newStrip(cfg *StripConfig, logger *slog.Logger) *strip {
	s := &strip{
		cfg:     cfg,
		logger:  logger,
		refresh: make(chan struct{}, 1),
		open:    openSerial,
	}

	for _, led := range cfg.LEDs {
		if led.Pulse == nil {
			continue
		}

		p := ledvis.NewPulse(ledvis.PulseConfig{
			NumLEDs: led.Range[1] - led.Range[0],
			Style:   led.Pulse.Style,
			Floor:   led.Pulse.Floor,
		})

		s.pulses = append(s.pulses, p)
		s.animators = append(s.animators, trackedAnimator{p, led})
	}

	return s
}

// QueueRefresh queues a refresh of the LEDs.
func (s *strip) QueueRefresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// handleSnapshot restarts the pulse ranges whenever the color changes.
// Snapshots that only change the state or the tempo leave them alone.
func (s *strip) handleSnapshot(snapshot pulse.Snapshot) {
	if s.beaten && snapshot.Color == s.lastColor {
		return
	}
	s.lastColor = snapshot.Color
	s.beaten = true

	for _, p := range s.pulses {
		p.Beat(snapshot.Color, snapshot.Period)
	}
	s.QueueRefresh()
}

// Run opens the serial port and drives the strip until ctx is canceled.
func (s *strip) Run(ctx context.Context) error {
	port, err := s.open(s.cfg)
	if err != nil {
		return err
	}
	return s.run(ctx, port)
}

func openSerial(cfg *StripConfig) (io.ReadWriteCloser, error) {
	port, err := serial.Open(cfg.Device, &serial.Mode{
		BaudRate: cfg.Baud,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open serial port")
	}

	if err := port.SetReadTimeout(serial.NoTimeout); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "failed to reset read timeout")
	}

	return port, nil
}

func (s *strip) run(ctx context.Context, port io.ReadWriteCloser) error {
	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		<-ctx.Done()
		s.logger.Debug("closing serial port")
		if err := port.Close(); err != nil {
			return errors.Wrap(err, "failed to close serial port")
		}
		return nil
	})

	packets := make(chan ledserial.OutgoingPacket)
	errg.Go(func() error {
		return s.mainLoop(ctx, port, packets)
	})
	errg.Go(func() error {
		return s.readPackets(ctx, port, packets)
	})

	return errg.Wait()
}

func (s *strip) mainLoop(ctx context.Context, w io.Writer, packets <-chan ledserial.OutgoingPacket) error {
	numLEDs := s.cfg.NumLEDs()

	s.logger.Debug("sending initialize packet", "num_leds", numLEDs)
	if !s.writePacket(w, ledserial.InitializePacket{
		NumLEDs: uint16(numLEDs),
	}) {
		return errors.New("failed to initialize LEDs")
	}

	leds := led.NewLEDs(numLEDs)
	animated := false

	for _, led := range s.cfg.LEDs {
		if led.Color != nil {
			// Static ranges are drawn once and never touched again.
			leds.SetRange(led.Range[0], led.Range[1], *led.Color)
		}
	}
	for _, animator := range s.animators {
		animated = animated || animator.Animated()
	}

	frameTicker := time.NewTicker(time.Second / time.Duration(s.cfg.Rate))
	defer frameTicker.Stop()

	var (
		dirty   = true
		pending = true // waiting for the initialize ack
		sentAt  = time.Now()
	)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.refresh:
			dirty = true

		case p := <-packets:
			switch p := p.(type) {
			case ledserial.AckPacket:
				s.logger.Debug(
					"received ack packet from controller",
					"acked_for", p.IncomingPacketType)
				pending = false

			case ledserial.ErrorPacket:
				s.logger.Warn(
					"received error packet from controller",
					"message", p.Message)
				// The controller drops the offending packet and keeps going,
				// so no ack is coming for it.
				pending = false
				dirty = true

			case ledserial.PanicPacket:
				s.logger.Error(
					"controller unrecoverably panicked",
					"message", p.Message)
				return errControllerPanicked

			case ledserial.LogPacket:
				s.logger.Info(
					"received log packet from controller",
					"message", p.Message)

			default:
				return fmt.Errorf("received unknown packet from controller: %s", p.Type())
			}

		case now := <-frameTicker.C:
			if pending {
				if now.Sub(sentAt) < ackTimeout {
					continue
				}
				s.logger.Warn("controller did not acknowledge frame, resending")
			}

			if !dirty && !animated {
				continue
			}

			for _, animator := range s.animators {
				animator.AcquireFrame(func(f led.LEDs) {
					leds.Draw(animator.cfg.Range[0], f)
				})
			}

			if !s.writePacket(w, framePacket(leds)) {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("failed to write frame")
			}

			dirty = false
			pending = true
			sentAt = now
		}
	}
}

// framePacket returns the smallest packet that draws leds.
func framePacket(leds led.LEDs) ledserial.IncomingPacket {
	for _, c := range leds[1:] {
		if c != leds[0] {
			return ledserial.SetPacket{Pix: leds.AsPixels()}
		}
	}
	return ledserial.FillPacket{Color: leds[0]}
}

func (s *strip) readPackets(ctx context.Context, r io.Reader, dst chan<- ledserial.OutgoingPacket) error {
	for ctx.Err() == nil {
		p, err := ledserial.ReadOutgoingPacket(r)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// A short read indicates a timeout. This is expected.
			// Ignore the error and try again.
			if errors.Is(err, io.EOF) {
				continue
			}
			return errors.Wrap(err, "failed to read packet")
		}

		s.logger.Debug(
			"received packet from controller",
			"type", p.Type())

		select {
		case <-ctx.Done():
			return nil
		case dst <- p:
			// ok
		}
	}

	return nil
}

func (s *strip) writePacket(w io.Writer, p ledserial.IncomingPacket) bool {
	s.logger.Debug(
		"writing packet",
		"type", p.Type())

	if err := ledserial.WriteIncomingPacket(w, p); err != nil {
		s.logger.Warn(
			"failed to write packet",
			"packet", p.Type(),
			"error", err)
		return false
	}

	return true
}
