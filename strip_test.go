package beatglow

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"libdb.so/beatglow/internal/led"
	"libdb.so/beatglow/internal/pulse"
	"libdb.so/beatglow/ledserial"
)

type fakeDevice struct {
	t    *testing.T
	conn net.Conn
	ctx  ledserial.ReadContext
}

func (c *fakeDevice) read() ledserial.IncomingPacket {
	c.t.Helper()

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	p, err := ledserial.ReadIncomingPacket(c.conn, c.ctx)
	if err != nil {
		c.t.Fatalf("failed to read packet: %v", err)
	}
	return p
}

func (c *fakeDevice) send(p ledserial.OutgoingPacket) {
	c.t.Helper()

	if err := ledserial.WriteOutgoingPacket(c.conn, p); err != nil {
		c.t.Fatalf("failed to write %s packet: %v", p.Type(), err)
	}
}

func (c *fakeDevice) ack(p ledserial.IncomingPacket) {
	c.t.Helper()

	if err := ledserial.WriteOutgoingPacket(c.conn, ledserial.AckPacket{
		IncomingPacketType: p.Type(),
	}); err != nil {
		c.t.Fatalf("failed to write ack: %v", err)
	}
}

func TestStrip(t *testing.T) {
	blue := led.RGBColor{0, 0, 0xff}
	red := led.RGBColor{0xff, 0, 0}

	cfg := &StripConfig{
		Device: "test",
		Baud:   115200,
		Rate:   100,
		LEDs: []LEDConfig{
			{Range: [2]int{0, 2}, Color: &blue},
			{Range: [2]int{2, 4}, Pulse: &PulseLEDConfig{}},
		},
	}

	s := newStrip(cfg, discardLogger)

	stripConn, deviceConn := net.Pipe()
	device := &fakeDevice{
		t:    t,
		conn: deviceConn,
		ctx:  ledserial.ReadContext{NumLEDs: 4},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.run(ctx, stripConn) }()

	t.Cleanup(func() {
		cancel()
		deviceConn.Close()
		if err := <-done; err != nil {
			t.Errorf("strip failed: %v", err)
		}
	})

	initPacket, ok := device.read().(ledserial.InitializePacket)
	if !ok || initPacket.NumLEDs != 4 {
		t.Fatalf("first packet = %#v, want initialize for 4 LEDs", initPacket)
	}
	device.ack(initPacket)

	frame, ok := device.read().(ledserial.SetPacket)
	if !ok {
		t.Fatalf("first frame is not a set packet: %#v", frame)
	}
	assertPixels(t, frame.Pix, blue, blue, led.Black, led.Black)
	device.ack(frame)

	s.handleSnapshot(pulse.Snapshot{
		State:  pulse.Pulsing,
		BPM:    120,
		Period: 500 * time.Millisecond,
		Color:  red,
	})

	frame, ok = device.read().(ledserial.SetPacket)
	if !ok {
		t.Fatalf("beat frame is not a set packet: %#v", frame)
	}
	assertPixels(t, frame.Pix, blue, blue, red, red)
}

func assertPixels(t *testing.T, pix []uint8, want ...led.RGBColor) {
	t.Helper()

	if len(pix) != 3*len(want) {
		t.Fatalf("got %d pixel bytes, want %d", len(pix), 3*len(want))
	}
	for i, c := range want {
		if got := (led.RGBColor{pix[3*i], pix[3*i+1], pix[3*i+2]}); got != c {
			t.Errorf("LED %d = %v, want %v", i, got, c)
		}
	}
}

func TestFramePacket(t *testing.T) {
	green := led.RGBColor{0, 0xff, 0}

	leds := led.NewLEDs(3)
	leds.Fill(green)

	fill, ok := framePacket(leds).(ledserial.FillPacket)
	if !ok {
		t.Fatalf("uniform frame = %#v, want a fill packet", framePacket(leds))
	}
	if fill.Color != green {
		t.Errorf("fill color = %v, want %v", fill.Color, green)
	}

	leds[1] = led.Black
	if _, ok := framePacket(leds).(ledserial.SetPacket); !ok {
		t.Errorf("mixed frame = %#v, want a set packet", framePacket(leds))
	}
}

func testStripConfig() *StripConfig {
	blue := led.RGBColor{0, 0, 0xff}
	return &StripConfig{
		Device: "test",
		Baud:   115200,
		Rate:   100,
		LEDs: []LEDConfig{
			{Range: [2]int{0, 2}, Color: &blue},
			{Range: [2]int{2, 4}, Pulse: &PulseLEDConfig{}},
		},
	}
}

// startTestStrip runs s over a pipe and returns the controller end. The
// returned channel receives the result of the run.
func startTestStrip(t *testing.T, s *strip) (*fakeDevice, <-chan error) {
	t.Helper()

	stripConn, deviceConn := net.Pipe()
	device := &fakeDevice{
		t:    t,
		conn: deviceConn,
		ctx:  ledserial.ReadContext{NumLEDs: 4},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.run(ctx, stripConn) }()

	t.Cleanup(func() {
		cancel()
		deviceConn.Close()
	})

	initPacket, ok := device.read().(ledserial.InitializePacket)
	if !ok {
		t.Fatalf("first packet = %#v, want initialize", initPacket)
	}
	device.ack(initPacket)

	return device, done
}

func TestStripContinuesAfterErrorPacket(t *testing.T) {
	blue := led.RGBColor{0, 0, 0xff}
	red := led.RGBColor{0xff, 0, 0}

	s := newStrip(testStripConfig(), discardLogger)
	device, done := startTestStrip(t, s)

	frame, ok := device.read().(ledserial.SetPacket)
	if !ok {
		t.Fatalf("first frame is not a set packet: %#v", frame)
	}
	device.send(ledserial.ErrorPacket{Message: "bad checksum"})

	// The rejected frame is sent again.
	frame, ok = device.read().(ledserial.SetPacket)
	if !ok {
		t.Fatalf("frame after error is not a set packet: %#v", frame)
	}
	assertPixels(t, frame.Pix, blue, blue, led.Black, led.Black)

	s.handleSnapshot(pulse.Snapshot{
		State:  pulse.Pulsing,
		BPM:    120,
		Period: 500 * time.Millisecond,
		Color:  red,
	})
	device.ack(frame)

	frame, ok = device.read().(ledserial.SetPacket)
	if !ok {
		t.Fatalf("beat frame is not a set packet: %#v", frame)
	}
	assertPixels(t, frame.Pix, blue, blue, red, red)

	select {
	case err := <-done:
		t.Fatalf("strip stopped after an error packet: %v", err)
	default:
	}
}

func TestStripStopsOnPanicPacket(t *testing.T) {
	s := newStrip(testStripConfig(), discardLogger)
	device, done := startTestStrip(t, s)

	device.read()
	device.send(ledserial.PanicPacket{Message: "out of memory"})

	select {
	case err := <-done:
		if !errors.Is(err, errControllerPanicked) {
			t.Errorf("strip error = %v, want %v", err, errControllerPanicked)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("strip kept running after the controller panicked")
	}
}

type countingBeater struct {
	colors []led.RGBColor
}

func (b *countingBeater) Beat(color led.RGBColor, _ time.Duration) {
	b.colors = append(b.colors, color)
}

func TestStripBeatsOnColorChange(t *testing.T) {
	red := led.RGBColor{0xff, 0, 0}
	green := led.RGBColor{0, 0xff, 0}

	b := &countingBeater{}
	s := newStrip(testStripConfig(), discardLogger)
	s.pulses = []beater{b}

	snapshots := []pulse.Snapshot{
		{State: pulse.Initializing, BPM: 120, Period: 500 * time.Millisecond, Color: red},
		// A tempo change alone must not restart the pulse.
		{State: pulse.Pulsing, BPM: 128, Period: 468750 * time.Microsecond, Color: red},
		{State: pulse.Pulsing, BPM: 128, Period: 468750 * time.Microsecond, Color: green},
		{State: pulse.Failed, Color: led.Black},
		{State: pulse.Failed, Color: led.Black},
	}
	for _, snapshot := range snapshots {
		s.handleSnapshot(snapshot)
	}

	want := []led.RGBColor{red, green, led.Black}
	if len(b.colors) != len(want) {
		t.Fatalf("got %d beats %v, want %v", len(b.colors), b.colors, want)
	}
	for i, c := range want {
		if b.colors[i] != c {
			t.Errorf("beat %d = %v, want %v", i, b.colors[i], c)
		}
	}
}
