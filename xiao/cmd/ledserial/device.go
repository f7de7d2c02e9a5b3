package main

import (
	"fmt"
	"machine"

	"libdb.so/beatglow/ledserial"
	"tinygo.org/x/drivers/ws2812"
)

// Device stores the current state of the device.
type Device struct {
	serial SerialReadWriter
	led    ws2812.Device
	status *statusLED
	ctx    ledserial.ReadContext
}

// NewDevice creates a new device.
func NewDevice(serial machine.Serialer, ledPin machine.Pin) *Device {
	ledPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &Device{
		serial: WrapSerial(serial),
		led:    ws2812.New(ledPin),
		status: newStatusLED(),
	}
}

// Run runs the device loop forever.
func (d *Device) Run() {
	for {
		p, err := d.readPacket()
		if err != nil {
			d.logError(err)
			continue
		}

		if err := d.handlePacket(p); err != nil {
			d.logError(err)
			continue
		}

		d.sendPacket(ledserial.AckPacket{
			IncomingPacketType: p.Type(),
		})
	}
}

func (d *Device) logError(err error) {
	d.sendPacket(ledserial.ErrorPacket{Message: err.Error()})
}

func (d *Device) sendPacket(p ledserial.OutgoingPacket) {
	ledserial.WriteOutgoingPacket(d.serial, p)
}

func (d *Device) readPacket() (ledserial.IncomingPacket, error) {
	p, err := ledserial.ReadIncomingPacket(d.serial, d.ctx)
	if err == nil {
		// Blink the onboard LED on every packet.
		d.status.Flash(0, 0, 32)
		d.status.Off()
	}
	return p, err
}

func (d *Device) handlePacket(p ledserial.IncomingPacket) error {
	switch p := p.(type) {
	case ledserial.InitializePacket:
		if p.NumLEDs < 1 {
			return fmt.Errorf("invalid number of LEDs: %d", p.NumLEDs)
		}
		d.ctx.NumLEDs = p.NumLEDs
		d.fill(0, 0, 0)

	case ledserial.ClearPacket:
		d.fill(0, 0, 0)

	case ledserial.SetPacket:
		for _, b := range p.Pix {
			d.led.WriteByte(b)
		}

	case ledserial.FillPacket:
		d.fill(p.Color[0], p.Color[1], p.Color[2])

	default:
		return fmt.Errorf("unknown packet type: %T", p)
	}

	return nil
}

func (d *Device) fill(r, g, b uint8) {
	for i := 0; i < int(d.ctx.NumLEDs); i++ {
		writeLEDRGB(d.led, r, g, b)
	}
}

func writeLEDRGB(led ws2812.Device, r, g, b uint8) {
	led.WriteByte(r)
	led.WriteByte(g)
	led.WriteByte(b)
}
