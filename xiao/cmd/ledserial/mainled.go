package main

import (
	"machine"

	"tinygo.org/x/drivers/ws2812"
)

// statusLED is the XIAO's onboard NeoPixel. Its power is switched through
// GPIO11 and its data line is GPIO12.
type statusLED struct {
	power machine.Pin
	led   ws2812.Device
}

func newStatusLED() *statusLED {
	power := machine.GPIO11
	power.Configure(machine.PinConfig{Mode: machine.PinOutput})
	power.Low()

	data := machine.GPIO12
	data.Configure(machine.PinConfig{Mode: machine.PinOutput})

	return &statusLED{power: power, led: ws2812.New(data)}
}

// Flash shows the given color until Off is called.
func (s *statusLED) Flash(r, g, b uint8) {
	s.power.High()
	writeLEDRGB(s.led, r, g, b)
}

// Off cuts power to the LED.
func (s *statusLED) Off() {
	s.power.Low()
}
