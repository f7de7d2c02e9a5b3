// Command ledserial is the strip controller firmware for the Seeed XIAO
// RP2040. It drives a WS2812 strip on D10 from frames received over USB
// serial.
package main

import "machine"

func main() {
	d := NewDevice(machine.Serial, machine.D10)
	d.Run()
}
