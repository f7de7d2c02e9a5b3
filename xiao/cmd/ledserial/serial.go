package main

import (
	"io"
	"machine"
	"runtime"
	"time"
)

// SerialReadWriter is a machine.Serialer usable as an io.ReadWriter.
type SerialReadWriter interface {
	io.ReadWriter
	machine.Serialer
}

type serialIO struct {
	machine.Serialer
}

// WrapSerial wraps a machine.Serialer in an io.ReadWriter. Reads never block
// for long: an empty receive buffer yields a zero-length read, which
// io.ReadFull simply retries.
func WrapSerial(serial machine.Serialer) SerialReadWriter {
	return serialIO{Serialer: serial}
}

func (s serialIO) Read(b []byte) (int, error) {
	n := min(s.Buffered(), len(b))
	if n == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}

	for i := range n {
		c, err := s.ReadByte()
		if err != nil {
			return i, err
		}
		b[i] = c
	}

	runtime.Gosched()
	return n, nil
}

func (s serialIO) Write(b []byte) (int, error) {
	for i, c := range b {
		if err := s.WriteByte(c); err != nil {
			return i, err
		}
	}
	runtime.Gosched()
	return len(b), nil
}
