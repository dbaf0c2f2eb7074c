package serialmux

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// go.bug.st/serial ports implement it; test doubles may.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// applyReadTimeout sets d on p when the port supports it.
func applyReadTimeout(p SerialPorter, d time.Duration) error {
	tp, ok := p.(TimeoutSerialPorter)
	if !ok || d <= 0 {
		return nil
	}
	return tp.SetReadTimeout(d)
}
