package tellie

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Port is the raw byte channel a session owns exclusively.
//
// Read must honor the configured read timeout: it returns the bytes available
// within the timeout (possibly zero) rather than blocking indefinitely. SetRTS
// drives the control line used for the hardware reset pulse.
//
// go.bug.st/serial ports satisfy this interface; tests substitute an in-memory
// implementation.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	SetRTS(level bool) error
	Close() error
}

// openPort opens the serial device at path with 8N1 framing and the given read
// timeout. Failures surface as ErrConnectionLost.
func openPort(path string, baudRate int, readTimeout time.Duration) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrConnectionLost, path, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("%w: set read timeout on %s: %w", ErrConnectionLost, path, err)
	}

	return port, nil
}
