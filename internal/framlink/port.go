package framlink

import (
	"io"
	"time"
)

// Porter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real bridge hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// PortFactory defines an interface for creating serial ports.
// This abstraction enables dependency injection of serial port creation.
type PortFactory interface {
	// Open opens a serial port at the specified path with the given options.
	Open(path string, opts PortOptions) (Porter, error)
}

// TimeoutPorter extends Porter with timeout capabilities.
// This is an optional interface that ports may implement.
type TimeoutPorter interface {
	Porter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}
