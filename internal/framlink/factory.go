package framlink

import (
	"go.bug.st/serial"
)

// NewRealMux creates a Mux instance backed by a real serial port at the given
// path using the provided serial options.
func NewRealMux(path string, opts PortOptions) (*Mux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return NewMux[serial.Port](port), nil
}
