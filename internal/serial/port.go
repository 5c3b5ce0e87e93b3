// Package serial opens the device's debug UART as an input source.
package serial

import (
	"errors"
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability. Only the read side is used.
type Port interface {
	Read(p []byte) (int, error)
	Close() error
}

// Open opens name at baud, 8N1. readTimeout bounds each Read so the reader
// can notice shutdown; it must be positive.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	if name == "" {
		return nil, errors.New("serial: device name is required")
	}
	if readTimeout <= 0 {
		return nil, errors.New("serial: read timeout must be > 0")
	}
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout, Size: 8, Parity: serial.ParityNone, StopBits: serial.Stop1}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}
