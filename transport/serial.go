// Package transport connects the uploader to the car's controller.
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// ErrNotConnected is returned when sending on a closed transport.
var ErrNotConnected = errors.New("serial port is not open")

// Opener opens a serial port. It exists so tests can substitute the
// hardware.
type Opener func(name string, mode *serial.Mode) (io.ReadWriteCloser, error)

func openSerial(name string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	return serial.Open(name, mode)
}

// Serial sends protocol lines over a serial port. The port is opened on
// Connect and closed on Disconnect.
type Serial struct {
	mu       sync.Mutex
	portName string
	mode     *serial.Mode
	open     Opener
	port     io.ReadWriteCloser
}

// NewSerial creates a transport for the named port at baud, 8N1.
func NewSerial(portName string, baud int) *Serial {
	return &Serial{
		portName: portName,
		mode: &serial.Mode{
			BaudRate: baud,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		},
		open: openSerial,
	}
}

// WithOpener replaces the function used to open the port.
func (s *Serial) WithOpener(open Opener) *Serial {
	s.open = open
	return s
}

// PortName returns the device name.
func (s *Serial) PortName() string {
	return s.portName
}

// Connect opens the port.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	port, err := s.open(s.portName, s.mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.portName, err)
	}
	s.port = port
	return nil
}

// SendLine writes line to the port.
func (s *Serial) SendLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ErrNotConnected
	}
	n, err := io.WriteString(s.port, line)
	if err != nil {
		return err
	}
	if n != len(line) {
		return io.ErrShortWrite
	}
	return nil
}

// Disconnect closes the port. Closing a closed transport is a no-op.
func (s *Serial) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Ports lists the serial ports present on the system.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
