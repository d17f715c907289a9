package tilemap

import (
	"errors"
	"fmt"
)

// Common errors returned by the tile map library
var (
	ErrParse                   = errors.New("parse error")
	ErrInvalidState            = errors.New("invalid state")
	ErrTransport               = errors.New("transport error")
	ErrInvalidZoom             = errors.New("zoom must be between 19 and 21")
	ErrInvalidBaudRate         = errors.New("baud rate must be positive")
	ErrInvalidTickInterval     = errors.New("tick interval must be positive")
	ErrInvalidStartDelay       = errors.New("start delay must be non-negative")
	ErrInvalidCarParams        = errors.New("car parameters must be positive")
	ErrInvalidMaxSteer         = errors.New("max steer must be between 0 and 90 degrees")
	ErrInvalidLatitude         = errors.New("latitude must be between -85 and 85 degrees")
	ErrInvalidLongitude        = errors.New("longitude must be between -180 and 180 degrees")
	ErrNoWaypoints             = errors.New("at least one waypoint is required")
	ErrNoCar                   = errors.New("no simulated car placed on the map")
	ErrIndexOutOfRange         = errors.New("index out of range")
	ErrSimulatorAlreadyRunning = errors.New("simulator is already running")
	ErrUploadInProgress        = errors.New("upload already in progress")
	ErrUnknownSpeedLabel       = errors.New("speed label not in table")
	ErrEmptySpeedTable         = errors.New("speed table must contain at least one label")
	ErrSpeedCodeRange          = errors.New("speed code must be between 0 and 15")
	ErrUnterminatedChain       = errors.New("polygon chain is not terminated")
	ErrStrayTerminator         = errors.New("chain terminator without vertices")
	ErrUnsupportedVersion      = errors.New("unsupported snapshot version")
	ErrInvalidHeading          = errors.New("heading must be between 0 and 359 degrees")
	ErrDeclinationModel        = errors.New("date outside magnetic model validity")
)

// ParseError reports malformed text input. Line is 1-based; zero means the
// error is not tied to a single line.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %q: %v", e.Line, e.Text, e.Err)
	}
	return fmt.Sprintf("%q: %v", e.Text, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}

// TransportError wraps a failure surfaced by a Transport during an upload.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

func newParseError(line int, text string, err error) *ParseError {
	return &ParseError{Line: line, Text: text, Err: err}
}
