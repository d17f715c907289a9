package transport

import (
	"io"
	"sync"
)

// Writer is a transport that copies lines to an io.Writer, used for dry
// runs and logging what would be sent.
type Writer struct {
	mu        sync.Mutex
	w         io.Writer
	connected bool
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (t *Writer) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

func (t *Writer) SendLine(line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ErrNotConnected
	}
	_, err := io.WriteString(t.w, line)
	return err
}

func (t *Writer) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}
