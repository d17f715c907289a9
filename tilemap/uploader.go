package tilemap

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Transport carries protocol lines to the car's controller.
type Transport interface {
	Connect() error
	SendLine(line string) error
	Disconnect() error
}

// UploadState is the progress of an upload.
type UploadState int

const (
	UploadIdle UploadState = iota
	UploadWaiting
	UploadSending
	UploadComplete
	UploadCancelled
	UploadFailed
)

func (s UploadState) String() string {
	switch s {
	case UploadIdle:
		return "idle"
	case UploadWaiting:
		return "waiting"
	case UploadSending:
		return "sending"
	case UploadComplete:
		return "complete"
	case UploadCancelled:
		return "cancelled"
	case UploadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s UploadState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Done reports whether s is a final state.
func (s UploadState) Done() bool {
	return s == UploadComplete || s == UploadCancelled || s == UploadFailed
}

// UploadResult reports the progress or outcome of an upload.
type UploadResult struct {
	State UploadState `json:"state"`
	Sent  int         `json:"sent"`
	Total int         `json:"total"`
	Err   error       `json:"-"`
}

// Defaults match a controller that needs a couple of seconds after the port
// opens before it listens.
const (
	DefaultUploadTick = 500 * time.Millisecond
	DefaultStartDelay = 4
)

// UploaderOptions configures an Uploader.
type UploaderOptions struct {
	TickInterval time.Duration
	StartDelay   int // ticks to wait after connecting before the first line
	// Manual disables the internal ticker; the caller drives Step.
	Manual bool
	Logger *zerolog.Logger
}

// Uploader sends protocol lines over a Transport, one line per tick.
type Uploader struct {
	mu        sync.Mutex
	transport Transport
	interval  time.Duration
	delay     int
	manual    bool
	logger    zerolog.Logger

	lines     []string
	remaining int // start delay ticks left
	cancelled bool
	result    UploadResult
	done      chan struct{}
	callbacks []func(UploadResult)
}

// NewUploader creates an uploader writing to t.
func NewUploader(t Transport, opts UploaderOptions) (*Uploader, error) {
	if opts.TickInterval == 0 {
		opts.TickInterval = DefaultUploadTick
	}
	if opts.TickInterval < 0 {
		return nil, ErrInvalidTickInterval
	}
	if opts.StartDelay < 0 {
		return nil, ErrInvalidStartDelay
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Uploader{
		transport: t,
		interval:  opts.TickInterval,
		delay:     opts.StartDelay,
		manual:    opts.Manual,
		logger:    logger.With().Str("component", "uploader").Logger(),
		callbacks: make([]func(UploadResult), 0),
	}, nil
}

// AddCallback registers fn to receive progress after every tick.
func (u *Uploader) AddCallback(fn func(UploadResult)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.callbacks = append(u.callbacks, fn)
}

// Begin connects the transport and schedules lines for sending. It returns
// without waiting for the upload to finish.
func (u *Uploader) Begin(lines []string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.result.State == UploadWaiting || u.result.State == UploadSending {
		return ErrUploadInProgress
	}
	if err := u.transport.Connect(); err != nil {
		terr := &TransportError{Op: "connect", Err: err}
		u.result = UploadResult{State: UploadFailed, Total: len(lines), Err: terr}
		u.logger.Error().Err(err).Msg("Unable to open transport")
		return terr
	}

	u.lines = append([]string(nil), lines...)
	u.remaining = u.delay
	u.cancelled = false
	u.done = make(chan struct{})
	u.result = UploadResult{State: UploadWaiting, Total: len(lines)}
	u.logger.Info().Int("lines", len(lines)).Int("delay_ticks", u.delay).Msg("Upload started")

	if !u.manual {
		go u.loop(u.done)
	}
	return nil
}

// Cancel asks the upload to stop. The next tick closes the transport
// without sending further lines.
func (u *Uploader) Cancel() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cancelled = true
}

// Result returns the latest progress.
func (u *Uploader) Result() UploadResult {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.result
}

// Wait blocks until the upload reaches a final state or ctx is done.
func (u *Uploader) Wait(ctx context.Context) (UploadResult, error) {
	u.mu.Lock()
	done := u.done
	u.mu.Unlock()
	if done == nil {
		return u.Result(), nil
	}
	select {
	case <-done:
		return u.Result(), nil
	case <-ctx.Done():
		return u.Result(), ctx.Err()
	}
}

// Step runs one tick synchronously.
func (u *Uploader) Step() UploadResult {
	return u.tick()
}

func (u *Uploader) loop(done chan struct{}) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if u.tick().State.Done() {
				return
			}
		}
	}
}

func (u *Uploader) tick() UploadResult {
	u.mu.Lock()
	switch {
	case u.result.State.Done() || u.result.State == UploadIdle:
		r := u.result
		u.mu.Unlock()
		return r
	case u.cancelled:
		u.finish(UploadCancelled, nil)
		u.logger.Info().Int("sent", u.result.Sent).Msg("Upload cancelled")
	case u.remaining > 0:
		u.remaining--
	case u.result.Sent >= len(u.lines):
		u.finish(UploadComplete, nil)
		u.logger.Info().Int("sent", u.result.Sent).Msg("Upload complete")
	default:
		u.result.State = UploadSending
		if err := u.transport.SendLine(u.lines[u.result.Sent]); err != nil {
			u.finish(UploadFailed, &TransportError{Op: "send", Err: err})
			u.logger.Error().Err(err).Int("line", u.result.Sent).Msg("Upload failed")
		} else {
			u.result.Sent++
		}
	}
	r := u.result
	callbacks := slices.Clone(u.callbacks)
	u.mu.Unlock()

	for _, cb := range callbacks {
		cb(r)
	}
	return r
}

// finish closes the transport and records the final state. Caller holds
// u.mu.
func (u *Uploader) finish(state UploadState, err error) {
	if derr := u.transport.Disconnect(); derr != nil {
		u.logger.Warn().Err(derr).Msg("Error closing transport")
		if err == nil && state == UploadComplete {
			state, err = UploadFailed, &TransportError{Op: "disconnect", Err: derr}
		}
	}
	u.result.State = state
	u.result.Err = err
	close(u.done)
}
