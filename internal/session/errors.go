package session

import "errors"

// ErrBusy is returned when a start, stop or clear arrives while another
// transition is in flight.
var ErrBusy = errors.New("recording transition in progress")

// ErrClosed is returned once the orchestrator's Run loop has exited.
var ErrClosed = errors.New("orchestrator closed")

// ErrModeLocked is returned by Update when the recording mode or transcript is
// changed while a recording is active.
var ErrModeLocked = errors.New("mode and transcript cannot change while recording")

// ErrStale is returned by Update callers whose work began before a Clear.
var ErrStale = errors.New("session was cleared")
