// Package live runs continuous speech recognition against a microphone track,
// restarting the recognizer whenever it ends on its own.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/meetscribe/internal/failure"
	"github.com/sjawhar/meetscribe/internal/media"
)

const DefaultRestartDelay = 100 * time.Millisecond

var ErrAlreadyListening = errors.New("live transcriber already listening")

type EventType int

const (
	EventResult EventType = iota
	EventError
	EventEnd
)

// Event is one recognizer callback.
type Event struct {
	Type  EventType
	Text  string
	Final bool
	// Code is the recognizer's error code for EventError: "no-speech",
	// "audio-capture", "not-allowed", "service-not-allowed", "network",
	// "aborted" or anything else.
	Code    string
	Message string
}

// Recognizer is a streaming speech-to-text session. Start must not block
// beyond connecting; events arrive on emit until the recognizer ends.
type Recognizer interface {
	Start(ctx context.Context, src media.Track, emit func(Event)) error
	Stop()
}

type Callbacks struct {
	// OnText receives each final result with its trailing delimiter.
	OnText func(text string)
	// OnError receives recoverable errors. Listening continues.
	OnError func(err error)
	// OnFatal is called once when listening stops on its own.
	OnFatal func(err error)
}

type Transcriber struct {
	rec          Recognizer
	restartDelay time.Duration

	mu        sync.Mutex
	ctx       context.Context
	src       media.Track
	cb        Callbacks
	listening bool
	gen       int
	timer     *time.Timer
}

func New(rec Recognizer, restartDelay time.Duration) *Transcriber {
	if restartDelay <= 0 {
		restartDelay = DefaultRestartDelay
	}
	return &Transcriber{rec: rec, restartDelay: restartDelay}
}

func (t *Transcriber) Start(ctx context.Context, src media.Track, cb Callbacks) error {
	t.mu.Lock()
	if t.listening {
		t.mu.Unlock()
		return ErrAlreadyListening
	}
	t.ctx = ctx
	t.src = src
	t.cb = cb
	t.listening = true
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	if err := t.rec.Start(ctx, src, t.emitter(gen)); err != nil {
		t.mu.Lock()
		if t.gen == gen {
			t.listening = false
		}
		t.mu.Unlock()
		return classifyStartError(err)
	}
	return nil
}

// Stop ends listening. Late recognizer events are dropped.
func (t *Transcriber) Stop() {
	t.mu.Lock()
	if !t.listening {
		t.mu.Unlock()
		return
	}
	t.listening = false
	t.gen++
	t.clearTimerLocked()
	t.mu.Unlock()

	t.rec.Stop()
}

func (t *Transcriber) Listening() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listening
}

func (t *Transcriber) emitter(gen int) func(Event) {
	return func(ev Event) { t.handle(gen, ev) }
}

func (t *Transcriber) handle(gen int, ev Event) {
	t.mu.Lock()
	if !t.listening || gen != t.gen {
		t.mu.Unlock()
		return
	}
	cb := t.cb

	switch ev.Type {
	case EventResult:
		t.mu.Unlock()
		if !ev.Final {
			return
		}
		text := strings.TrimSpace(ev.Text)
		if text == "" || cb.OnText == nil {
			return
		}
		cb.OnText(text + " ")

	case EventError:
		err := MapError(ev.Code, ev.Message)
		if !isFatal(err) {
			t.mu.Unlock()
			if cb.OnError != nil {
				cb.OnError(err)
			}
			return
		}
		t.listening = false
		t.gen++
		t.clearTimerLocked()
		t.mu.Unlock()

		t.rec.Stop()
		if cb.OnFatal != nil {
			cb.OnFatal(err)
		}

	case EventEnd:
		t.clearTimerLocked()
		t.timer = time.AfterFunc(t.restartDelay, func() { t.restart(gen) })
		t.mu.Unlock()
		slog.Debug("live: recognizer ended, restarting", "delay", t.restartDelay)

	default:
		t.mu.Unlock()
	}
}

func (t *Transcriber) restart(prevGen int) {
	t.mu.Lock()
	if !t.listening || prevGen != t.gen {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.gen++
	gen := t.gen
	ctx, src, cb := t.ctx, t.src, t.cb
	t.mu.Unlock()

	err := t.rec.Start(ctx, src, t.emitter(gen))
	if err == nil {
		return
	}

	t.mu.Lock()
	if !t.listening || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.listening = false
	t.gen++
	t.mu.Unlock()

	slog.Warn("live: restart failed", "error", err)
	if cb.OnFatal != nil {
		cb.OnFatal(classifyStartError(err))
	}
}

func (t *Transcriber) clearTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// MapError converts a recognizer error code to a failure kind.
func MapError(code, message string) error {
	var kind failure.Kind
	switch code {
	case "no-speech":
		kind = failure.NoSpeech
	case "audio-capture":
		kind = failure.AudioCaptureFailed
	case "not-allowed", "service-not-allowed":
		kind = failure.PermissionDenied
	case "network":
		kind = failure.NetworkError
	case "aborted":
		kind = failure.CaptureAborted
	default:
		return &failure.Error{Kind: failure.Unknown, Detail: code, Err: errorOrNil(message)}
	}
	return &failure.Error{Kind: kind, Err: errorOrNil(message)}
}

func isFatal(err error) bool {
	switch failure.KindOf(err) {
	case failure.PermissionDenied, failure.CaptureAborted:
		return true
	default:
		return false
	}
}

func classifyStartError(err error) error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return err
	}
	return failure.Wrap(failure.Unknown, fmt.Errorf("start recognizer: %w", err))
}

func errorOrNil(message string) error {
	if message == "" {
		return nil
	}
	return errors.New(message)
}
