// Package segmenttest provides a scriptable encoder for recorder tests.
package segmenttest

import (
	"sync"
	"time"

	"github.com/sjawhar/meetscribe/internal/media"
)

type Encoder struct {
	// Supported lists the mime types IsTypeSupported accepts. Nil accepts all.
	Supported map[string]bool
	StartErr  error
	StopErr   error
	// FinalChunk is delivered during Stop, like an encoder flushing its tail.
	FinalChunk []byte

	mu        sync.Mutex
	onData    func([]byte)
	running   bool
	starts    int
	stops     int
	mimeType  string
	timeslice time.Duration
	source    media.Track
}

func (e *Encoder) IsTypeSupported(mimeType string) bool {
	if e.Supported == nil {
		return true
	}
	return e.Supported[mimeType]
}

func (e *Encoder) Start(src media.Track, mimeType string, timeslice time.Duration, onData func([]byte)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts++
	if e.StartErr != nil {
		return e.StartErr
	}
	e.running = true
	e.onData = onData
	e.mimeType = mimeType
	e.timeslice = timeslice
	e.source = src
	return nil
}

func (e *Encoder) Stop() error {
	e.mu.Lock()
	e.stops++
	e.running = false
	onData := e.onData
	final := e.FinalChunk
	e.mu.Unlock()

	if onData != nil && final != nil {
		onData(final)
	}
	return e.StopErr
}

// Emit delivers one timeslice chunk while running.
func (e *Encoder) Emit(b []byte) {
	e.mu.Lock()
	onData := e.onData
	running := e.running
	e.mu.Unlock()
	if running && onData != nil {
		onData(b)
	}
}

func (e *Encoder) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Encoder) Calls() (starts, stops int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts, e.stops
}

func (e *Encoder) Last() (mimeType string, timeslice time.Duration, src media.Track) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mimeType, e.timeslice, e.source
}
