// Package mediatest provides an in-memory capture platform for tests.
package mediatest

import (
	"context"
	"fmt"
	"sync"

	"github.com/sjawhar/meetscribe/internal/media"
)

type Track struct {
	id   string
	kind media.Kind
	rate int

	mu      sync.Mutex
	stopped bool
	stops   int
	subs    map[int]func([]byte)
	nextSub int
	ended   []func()
}

func NewTrack(id string, kind media.Kind) *Track {
	return &Track{id: id, kind: kind, rate: 16000, subs: map[int]func([]byte){}}
}

func (t *Track) ID() string       { return t.id }
func (t *Track) Kind() media.Kind { return t.kind }
func (t *Track) SampleRate() int  { return t.rate }

func (t *Track) Subscribe(fn func([]byte)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	t.ended = append(t.ended, fn)
	t.mu.Unlock()
}

func (t *Track) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.stops++
	t.mu.Unlock()
}

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Track) StopCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// Emit delivers pcm to every subscriber.
func (t *Track) Emit(pcm []byte) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	subs := make([]func([]byte), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(pcm)
	}
}

// End simulates the platform ending the track.
func (t *Track) End() {
	t.mu.Lock()
	t.stopped = true
	listeners := append([]func(){}, t.ended...)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Platform hands out fake tracks and records every track it created so tests
// can assert nothing is left running.
type Platform struct {
	mu sync.Mutex

	UserMediaErr    error
	DisplayMediaErr error
	MixErr          error
	// DisplayKinds lists the tracks a display capture yields. Defaults to
	// one video and one system audio track.
	DisplayKinds []media.Kind

	// Gate, when set, blocks acquisition until it is closed.
	Gate chan struct{}

	created      []*Track
	userCalls    int
	displayCalls int
	LastAudio    media.AudioConstraints
	LastDisplay  media.DisplayConstraints
}

func (p *Platform) UserMedia(ctx context.Context, c media.AudioConstraints) ([]media.Track, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.userCalls++
	p.LastAudio = c
	if p.UserMediaErr != nil {
		return nil, p.UserMediaErr
	}
	return []media.Track{p.newTrackLocked(media.KindMicrophone)}, nil
}

func (p *Platform) DisplayMedia(ctx context.Context, c media.DisplayConstraints) ([]media.Track, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.displayCalls++
	p.LastDisplay = c
	if p.DisplayMediaErr != nil {
		return nil, p.DisplayMediaErr
	}

	kinds := p.DisplayKinds
	if kinds == nil {
		kinds = []media.Kind{media.KindVideo, media.KindSystem}
	}
	tracks := make([]media.Track, 0, len(kinds))
	for _, k := range kinds {
		tracks = append(tracks, p.newTrackLocked(k))
	}
	return tracks, nil
}

func (p *Platform) Mix(tracks ...media.Track) (media.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.MixErr != nil {
		return nil, p.MixErr
	}
	return p.newTrackLocked(media.KindMixed), nil
}

func (p *Platform) newTrackLocked(kind media.Kind) *Track {
	t := NewTrack(fmt.Sprintf("%s-%d", kind, len(p.created)), kind)
	p.created = append(p.created, t)
	return t
}

func (p *Platform) wait(ctx context.Context) error {
	p.mu.Lock()
	gate := p.Gate
	p.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tracks returns every track created so far.
func (p *Platform) Tracks() []*Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Track(nil), p.created...)
}

// Live returns the tracks that were never stopped.
func (p *Platform) Live() []*Track {
	var live []*Track
	for _, t := range p.Tracks() {
		if !t.Stopped() {
			live = append(live, t)
		}
	}
	return live
}

// TrackOf returns the most recent track of kind, or nil.
func (p *Platform) TrackOf(kind media.Kind) *Track {
	tracks := p.Tracks()
	for i := len(tracks) - 1; i >= 0; i-- {
		if tracks[i].kind == kind {
			return tracks[i]
		}
	}
	return nil
}

func (p *Platform) Calls() (user, display int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userCalls, p.displayCalls
}
