package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sjawhar/meetscribe/internal/failure"
)

const defaultSampleRate = 16000

// Source is one named input of a recording.
type Source struct {
	Kind  Kind
	Track Track
}

// SourceSet is everything acquired for one recording. Combined is the track
// to record from: the single source, or the mix when both were acquired.
type SourceSet struct {
	Sources  []Source
	Combined Track

	once sync.Once
}

func (s *SourceSet) Microphone() Track {
	return s.trackOf(KindMicrophone)
}

func (s *SourceSet) System() Track {
	return s.trackOf(KindSystem)
}

func (s *SourceSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Sources)
}

func (s *SourceSet) trackOf(kind Kind) Track {
	if s == nil {
		return nil
	}
	for _, src := range s.Sources {
		if src.Kind == kind {
			return src.Track
		}
	}
	return nil
}

type Acquirer struct {
	platform   Platform
	sampleRate int
}

func NewAcquirer(platform Platform, sampleRate int) *Acquirer {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	return &Acquirer{platform: platform, sampleRate: sampleRate}
}

// Acquire obtains the sources for mode. onEnded is invoked with the track's
// kind when the platform ends a microphone or system audio track. On error
// nothing stays acquired.
func (a *Acquirer) Acquire(ctx context.Context, mode Mode, onEnded func(Kind)) (*SourceSet, error) {
	set := &SourceSet{}

	if mode.IncludesMicrophone() {
		mic, err := a.acquireMicrophone(ctx)
		if err != nil {
			return nil, err
		}
		watchEnd(mic, KindMicrophone, onEnded)
		set.Sources = append(set.Sources, Source{Kind: KindMicrophone, Track: mic})
	}

	if mode.IncludesSystem() {
		sys, err := a.acquireSystem(ctx)
		if err != nil {
			Release(set)
			return nil, err
		}
		watchEnd(sys, KindSystem, onEnded)
		set.Sources = append(set.Sources, Source{Kind: KindSystem, Track: sys})
	}

	if len(set.Sources) == 0 {
		return nil, failure.New(failure.Unknown, fmt.Sprintf("no sources for mode %q", mode))
	}

	if len(set.Sources) == 1 {
		set.Combined = set.Sources[0].Track
		return set, nil
	}

	tracks := make([]Track, 0, len(set.Sources))
	for _, src := range set.Sources {
		tracks = append(tracks, src.Track)
	}
	mixed, err := a.platform.Mix(tracks...)
	if err != nil {
		Release(set)
		return nil, failure.Wrap(failure.SourceUnreadable, fmt.Errorf("mix sources: %w", err))
	}
	set.Combined = mixed

	return set, nil
}

func watchEnd(t Track, kind Kind, onEnded func(Kind)) {
	if onEnded != nil {
		t.OnEnded(func() { onEnded(kind) })
	}
}

func (a *Acquirer) acquireMicrophone(ctx context.Context) (Track, error) {
	tracks, err := a.platform.UserMedia(ctx, AudioConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       a.sampleRate,
	})
	if err != nil {
		stopAll(tracks)
		return nil, failure.Wrap(failure.PermissionDenied, err)
	}

	mic := firstAudio(tracks)
	for _, t := range tracks {
		if t != mic {
			t.Stop()
		}
	}
	if mic == nil {
		return nil, failure.New(failure.PermissionDenied, "microphone unavailable")
	}
	return mic, nil
}

func (a *Acquirer) acquireSystem(ctx context.Context) (Track, error) {
	tracks, err := a.platform.DisplayMedia(ctx, DisplayConstraints{Audio: true, VideoWidth: 1, VideoHeight: 1})
	if err != nil {
		stopAll(tracks)
		return nil, mapDisplayError(err)
	}

	// The video track only exists because display capture requires one.
	var audio Track
	for _, t := range tracks {
		if t.Kind() == KindVideo || audio != nil {
			t.Stop()
			continue
		}
		audio = t
	}

	if audio == nil {
		return nil, failure.New(failure.NoAudioTrack, "captured source has no audio")
	}
	return audio, nil
}

func mapDisplayError(err error) error {
	var pe *PlatformError
	if !errors.As(err, &pe) {
		return failure.Wrap(failure.Unknown, err)
	}

	switch pe.Name {
	case NotAllowedError:
		return failure.Wrap(failure.PermissionDenied, err)
	case AbortError:
		return failure.Wrap(failure.CaptureAborted, err)
	case NotSupportedError:
		return failure.Wrap(failure.UnsupportedCapture, err)
	case NotReadableError:
		return failure.Wrap(failure.SourceUnreadable, err)
	default:
		return &failure.Error{Kind: failure.Unknown, Detail: pe.Error(), Err: err}
	}
}

// Release stops every track of set. Safe to call more than once and on nil.
func Release(set *SourceSet) {
	if set == nil {
		return
	}
	set.once.Do(func() {
		if set.Combined != nil {
			set.Combined.Stop()
		}
		for _, src := range set.Sources {
			if src.Track != nil && src.Track != set.Combined {
				src.Track.Stop()
			}
		}
		slog.Debug("media: released sources", "count", len(set.Sources))
	})
}

func firstAudio(tracks []Track) Track {
	for _, t := range tracks {
		if t.Kind() != KindVideo {
			return t
		}
	}
	return nil
}

func stopAll(tracks []Track) {
	for _, t := range tracks {
		if t != nil {
			t.Stop()
		}
	}
}
