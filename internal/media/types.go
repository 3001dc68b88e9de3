package media

import (
	"context"
	"fmt"
)

// Mode selects which audio sources a recording captures.
type Mode string

const (
	ModeMicrophone Mode = "microphone"
	ModeSystem     Mode = "system"
	ModeBoth       Mode = "both"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeMicrophone, ModeSystem, ModeBoth:
		return Mode(raw), nil
	default:
		return "", fmt.Errorf("unknown recording mode %q: expected microphone, system or both", raw)
	}
}

func (m Mode) IncludesMicrophone() bool { return m == ModeMicrophone || m == ModeBoth }
func (m Mode) IncludesSystem() bool     { return m == ModeSystem || m == ModeBoth }

type Kind string

const (
	KindMicrophone Kind = "microphone"
	KindSystem     Kind = "system"
	KindVideo      Kind = "video"
	KindMixed      Kind = "mixed"
)

// Track is a live capture handle. Audio tracks deliver PCM16-LE mono chunks
// to subscribers. OnEnded listeners fire only when the platform ends the
// track, never on a local Stop.
type Track interface {
	ID() string
	Kind() Kind
	SampleRate() int
	Subscribe(fn func(pcm []byte)) (cancel func())
	OnEnded(fn func())
	Stop()
}

type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
}

type DisplayConstraints struct {
	Audio       bool
	VideoWidth  int
	VideoHeight int
}

// Platform is the capture backend. Errors should be *PlatformError so the
// acquirer can tell denial, cancellation and unsupported capture apart.
type Platform interface {
	UserMedia(ctx context.Context, c AudioConstraints) ([]Track, error)
	DisplayMedia(ctx context.Context, c DisplayConstraints) ([]Track, error)
	Mix(tracks ...Track) (Track, error)
}

// Platform error names, following the DOMException names capture APIs use.
const (
	NotAllowedError   = "NotAllowedError"
	AbortError        = "AbortError"
	NotSupportedError = "NotSupportedError"
	NotReadableError  = "NotReadableError"
	NotFoundError     = "NotFoundError"
)

type PlatformError struct {
	Name    string
	Message string
}

func (e *PlatformError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}
