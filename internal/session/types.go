package session

import (
	"context"
	"time"

	"github.com/sjawhar/meetscribe/internal/live"
	"github.com/sjawhar/meetscribe/internal/media"
	"github.com/sjawhar/meetscribe/internal/notify"
	"github.com/sjawhar/meetscribe/internal/segment"
	"github.com/sjawhar/meetscribe/internal/storage"
)

type State string

const (
	Idle      State = "idle"
	Starting  State = "starting"
	Recording State = "recording"
	Stopping  State = "stopping"
)

// Source tags where a transcript append came from.
type Source string

const (
	SourceLive    Source = "live"
	SourceSegment Source = "segment"
)

// Session is the user-visible recording state. The orchestrator owns it;
// callers only ever see copies.
type Session struct {
	Transcript     string     `json:"transcript"`
	Summary        string     `json:"summary"`
	Mode           media.Mode `json:"recordingMode"`
	ElapsedSeconds int        `json:"elapsedSeconds"`
	Status         State      `json:"status"`
	Emails         []string   `json:"emails"`
	Subject        string     `json:"subject"`
	DeepgramAPIKey string     `json:"-"`
	// Generation increases on every Clear. Update keeps it unchanged.
	Generation int `json:"-"`
}

func DefaultSession() Session {
	return fromSnapshot(storage.DefaultSnapshot())
}

func (s Session) clone() Session {
	s.Emails = append([]string{}, s.Emails...)
	return s
}

func (s Session) snapshot() storage.Snapshot {
	return storage.Snapshot{
		Transcript:     s.Transcript,
		Summary:        s.Summary,
		Emails:         append([]string{}, s.Emails...),
		Subject:        s.Subject,
		RecordingMode:  string(s.Mode),
		DeepgramAPIKey: s.DeepgramAPIKey,
	}
}

func fromSnapshot(snap storage.Snapshot) Session {
	mode, err := media.ParseMode(snap.RecordingMode)
	if err != nil {
		mode = media.ModeMicrophone
	}
	emails := snap.Emails
	if emails == nil {
		emails = []string{}
	}
	return Session{
		Transcript:     snap.Transcript,
		Summary:        snap.Summary,
		Mode:           mode,
		Status:         Idle,
		Emails:         append([]string{}, emails...),
		Subject:        snap.Subject,
		DeepgramAPIKey: snap.DeepgramAPIKey,
	}
}

type Store interface {
	SaveSession(snap storage.Snapshot) error
	LoadSession() (storage.Snapshot, error)
	ClearSession() error
	CreateRecording(id string, startedAt time.Time, mode string) error
	EndRecording(id string, endedAt time.Time, durationSeconds int) error
}

type Acquirer interface {
	Acquire(ctx context.Context, mode media.Mode, onEnded func(media.Kind)) (*media.SourceSet, error)
}

type LiveTranscriber interface {
	Start(ctx context.Context, src media.Track, cb live.Callbacks) error
	Stop()
}

type SegmentRecorder interface {
	Start(src media.Track, onSegment func(segment.Segment)) error
	Stop() error
}

type RemoteTranscriber interface {
	Transcribe(ctx context.Context, seg segment.Segment, apiKey string) (string, error)
}

type Notifier interface {
	Show(message string, severity notify.Severity)
}

type EventBroadcaster interface {
	BroadcastSession(s Session)
	BroadcastTranscriptAppended(text string, source Source)
	BroadcastTick(elapsedSeconds int)
}
