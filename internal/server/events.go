package server

import (
	"time"

	"github.com/sjawhar/meetscribe/internal/media"
	"github.com/sjawhar/meetscribe/internal/notify"
	"github.com/sjawhar/meetscribe/internal/session"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

// SessionView is the session as clients see it. The Deepgram key itself is
// never sent, only whether one is set.
type SessionView struct {
	Transcript        string        `json:"transcript"`
	Summary           string        `json:"summary"`
	RecordingMode     media.Mode    `json:"recordingMode"`
	ElapsedSeconds    int           `json:"elapsedSeconds"`
	Status            session.State `json:"status"`
	Emails            []string      `json:"emails"`
	Subject           string        `json:"subject"`
	HasDeepgramAPIKey bool          `json:"hasDeepgramApiKey"`
}

func viewOf(s session.Session) SessionView {
	emails := s.Emails
	if emails == nil {
		emails = []string{}
	}
	return SessionView{
		Transcript:        s.Transcript,
		Summary:           s.Summary,
		RecordingMode:     s.Mode,
		ElapsedSeconds:    s.ElapsedSeconds,
		Status:            s.Status,
		Emails:            emails,
		Subject:           s.Subject,
		HasDeepgramAPIKey: s.DeepgramAPIKey != "",
	}
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

type NotificationEvent struct {
	Event
	notify.Notification
}

type SessionEvent struct {
	Event
	Session SessionView `json:"session"`
}

type TranscriptAppendedEvent struct {
	Event
	Text   string         `json:"text"`
	Source session.Source `json:"source"`
}

type TickEvent struct {
	Event
	ElapsedSeconds int `json:"elapsedSeconds"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
