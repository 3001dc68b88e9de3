package live

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/meetscribe/internal/failure"
	"github.com/sjawhar/meetscribe/internal/media"
)

const DeepgramModel = "nova-2"

type wsConn interface {
	Connect() bool
	Stop()
	Write(p []byte) (int, error)
}

// Deepgram streams a track into Deepgram's live websocket API.
type Deepgram struct {
	apiKey   func() string
	language string
	dial     func(ctx context.Context, key string, t *interfaces.LiveTranscriptionOptions, cb api.LiveMessageCallback) (wsConn, error)

	mu    sync.Mutex
	conn  wsConn
	unsub func()
}

// NewDeepgram builds a recognizer. apiKey is read on every Start so a key
// changed at runtime takes effect on the next recording.
func NewDeepgram(apiKey func() string, language string) *Deepgram {
	if language == "" {
		language = "en-US"
	}
	return &Deepgram{
		apiKey:   apiKey,
		language: language,
		dial: func(ctx context.Context, key string, t *interfaces.LiveTranscriptionOptions, cb api.LiveMessageCallback) (wsConn, error) {
			return client.NewWSUsingCallback(ctx, key, &interfaces.ClientOptions{EnableKeepAlive: true}, t, cb)
		},
	}
}

func (d *Deepgram) Start(ctx context.Context, src media.Track, emit func(Event)) error {
	key := strings.TrimSpace(d.apiKey())
	if key == "" {
		return failure.New(failure.MissingCredential, "deepgram api key")
	}

	opts := &interfaces.LiveTranscriptionOptions{
		Model:          DeepgramModel,
		Language:       d.language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		Encoding:       "linear16",
		SampleRate:     src.SampleRate(),
		Channels:       1,
	}

	conn, err := d.dial(ctx, key, opts, &callback{emit: emit})
	if err != nil {
		return failure.Wrap(failure.NetworkError, err)
	}
	if ok := conn.Connect(); !ok {
		return failure.Wrap(failure.NetworkError, errors.New("deepgram connect failed"))
	}

	unsub := src.Subscribe(func(pcm []byte) {
		if _, err := conn.Write(pcm); err != nil {
			slog.Debug("live: deepgram write failed", "error", err)
		}
	})

	d.mu.Lock()
	prevConn, prevUnsub := d.conn, d.unsub
	d.conn, d.unsub = conn, unsub
	d.mu.Unlock()

	if prevUnsub != nil {
		prevUnsub()
	}
	if prevConn != nil {
		prevConn.Stop()
	}
	return nil
}

func (d *Deepgram) Stop() {
	d.mu.Lock()
	conn, unsub := d.conn, d.unsub
	d.conn, d.unsub = nil, nil
	d.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if conn != nil {
		conn.Stop()
	}
}

type callback struct {
	emit func(Event)
}

func (c *callback) Open(*api.OpenResponse) error {
	slog.Info("live: connected to Deepgram")
	return nil
}

func (c *callback) Message(mr *api.MessageResponse) error {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	c.emit(Event{
		Type:  EventResult,
		Text:  mr.Channel.Alternatives[0].Transcript,
		Final: mr.IsFinal,
	})
	return nil
}

func (c *callback) Metadata(*api.MetadataResponse) error { return nil }

func (c *callback) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c *callback) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (c *callback) Close(*api.CloseResponse) error {
	slog.Info("live: disconnected from Deepgram")
	c.emit(Event{Type: EventEnd})
	return nil
}

func (c *callback) Error(er *api.ErrorResponse) error {
	if er == nil {
		return nil
	}
	slog.Warn("live: deepgram error", "code", er.ErrCode, "description", er.Description)
	c.emit(Event{Type: EventError, Code: deepgramCode(er.ErrCode, er.Description), Message: er.Description})
	return nil
}

func (c *callback) UnhandledEvent([]byte) error { return nil }

// deepgramCode maps Deepgram's error responses onto recognizer codes.
func deepgramCode(errCode, description string) string {
	s := strings.ToLower(errCode + " " + description)
	switch {
	case strings.Contains(s, "401"), strings.Contains(s, "403"),
		strings.Contains(s, "unauthorized"), strings.Contains(s, "forbidden"):
		return "not-allowed"
	case strings.Contains(s, "timeout"), strings.Contains(s, "connection"),
		strings.Contains(s, "network"), strings.Contains(s, "websocket"):
		return "network"
	case strings.Contains(s, "no speech"), strings.Contains(s, "silence"):
		return "no-speech"
	default:
		return strings.TrimSpace(errCode)
	}
}
