package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/meetscribe/internal/media"
)

// Timeslice is the cadence at which the encoder hands back data. Chunks are
// buffered until Stop; slicing only bounds encoder-side memory.
const Timeslice = time.Second

const DefaultType = "audio/webm"

// PreferredTypes is the codec negotiation order.
var PreferredTypes = []string{
	"audio/webm;codecs=opus",
	"audio/webm",
	"audio/mp4",
	"audio/ogg;codecs=opus",
}

var ErrAlreadyRecording = errors.New("segment recorder already running")

// Encoder turns a PCM track into an encoded container stream.
type Encoder interface {
	IsTypeSupported(mimeType string) bool
	Start(src media.Track, mimeType string, timeslice time.Duration, onData func([]byte)) error
	Stop() error
}

// Segment is one finished recording.
type Segment struct {
	Data     []byte
	MimeType string
	Duration time.Duration
}

func (s Segment) Size() int { return len(s.Data) }

func NegotiateType(enc Encoder) string {
	for _, mime := range PreferredTypes {
		if enc.IsTypeSupported(mime) {
			return mime
		}
	}
	return DefaultType
}

type Recorder struct {
	enc Encoder
	now func() time.Time

	mu        sync.Mutex
	active    bool
	stopping  bool
	mimeType  string
	startedAt time.Time
	chunks    [][]byte
	total     int
	onSegment func(Segment)
}

func NewRecorder(enc Encoder) *Recorder {
	return &Recorder{enc: enc, now: time.Now}
}

// Start begins capturing src. onSegment is called at most once, from Stop.
func (r *Recorder) Start(src media.Track, onSegment func(Segment)) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	mime := NegotiateType(r.enc)
	r.active = true
	r.mimeType = mime
	r.startedAt = r.now()
	r.chunks = nil
	r.total = 0
	r.onSegment = onSegment
	r.mu.Unlock()

	if err := r.enc.Start(src, mime, Timeslice, r.addChunk); err != nil {
		r.mu.Lock()
		r.active = false
		r.onSegment = nil
		r.mu.Unlock()
		return fmt.Errorf("start encoder (%s): %w", mime, err)
	}

	slog.Debug("segment: recording", "track", src.ID(), "mime", mime)
	return nil
}

func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Stop flushes the encoder and emits the assembled segment when any bytes
// were captured. Calling Stop on an idle recorder does nothing.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.active || r.stopping {
		r.mu.Unlock()
		return nil
	}
	r.stopping = true
	r.mu.Unlock()

	encErr := r.enc.Stop()

	r.mu.Lock()
	r.active = false
	r.stopping = false
	chunks := r.chunks
	total := r.total
	onSegment := r.onSegment
	seg := Segment{MimeType: r.mimeType, Duration: r.now().Sub(r.startedAt)}
	r.chunks = nil
	r.total = 0
	r.onSegment = nil
	r.mu.Unlock()

	if total > 0 && onSegment != nil {
		seg.Data = make([]byte, 0, total)
		for _, c := range chunks {
			seg.Data = append(seg.Data, c...)
		}
		onSegment(seg)
	}

	if encErr != nil {
		return fmt.Errorf("stop encoder: %w", encErr)
	}
	return nil
}

func (r *Recorder) addChunk(b []byte) {
	if len(b) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.chunks = append(r.chunks, append([]byte(nil), b...))
	r.total += len(b)
}
