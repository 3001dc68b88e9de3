package audio

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/sjawhar/meetscribe/internal/media"
)

// captureTrack wraps a PortAudio input stream and fans PCM16-LE chunks out
// to subscribers.
type captureTrack struct {
	id     string
	kind   media.Kind
	rate   int
	stream *portaudio.Stream
	buf    []int16

	subs fanout

	mu       sync.Mutex
	stopping bool
	ended    []func()
	done     chan struct{}
}

func openCaptureTrack(id string, kind media.Kind, dev *portaudio.DeviceInfo, sampleRate, framesPerBuffer int) (*captureTrack, error) {
	buf := make([]int16, framesPerBuffer)

	var stream *portaudio.Stream
	var err error
	if dev == nil {
		stream, err = portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	} else {
		params := portaudio.LowLatencyParameters(dev, nil)
		params.Input.Channels = 1
		params.SampleRate = float64(sampleRate)
		params.FramesPerBuffer = framesPerBuffer
		stream, err = portaudio.OpenStream(params, buf)
	}
	if err != nil {
		return nil, err
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, err
	}

	t := &captureTrack{
		id:     id,
		kind:   kind,
		rate:   sampleRate,
		stream: stream,
		buf:    buf,
		done:   make(chan struct{}),
	}
	go t.run()
	return t, nil
}

func (t *captureTrack) ID() string       { return t.id }
func (t *captureTrack) Kind() media.Kind { return t.kind }
func (t *captureTrack) SampleRate() int  { return t.rate }

func (t *captureTrack) Subscribe(fn func([]byte)) func() {
	return t.subs.add(fn)
}

func (t *captureTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ended = append(t.ended, fn)
}

// Stop waits for the read loop to exit; the loop closes the stream itself so
// no PortAudio call overlaps a blocking Read.
func (t *captureTrack) Stop() {
	t.mu.Lock()
	t.stopping = true
	t.mu.Unlock()
	<-t.done
}

func (t *captureTrack) run() {
	defer close(t.done)
	defer func() {
		_ = t.stream.Stop()
		_ = t.stream.Close()
	}()

	var out bytes.Buffer
	out.Grow(len(t.buf) * 2)

	for {
		if t.isStopping() {
			return
		}

		if err := t.stream.Read(); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "overflow") {
				slog.Warn("audio: input overflow, continuing", "track", t.id)
				continue
			}
			if t.isStopping() {
				return
			}
			slog.Warn("audio: capture ended by platform", "track", t.id, "error", err)
			t.fireEnded()
			return
		}

		out.Reset()
		if err := binary.Write(&out, binary.LittleEndian, t.buf); err != nil {
			continue
		}
		chunk := append([]byte(nil), out.Bytes()...)
		t.subs.emit(chunk)
	}
}

func (t *captureTrack) isStopping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopping
}

func (t *captureTrack) fireEnded() {
	t.mu.Lock()
	t.stopping = true
	listeners := append([]func(){}, t.ended...)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

type fanout struct {
	mu   sync.Mutex
	next int
	subs map[int]func([]byte)
}

func (f *fanout) add(fn func([]byte)) func() {
	f.mu.Lock()
	if f.subs == nil {
		f.subs = make(map[int]func([]byte))
	}
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fanout) emit(chunk []byte) {
	f.mu.Lock()
	subs := make([]func([]byte), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(chunk)
	}
}
