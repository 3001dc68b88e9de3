package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/sjawhar/meetscribe/internal/media"
)

var containerArgs = map[string][]string{
	"audio/webm;codecs=opus": {"-c:a", "libopus", "-f", "webm"},
	"audio/webm":             {"-c:a", "libopus", "-f", "webm"},
	"audio/mp4":              {"-c:a", "aac", "-movflags", "frag_keyframe+empty_moov", "-f", "mp4"},
	"audio/ogg;codecs=opus":  {"-c:a", "libopus", "-f", "ogg"},
}

// FFmpegEncoder streams a track's PCM through ffmpeg and hands the encoded
// container back in timeslice-sized chunks.
type FFmpegEncoder struct {
	lookPath func(string) (string, error)
	command  func(args ...string) *exec.Cmd

	// wmu guards the ffmpeg input, mu the output side.
	wmu    sync.Mutex
	stdin  io.WriteCloser
	closed bool

	mu       sync.Mutex
	cmd      *exec.Cmd
	pending  []byte
	onData   func([]byte)
	unsub    func()
	tickStop chan struct{}
	readDone chan struct{}
	tickDone chan struct{}
}

func NewFFmpegEncoder() *FFmpegEncoder {
	return &FFmpegEncoder{
		lookPath: exec.LookPath,
		command: func(args ...string) *exec.Cmd {
			return exec.Command("ffmpeg", args...)
		},
	}
}

func (e *FFmpegEncoder) IsTypeSupported(mimeType string) bool {
	if _, ok := containerArgs[mimeType]; !ok {
		return false
	}
	_, err := e.lookPath("ffmpeg")
	return err == nil
}

func (e *FFmpegEncoder) Start(src media.Track, mimeType string, timeslice time.Duration, onData func([]byte)) error {
	container, ok := containerArgs[mimeType]
	if !ok {
		return fmt.Errorf("unsupported mime type %q", mimeType)
	}
	if timeslice <= 0 {
		timeslice = time.Second
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd != nil {
		return errors.New("encoder already running")
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(src.SampleRate()),
		"-ac", "1",
		"-i", "pipe:0",
	}
	args = append(args, container...)
	args = append(args, "pipe:1")

	cmd := e.command(args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	e.wmu.Lock()
	e.stdin = stdin
	e.closed = false
	e.wmu.Unlock()

	e.cmd = cmd
	e.pending = nil
	e.onData = onData
	e.tickStop = make(chan struct{})
	e.readDone = make(chan struct{})
	e.tickDone = make(chan struct{})

	go e.readLoop(stdout, e.readDone)
	go e.tickLoop(timeslice, e.tickStop, e.tickDone)
	e.unsub = src.Subscribe(e.write)

	return nil
}

// Stop closes ffmpeg's input, waits for the remaining output and flushes it.
func (e *FFmpegEncoder) Stop() error {
	e.mu.Lock()
	if e.cmd == nil {
		e.mu.Unlock()
		return nil
	}
	cmd := e.cmd
	unsub := e.unsub
	readDone := e.readDone
	tickStop := e.tickStop
	tickDone := e.tickDone
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	e.wmu.Lock()
	e.closed = true
	closeErr := e.stdin.Close()
	e.stdin = nil
	e.wmu.Unlock()

	<-readDone
	close(tickStop)
	<-tickDone
	waitErr := cmd.Wait()
	e.flush()

	e.mu.Lock()
	e.cmd = nil
	e.unsub = nil
	e.mu.Unlock()

	if waitErr != nil {
		return fmt.Errorf("ffmpeg exited: %w", waitErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close ffmpeg stdin: %w", closeErr)
	}
	return nil
}

func (e *FFmpegEncoder) write(pcm []byte) {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	if e.closed || e.stdin == nil {
		return
	}
	if _, err := e.stdin.Write(pcm); err != nil {
		slog.Warn("audio: ffmpeg write failed", "error", err)
		e.closed = true
	}
}

func (e *FFmpegEncoder) readLoop(r io.Reader, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.pending = append(e.pending, buf[:n]...)
			e.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (e *FFmpegEncoder) tickLoop(timeslice time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.flush()
		}
	}
}

func (e *FFmpegEncoder) flush() {
	e.mu.Lock()
	chunk := e.pending
	e.pending = nil
	onData := e.onData
	e.mu.Unlock()

	if onData != nil {
		onData(chunk)
	}
}
