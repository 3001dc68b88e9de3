package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/sjawhar/meetscribe/internal/media"
)

const defaultFramesPerBuffer = 1024

// Initialize and Terminate bracket every use of the PortAudio platform.
func Initialize() error { return portaudio.Initialize() }
func Terminate() error  { return portaudio.Terminate() }

type PlatformConfig struct {
	SampleRate      int
	FramesPerBuffer int
	// SystemDevice is a case-insensitive substring of the loopback input
	// device name ("BlackHole", "Monitor of", "Stereo Mix").
	SystemDevice string
}

// Platform captures the default input device as the microphone and a
// loopback input device as system audio.
type Platform struct {
	cfg PlatformConfig
	seq atomic.Int64
}

func NewPlatform(cfg PlatformConfig) *Platform {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = defaultFramesPerBuffer
	}
	return &Platform{cfg: cfg}
}

func (p *Platform) UserMedia(_ context.Context, c media.AudioConstraints) ([]media.Track, error) {
	rate := p.cfg.SampleRate
	if c.SampleRate > 0 {
		rate = c.SampleRate
	}
	if c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl {
		slog.Debug("audio: input processing constraints are left to the device driver")
	}

	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return nil, &media.PlatformError{Name: media.NotFoundError, Message: err.Error()}
	}

	track, err := openCaptureTrack(p.nextID("mic"), media.KindMicrophone, nil, rate, p.cfg.FramesPerBuffer)
	if err != nil {
		return nil, &media.PlatformError{Name: media.NotReadableError, Message: err.Error()}
	}
	return []media.Track{track}, nil
}

// DisplayMedia has no video to offer; it yields the loopback device as the
// only track, or no tracks when the device is absent.
func (p *Platform) DisplayMedia(_ context.Context, c media.DisplayConstraints) ([]media.Track, error) {
	if !c.Audio {
		return nil, nil
	}
	if strings.TrimSpace(p.cfg.SystemDevice) == "" {
		return nil, &media.PlatformError{Name: media.NotSupportedError, Message: "no system audio device configured"}
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, &media.PlatformError{Name: media.NotReadableError, Message: err.Error()}
	}

	dev := findInputDevice(devices, p.cfg.SystemDevice)
	if dev == nil {
		slog.Warn("audio: system device not found", "device", p.cfg.SystemDevice)
		return nil, nil
	}

	track, err := openCaptureTrack(p.nextID("system"), media.KindSystem, dev, p.cfg.SampleRate, p.cfg.FramesPerBuffer)
	if err != nil {
		return nil, &media.PlatformError{Name: media.NotReadableError, Message: err.Error()}
	}
	return []media.Track{track}, nil
}

func (p *Platform) Mix(tracks ...media.Track) (media.Track, error) {
	return NewMixer(p.nextID("mix"), tracks...)
}

func (p *Platform) nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, p.seq.Add(1))
}

func findInputDevice(devices []*portaudio.DeviceInfo, name string) *portaudio.DeviceInfo {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, dev := range devices {
		if dev == nil || dev.MaxInputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(dev.Name), needle) {
			return dev
		}
	}
	return nil
}
