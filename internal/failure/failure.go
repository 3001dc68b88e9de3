package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a capture or transcription failure so callers can show an
// actionable message instead of a raw platform error.
type Kind string

const (
	PermissionDenied   Kind = "permission_denied"
	NoAudioTrack       Kind = "no_audio_track"
	CaptureAborted     Kind = "capture_aborted"
	UnsupportedCapture Kind = "unsupported_capture"
	SourceUnreadable   Kind = "source_unreadable"
	NoSpeech           Kind = "no_speech"
	AudioCaptureFailed Kind = "audio_capture_failed"
	NetworkError       Kind = "network_error"
	MissingCredential  Kind = "missing_credential"
	RemoteError        Kind = "remote_error"
	Unknown            Kind = "unknown"
)

// Error carries a Kind plus the detail needed to build a user message.
// Detail is the remote status text for RemoteError, the platform code for
// Unknown, and free-form context otherwise.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, failure.New(k, ""))
// works as a kind check.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the Kind of err, or Unknown when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Message returns a short user-facing message with a hint for err. Errors
// without a recognized kind fall back to their raw text.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var fe *Error
	if !errors.As(err, &fe) {
		return "Something went wrong: " + err.Error()
	}

	switch fe.Kind {
	case PermissionDenied:
		return "Audio permission denied. Allow microphone or screen capture access and try again."
	case NoAudioTrack:
		return "No audio was shared. Select a tab and enable \"Share audio\", or pick a loopback device."
	case CaptureAborted:
		return "Audio capture was cancelled before it started."
	case UnsupportedCapture:
		return "System audio capture is not supported here. Configure a loopback device or use microphone mode."
	case SourceUnreadable:
		return "The audio source could not be read. Close other apps using it and try again."
	case NoSpeech:
		return "No speech detected. Check that the microphone is not muted."
	case AudioCaptureFailed:
		return "Audio capture failed. Check that a microphone is connected."
	case NetworkError:
		return "Speech service unreachable. Check your network connection."
	case MissingCredential:
		return "Deepgram API key not configured. Add it in settings to transcribe system audio."
	case RemoteError:
		if fe.Detail != "" {
			return "Transcription service error: " + fe.Detail + "."
		}
		return "Transcription service returned an error."
	default:
		if fe.Detail != "" {
			return "Unexpected error: " + fe.Detail
		}
		if fe.Err != nil {
			return "Unexpected error: " + fe.Err.Error()
		}
		return "Unexpected error."
	}
}
