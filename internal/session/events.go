package session

import (
	"time"

	"github.com/sjawhar/meetscribe/internal/media"
	"github.com/sjawhar/meetscribe/internal/segment"
)

// event is anything the Run loop dispatches on: caller commands and
// completions of the work it started.
type event interface{ isEvent() }

type cmdStart struct{ reply chan error }

type cmdStop struct{ reply chan error }

type cmdClear struct{ reply chan error }

type cmdUpdate struct {
	fn    func(*Session) error
	reply chan error
}

type cmdSnapshot struct{ reply chan Session }

type cmdLastSegment struct{ reply chan *segment.Segment }

type evAcquired struct {
	run int
	set *media.SourceSet
	err error
}

// evSourceEnded reports that the platform ended one of the run's tracks.
type evSourceEnded struct {
	run  int
	kind media.Kind
}

type evTick struct{ run int }

type evLiveStarted struct {
	run int
	err error
}

type evLiveText struct {
	run  int
	text string
}

type evLiveError struct {
	run int
	err error
}

type evLiveFatal struct {
	run int
	err error
}

type evLiveStopped struct{ run int }

type evSegment struct {
	run int
	seg segment.Segment
}

type evRecorderStopped struct {
	run int
	err error
}

// evTranscribed carries the session generation it was issued under; results
// from before a Clear are dropped.
type evTranscribed struct {
	run        int
	generation int
	seg        segment.Segment
	text       string
	err        error
	at         time.Time
}

func (cmdStart) isEvent()          {}
func (cmdStop) isEvent()           {}
func (cmdClear) isEvent()          {}
func (cmdUpdate) isEvent()         {}
func (cmdSnapshot) isEvent()       {}
func (cmdLastSegment) isEvent()    {}
func (evAcquired) isEvent()        {}
func (evSourceEnded) isEvent()     {}
func (evTick) isEvent()            {}
func (evLiveStarted) isEvent()     {}
func (evLiveText) isEvent()        {}
func (evLiveError) isEvent()       {}
func (evLiveFatal) isEvent()       {}
func (evLiveStopped) isEvent()     {}
func (evSegment) isEvent()         {}
func (evRecorderStopped) isEvent() {}
func (evTranscribed) isEvent()     {}
