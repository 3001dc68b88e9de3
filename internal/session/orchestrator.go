package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/meetscribe/internal/failure"
	"github.com/sjawhar/meetscribe/internal/live"
	"github.com/sjawhar/meetscribe/internal/media"
	"github.com/sjawhar/meetscribe/internal/notify"
	"github.com/sjawhar/meetscribe/internal/segment"
	"github.com/sjawhar/meetscribe/internal/transcribe"
)

const ShareStoppedMessage = "Sharing stopped. Recording ended."

type Deps struct {
	Store    Store
	Acquirer Acquirer
	// Live may be nil, in which case microphone audio is only recorded.
	Live     LiveTranscriber
	Recorder SegmentRecorder
	Remote   RemoteTranscriber
	Notifier Notifier
	Events   EventBroadcaster
	// FallbackAPIKey is used when the session carries no Deepgram key.
	FallbackAPIKey string
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithTickInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.tickEvery = d }
}

// Orchestrator runs the recording lifecycle. All state is owned by the Run
// goroutine; every public method is a message into it.
type Orchestrator struct {
	deps      Deps
	now       func() time.Time
	tickEvery time.Duration
	newID     func() string

	events chan event
	done   chan struct{}
	apiKey atomic.Value

	// Owned by Run.
	ctx         context.Context
	state       State
	sess        Session
	run         int
	cur         *recording
	starting    *recording
	startReply  chan error
	stopWaiters []chan error
	lastSegment *segment.Segment

	// endedKind is a source the platform ended while still Starting.
	endedKind media.Kind
}

type recording struct {
	run       int
	id        string
	sources   *media.SourceSet
	startedAt time.Time
	elapsed   int
	tickStop  chan struct{}

	liveOn       bool
	segmentOn    bool
	liveDone     bool
	recorderDone bool
	pending      int

	// liveFatal is a recognizer failure reported before Start returned.
	liveFatal error
}

func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Store == nil || deps.Acquirer == nil {
		return nil, fmt.Errorf("orchestrator needs a store and an acquirer")
	}

	o := &Orchestrator{
		deps:      deps,
		now:       time.Now,
		tickEvery: time.Second,
		newID:     func() string { return uuid.NewString() },
		events:    make(chan event, 64),
		done:      make(chan struct{}),
		state:     Idle,
	}
	for _, opt := range opts {
		opt(o)
	}

	snap, err := deps.Store.LoadSession()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	o.sess = fromSnapshot(snap)
	o.publishKey()

	return o, nil
}

// Run processes commands until ctx is cancelled. An active recording is
// torn down synchronously on exit.
func (o *Orchestrator) Run(ctx context.Context) {
	o.ctx = ctx

	for {
		select {
		case <-ctx.Done():
			close(o.done)
			o.shutdown()
			return
		case ev := <-o.events:
			o.handle(ev)
		}
	}
}

// APIKey returns the Deepgram key in effect: the session's own, or the
// configured fallback. Safe to call from any goroutine.
func (o *Orchestrator) APIKey() string {
	key, _ := o.apiKey.Load().(string)
	return key
}

// Start begins a recording in the session's mode and blocks until capture is
// running or acquisition failed.
func (o *Orchestrator) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	return o.call(ctx, cmdStart{reply: reply}, reply)
}

// Stop ends the recording and blocks until teardown, including remote
// transcription of the recorded segment, is complete.
func (o *Orchestrator) Stop(ctx context.Context) error {
	reply := make(chan error, 1)
	return o.call(ctx, cmdStop{reply: reply}, reply)
}

// Clear resets the session to defaults and empties the store. A recording in
// progress keeps running into the fresh transcript.
func (o *Orchestrator) Clear(ctx context.Context) error {
	reply := make(chan error, 1)
	return o.call(ctx, cmdClear{reply: reply}, reply)
}

// Update applies fn to a copy of the session. Status and elapsed time are
// restored after fn runs.
func (o *Orchestrator) Update(ctx context.Context, fn func(*Session) error) error {
	reply := make(chan error, 1)
	return o.call(ctx, cmdUpdate{fn: fn, reply: reply}, reply)
}

func (o *Orchestrator) Snapshot(ctx context.Context) (Session, error) {
	reply := make(chan Session, 1)
	if err := o.send(ctx, cmdSnapshot{reply: reply}); err != nil {
		return Session{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-o.done:
		return Session{}, ErrClosed
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

// LastSegment returns the most recent recorded segment, if it has not been
// cleared.
func (o *Orchestrator) LastSegment(ctx context.Context) (*segment.Segment, error) {
	reply := make(chan *segment.Segment, 1)
	if err := o.send(ctx, cmdLastSegment{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-o.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) call(ctx context.Context, ev event, reply chan error) error {
	if err := o.send(ctx, ev); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-o.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) send(ctx context.Context, ev event) error {
	select {
	case o.events <- ev:
		return nil
	case <-o.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers an async completion. It reports false once Run has exited.
func (o *Orchestrator) post(ev event) bool {
	select {
	case o.events <- ev:
		return true
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) handle(ev event) {
	switch e := ev.(type) {
	case cmdStart:
		o.onStart(e)
	case cmdStop:
		o.onStop(e)
	case cmdClear:
		o.onClear(e)
	case cmdUpdate:
		o.onUpdate(e)
	case cmdSnapshot:
		e.reply <- o.sess.clone()
	case cmdLastSegment:
		e.reply <- o.lastSegment
	case evAcquired:
		o.onAcquired(e)
	case evSourceEnded:
		o.onSourceEnded(e)
	case evTick:
		o.onTick(e)
	case evLiveStarted:
		o.onLiveStarted(e)
	case evLiveText:
		o.onLiveText(e)
	case evLiveError:
		o.onLiveError(e)
	case evLiveFatal:
		o.onLiveFatal(e)
	case evLiveStopped:
		if o.isCurrent(e.run) {
			o.cur.liveDone = true
			o.finishIfDone()
		}
	case evSegment:
		o.onSegment(e)
	case evRecorderStopped:
		o.onRecorderStopped(e)
	case evTranscribed:
		o.onTranscribed(e)
	default:
		slog.Warn("session: unhandled event", "type", fmt.Sprintf("%T", ev))
	}
}

func (o *Orchestrator) onStart(e cmdStart) {
	if o.state != Idle {
		e.reply <- ErrBusy
		return
	}

	o.run++
	run := o.run
	mode := o.sess.Mode
	o.endedKind = ""
	o.startReply = e.reply
	o.setState(Starting)

	ctx := o.ctx
	go func() {
		set, err := o.deps.Acquirer.Acquire(ctx, mode, func(kind media.Kind) {
			o.post(evSourceEnded{run: run, kind: kind})
		})
		if !o.post(evAcquired{run: run, set: set, err: err}) {
			media.Release(set)
		}
	}()
}

func (o *Orchestrator) onAcquired(e evAcquired) {
	if e.run != o.run || o.state != Starting {
		media.Release(e.set)
		return
	}
	if e.err != nil {
		o.failStart(e.err)
		return
	}

	rec := &recording{
		run:          e.run,
		id:           o.newID(),
		sources:      e.set,
		liveDone:     true,
		recorderDone: true,
	}
	o.starting = rec

	if !o.sess.Mode.IncludesMicrophone() || o.deps.Live == nil {
		o.beginCapture()
		return
	}

	// The recognizer dials out; the loop keeps serving while it connects.
	ctx, run, set := o.ctx, e.run, e.set
	src, cb := set.Microphone(), o.liveCallbacks(run)
	go func() {
		err := o.deps.Live.Start(ctx, src, cb)
		if !o.post(evLiveStarted{run: run, err: err}) {
			if err == nil {
				o.deps.Live.Stop()
			}
			media.Release(set)
		}
	}()
}

func (o *Orchestrator) onLiveStarted(e evLiveStarted) {
	rec := o.starting
	if rec == nil || rec.run != e.run || o.state != Starting {
		if e.err == nil {
			o.deps.Live.Stop()
		}
		return
	}
	if e.err != nil {
		o.abortStart(e.err)
		return
	}
	if rec.liveFatal != nil {
		o.abortStart(rec.liveFatal)
		return
	}
	rec.liveOn, rec.liveDone = true, false
	o.beginCapture()
}

// beginCapture starts the segment recorder if the mode needs it and moves
// Starting to Recording.
func (o *Orchestrator) beginCapture() {
	rec := o.starting
	mode := o.sess.Mode

	if (mode.IncludesSystem() || o.deps.Live == nil) && o.deps.Recorder != nil {
		run := rec.run
		err := o.deps.Recorder.Start(rec.sources.Combined, func(seg segment.Segment) {
			o.post(evSegment{run: run, seg: seg})
		})
		if err != nil {
			if rec.liveOn {
				o.deps.Live.Stop()
			}
			o.abortStart(failure.Wrap(failure.SourceUnreadable, err))
			return
		}
		rec.segmentOn, rec.recorderDone = true, false
	}

	if !rec.liveOn && !rec.segmentOn {
		o.abortStart(failure.New(failure.Unknown, "nothing to capture for mode "+string(mode)))
		return
	}

	rec.startedAt = o.now()
	rec.tickStop = make(chan struct{})
	go o.tick(rec.run, rec.tickStop)

	if err := o.deps.Store.CreateRecording(rec.id, rec.startedAt, string(mode)); err != nil {
		slog.Warn("session: record history failed", "recording", rec.id, "error", err)
	}

	o.starting = nil
	o.cur = rec
	o.lastSegment = nil
	o.sess.ElapsedSeconds = 0
	o.setState(Recording)
	slog.Info("session: recording started", "recording", rec.id, "mode", mode)
	reply := o.startReply
	o.startReply = nil
	reply <- nil

	if kind := o.endedKind; kind != "" {
		o.endedKind = ""
		o.sourceEnded(kind)
	}
}

// abortStart releases what a half-finished start acquired and returns to Idle.
func (o *Orchestrator) abortStart(err error) {
	if rec := o.starting; rec != nil {
		media.Release(rec.sources)
		o.starting = nil
	}
	o.failStart(err)
}

func (o *Orchestrator) failStart(err error) {
	slog.Warn("session: start failed", "error", err)
	o.deps.notify(failure.Message(err), notify.Error)
	o.setState(Idle)
	if reply := o.startReply; reply != nil {
		o.startReply = nil
		reply <- err
	}
}

func (o *Orchestrator) onStop(e cmdStop) {
	switch o.state {
	case Idle:
		e.reply <- nil
	case Starting:
		e.reply <- ErrBusy
	case Stopping:
		o.stopWaiters = append(o.stopWaiters, e.reply)
	case Recording:
		o.stopWaiters = append(o.stopWaiters, e.reply)
		o.beginStop()
	}
}

func (o *Orchestrator) onSourceEnded(e evSourceEnded) {
	if e.run != o.run {
		return
	}
	switch o.state {
	case Starting:
		o.endedKind = e.kind
	case Recording:
		o.sourceEnded(e.kind)
	}
}

// sourceEnded stops the recording after the platform ended one of its
// sources.
func (o *Orchestrator) sourceEnded(kind media.Kind) {
	if kind == media.KindSystem {
		slog.Info("session: platform ended screen share")
		o.deps.notify(ShareStoppedMessage, notify.Warning)
	} else {
		slog.Warn("session: platform ended capture", "kind", kind)
		o.deps.notify(failure.Message(failure.New(failure.AudioCaptureFailed, string(kind)+" ended")), notify.Error)
	}
	o.beginStop()
}

// beginStop moves Recording to Stopping. Teardown finishes in finishIfDone
// once the live transcriber, the recorder and any transcription are done.
func (o *Orchestrator) beginStop() {
	rec := o.cur
	if rec == nil || o.state != Recording {
		return
	}

	rec.elapsed = int(o.now().Sub(rec.startedAt) / time.Second)
	o.sess.ElapsedSeconds = rec.elapsed
	close(rec.tickStop)
	o.setState(Stopping)

	run := rec.run
	if rec.liveOn {
		rec.liveOn = false
		go func() {
			o.deps.Live.Stop()
			o.post(evLiveStopped{run: run})
		}()
	}
	if rec.segmentOn {
		rec.segmentOn = false
		go func() {
			err := o.deps.Recorder.Stop()
			o.post(evRecorderStopped{run: run, err: err})
		}()
	}
	media.Release(rec.sources)

	o.finishIfDone()
}

func (o *Orchestrator) finishIfDone() {
	rec := o.cur
	if o.state != Stopping || rec == nil {
		return
	}
	if !rec.liveDone || !rec.recorderDone || rec.pending > 0 {
		return
	}

	if err := o.deps.Store.EndRecording(rec.id, o.now(), rec.elapsed); err != nil {
		slog.Warn("session: close history failed", "recording", rec.id, "error", err)
	}
	o.cur = nil
	o.setState(Idle)
	o.persist()
	slog.Info("session: recording stopped", "recording", rec.id, "elapsed_seconds", rec.elapsed)

	for _, w := range o.stopWaiters {
		w <- nil
	}
	o.stopWaiters = nil
}

func (o *Orchestrator) tick(run int, stop <-chan struct{}) {
	t := time.NewTicker(o.tickEvery)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if !o.post(evTick{run: run}) {
				return
			}
		}
	}
}

func (o *Orchestrator) onTick(e evTick) {
	if o.state != Recording || !o.isCurrent(e.run) {
		return
	}
	o.sess.ElapsedSeconds = int(o.now().Sub(o.cur.startedAt) / time.Second)
	if o.deps.Events != nil {
		o.deps.Events.BroadcastTick(o.sess.ElapsedSeconds)
	}
}

func (o *Orchestrator) liveCallbacks(run int) live.Callbacks {
	return live.Callbacks{
		OnText:  func(text string) { o.post(evLiveText{run: run, text: text}) },
		OnError: func(err error) { o.post(evLiveError{run: run, err: err}) },
		OnFatal: func(err error) { o.post(evLiveFatal{run: run, err: err}) },
	}
}

func (o *Orchestrator) onLiveText(e evLiveText) {
	if !o.owns(e.run) {
		return
	}
	o.appendTranscript(e.text, SourceLive)
}

func (o *Orchestrator) onLiveError(e evLiveError) {
	if !o.owns(e.run) {
		return
	}
	severity := notify.Error
	if failure.KindOf(e.err) == failure.NoSpeech {
		severity = notify.Warning
	}
	o.deps.notify(failure.Message(e.err), severity)
}

func (o *Orchestrator) onLiveFatal(e evLiveFatal) {
	if rec := o.starting; rec != nil && rec.run == e.run {
		rec.liveFatal = e.err
		return
	}
	if !o.isCurrent(e.run) {
		return
	}
	slog.Warn("session: live transcription stopped", "error", e.err)
	o.deps.notify(failure.Message(e.err), notify.Error)
	if o.cur.liveOn {
		// The transcriber has already stopped itself.
		o.cur.liveOn = false
		o.cur.liveDone = true
	}
	o.beginStop()
}

func (o *Orchestrator) onSegment(e evSegment) {
	if !o.isCurrent(e.run) || e.seg.Size() == 0 {
		return
	}
	rec := o.cur
	seg := e.seg
	seg.Duration = time.Duration(rec.elapsed) * time.Second
	o.lastSegment = &seg

	rec.pending++
	gen := o.sess.Generation
	key := o.APIKey()
	ctx := o.ctx
	go func() {
		text, err := o.deps.Remote.Transcribe(ctx, seg, key)
		o.post(evTranscribed{run: e.run, generation: gen, seg: seg, text: text, err: err, at: o.now()})
	}()
}

func (o *Orchestrator) onRecorderStopped(e evRecorderStopped) {
	if e.err != nil {
		slog.Warn("session: recorder stop failed", "error", e.err)
	}
	if o.isCurrent(e.run) {
		o.cur.recorderDone = true
		o.finishIfDone()
	}
}

func (o *Orchestrator) onTranscribed(e evTranscribed) {
	if o.isCurrent(e.run) {
		o.cur.pending--
	}

	if e.generation != o.sess.Generation {
		slog.Debug("session: dropping transcription from before clear", "generation", e.generation)
	} else {
		if e.err != nil {
			slog.Warn("session: remote transcription failed", "error", e.err)
			o.deps.notify(failure.Message(e.err), notify.Error)
		}
		o.appendTranscript(transcribe.Report(e.at, e.seg, e.text, e.err), SourceSegment)
	}

	o.finishIfDone()
}

func (o *Orchestrator) onClear(e cmdClear) {
	if o.state == Starting {
		e.reply <- ErrBusy
		return
	}

	fresh := DefaultSession()
	fresh.Generation = o.sess.Generation + 1
	if o.state != Idle {
		fresh.Mode = o.sess.Mode
	}
	fresh.Status = o.sess.Status
	fresh.ElapsedSeconds = o.sess.ElapsedSeconds
	o.sess = fresh
	o.lastSegment = nil
	o.publishKey()

	if err := o.deps.Store.ClearSession(); err != nil {
		slog.Warn("session: clear store failed", "error", err)
		e.reply <- fmt.Errorf("clear session store: %w", err)
		o.broadcast()
		return
	}
	o.broadcast()
	e.reply <- nil
}

func (o *Orchestrator) onUpdate(e cmdUpdate) {
	next := o.sess.clone()
	if err := e.fn(&next); err != nil {
		e.reply <- err
		return
	}
	next.Status = o.sess.Status
	next.ElapsedSeconds = o.sess.ElapsedSeconds
	next.Generation = o.sess.Generation

	if o.state != Idle && (next.Mode != o.sess.Mode || next.Transcript != o.sess.Transcript) {
		e.reply <- ErrModeLocked
		return
	}
	if _, err := media.ParseMode(string(next.Mode)); err != nil {
		e.reply <- err
		return
	}
	if next.Emails == nil {
		next.Emails = []string{}
	}

	o.sess = next
	o.publishKey()
	o.persist()
	o.broadcast()
	e.reply <- nil
}

func (o *Orchestrator) appendTranscript(text string, src Source) {
	if text == "" {
		return
	}
	o.sess.Transcript += text
	o.persist()
	if o.deps.Events != nil {
		o.deps.Events.BroadcastTranscriptAppended(text, src)
	}
}

func (o *Orchestrator) setState(s State) {
	o.state = s
	o.sess.Status = s
	o.broadcast()
}

func (o *Orchestrator) persist() {
	if err := o.deps.Store.SaveSession(o.sess.snapshot()); err != nil {
		slog.Warn("session: persist failed", "error", err)
	}
}

func (o *Orchestrator) broadcast() {
	if o.deps.Events != nil {
		o.deps.Events.BroadcastSession(o.sess.clone())
	}
}

func (o *Orchestrator) publishKey() {
	key := strings.TrimSpace(o.sess.DeepgramAPIKey)
	if key == "" {
		key = o.deps.FallbackAPIKey
	}
	o.apiKey.Store(key)
}

func (o *Orchestrator) isCurrent(run int) bool {
	return o.cur != nil && o.cur.run == run
}

// owns also accepts a run whose recognizer is up but still Starting.
func (o *Orchestrator) owns(run int) bool {
	return o.isCurrent(run) || (o.starting != nil && o.starting.run == run)
}

func (o *Orchestrator) shutdown() {
	if o.startReply != nil {
		o.startReply <- ErrClosed
		o.startReply = nil
	}
	if rec := o.starting; rec != nil {
		media.Release(rec.sources)
		o.starting = nil
	}
	if rec := o.cur; rec != nil {
		if o.state == Recording {
			close(rec.tickStop)
		}
		if rec.liveOn {
			o.deps.Live.Stop()
		}
		if rec.segmentOn {
			if err := o.deps.Recorder.Stop(); err != nil {
				slog.Warn("session: recorder stop failed", "error", err)
			}
		}
		media.Release(rec.sources)
		elapsed := rec.elapsed
		if o.state == Recording {
			elapsed = int(o.now().Sub(rec.startedAt) / time.Second)
		}
		if err := o.deps.Store.EndRecording(rec.id, o.now(), elapsed); err != nil {
			slog.Warn("session: close history failed", "recording", rec.id, "error", err)
		}
		o.cur = nil
		o.sess.Status = Idle
		o.persist()
	}
	o.state = Idle
	o.sess.Status = Idle
	for _, w := range o.stopWaiters {
		w <- ErrClosed
	}
	o.stopWaiters = nil
}

func (d Deps) notify(message string, severity notify.Severity) {
	if d.Notifier != nil {
		d.Notifier.Show(message, severity)
	}
}
