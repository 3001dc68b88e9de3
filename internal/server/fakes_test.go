package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sjawhar/meetscribe/internal/mail"
	"github.com/sjawhar/meetscribe/internal/pdf"
	"github.com/sjawhar/meetscribe/internal/segment"
	"github.com/sjawhar/meetscribe/internal/session"
	"github.com/sjawhar/meetscribe/internal/storage"
	"github.com/sjawhar/meetscribe/internal/summary"
)

type fakeController struct {
	mu        sync.Mutex
	sess      session.Session
	seg       *segment.Segment
	startErr  error
	stopErr   error
	updateErr error
	starts    int
	clears    int
}

func newFakeController() *fakeController {
	return &fakeController{sess: session.DefaultSession()}
}

func (f *fakeController) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.sess.Status = session.Recording
	return nil
}

func (f *fakeController) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.sess.Status = session.Idle
	return nil
}

func (f *fakeController) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	gen := f.sess.Generation + 1
	f.sess = session.DefaultSession()
	f.sess.Generation = gen
	return nil
}

func (f *fakeController) Update(_ context.Context, fn func(*session.Session) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	next := f.sess
	next.Emails = append([]string{}, f.sess.Emails...)
	if err := fn(&next); err != nil {
		return err
	}
	next.Generation = f.sess.Generation
	f.sess = next
	return nil
}

func (f *fakeController) Snapshot(context.Context) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sess
	s.Emails = append([]string{}, f.sess.Emails...)
	return s, nil
}

func (f *fakeController) LastSegment(context.Context) (*segment.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seg, nil
}

func (f *fakeController) set(fn func(*session.Session)) {
	f.mu.Lock()
	fn(&f.sess)
	f.mu.Unlock()
}

func (f *fakeController) get() session.Session {
	s, _ := f.Snapshot(context.Background())
	return s
}

type fakeHistory struct {
	recs  []storage.Recording
	limit int
}

func (h *fakeHistory) ListRecordings(limit int) ([]storage.Recording, error) {
	h.limit = limit
	return h.recs, nil
}

type fakeSummarizer struct {
	text string
	err  error
	last summary.Request

	// called and gate let a test act while a summary is in flight.
	called chan struct{}
	gate   chan struct{}
}

func (s *fakeSummarizer) Summarize(_ context.Context, req summary.Request) (string, error) {
	s.last = req
	if req.Transcript == "" {
		return "", summary.ErrEmptyTranscript
	}
	if s.called != nil {
		s.called <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	return s.text, s.err
}

func (s *fakeSummarizer) SummarizeOrFallback(ctx context.Context, req summary.Request) (summary.Result, error) {
	text, err := s.Summarize(ctx, req)
	if errors.Is(err, summary.ErrEmptyTranscript) {
		return summary.Result{}, err
	}
	if err != nil {
		return summary.Result{Summary: summary.Fallback(req, time.Now()), Fallback: true, Cause: err}, nil
	}
	return summary.Result{Summary: text}, nil
}

type fakeMailer struct {
	fail     map[string]bool
	subject  string
	to       []string
	attached mail.Attachment
	// during runs while the messages are "sending".
	during func()
}

func (m *fakeMailer) Dispatch(_ context.Context, subject string, recipients []string, att mail.Attachment) (mail.Result, error) {
	if subject == "" || len(recipients) == 0 || len(att.Data) == 0 {
		return mail.Result{}, mail.ErrMissingFields
	}
	m.subject, m.to, m.attached = subject, recipients, att
	if m.during != nil {
		m.during()
	}
	res := mail.Result{}
	for _, r := range recipients {
		if m.fail[r] {
			res.Failed++
			res.Details = append(res.Details, mail.Detail{Email: r, Status: mail.StatusFailed, Error: "rejected"})
			continue
		}
		res.Successful++
		res.Details = append(res.Details, mail.Detail{Email: r, Status: mail.StatusSent})
	}
	res.Message = "done"
	return res, nil
}

type fakeArchiver struct {
	names []string
}

func (a *fakeArchiver) Upload(_ context.Context, name string, _ []byte) (string, error) {
	a.names = append(a.names, name)
	return "drive-1", nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) add(prefix, msg string) {
	n.mu.Lock()
	n.msgs = append(n.msgs, prefix+msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) Info(msg string)    { n.add("info:", msg) }
func (n *recordingNotifier) Success(msg string) { n.add("success:", msg) }
func (n *recordingNotifier) Error(msg string)   { n.add("error:", msg) }

type harness struct {
	ctrl     *fakeController
	history  *fakeHistory
	sum      *fakeSummarizer
	mailer   *fakeMailer
	archiver *fakeArchiver
	notes    *recordingNotifier
	hub      *Hub
	deps     Deps
}

func newHarness() *harness {
	h := &harness{
		ctrl:     newFakeController(),
		history:  &fakeHistory{},
		sum:      &fakeSummarizer{text: "Key topics: launch"},
		mailer:   &fakeMailer{fail: map[string]bool{}},
		archiver: &fakeArchiver{},
		notes:    &recordingNotifier{},
		hub:      NewHub(),
	}
	h.deps = Deps{
		Controller: h.ctrl,
		History:    h.history,
		Summarizer: h.sum,
		Renderer:   pdf.NewRenderer("Meeting Summary", "meetscribe"),
		Mailer:     h.mailer,
		Archiver:   h.archiver,
		Notifier:   h.notes,
		Now:        func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) },
	}
	return h
}
