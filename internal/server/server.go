package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/sjawhar/meetscribe/internal/mail"
	"github.com/sjawhar/meetscribe/internal/segment"
	"github.com/sjawhar/meetscribe/internal/session"
	"github.com/sjawhar/meetscribe/internal/storage"
	"github.com/sjawhar/meetscribe/internal/summary"
)

// Controller is the recording orchestrator as the HTTP layer drives it.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Clear(ctx context.Context) error
	Update(ctx context.Context, fn func(*session.Session) error) error
	Snapshot(ctx context.Context) (session.Session, error)
	LastSegment(ctx context.Context) (*segment.Segment, error)
}

type History interface {
	ListRecordings(limit int) ([]storage.Recording, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, req summary.Request) (string, error)
	SummarizeOrFallback(ctx context.Context, req summary.Request) (summary.Result, error)
}

type Renderer interface {
	Render(content string) ([]byte, error)
}

type Mailer interface {
	Dispatch(ctx context.Context, subject string, recipients []string, att mail.Attachment) (mail.Result, error)
}

type Archiver interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

type Notifier interface {
	Info(message string)
	Success(message string)
	Error(message string)
}

// Deps wires the handlers. Archiver and Mailer may be nil when not configured.
type Deps struct {
	Controller Controller
	History    History
	Summarizer Summarizer
	Renderer   Renderer
	Mailer     Mailer
	Archiver   Archiver
	Notifier   Notifier
	Warnings   func() []string
	Now        func() time.Time
}

func Handler(hub *Hub, deps Deps) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	a := &api{Deps: deps}

	mux := http.NewServeMux()
	registerWSRoute(mux, hub, deps.Controller)
	a.registerSessionRoutes(mux)
	a.registerRecipientRoutes(mux)
	a.registerSummaryRoutes(mux)
	a.registerCollaboratorRoutes(mux)
	return mux
}

// Serve runs the HTTP server until ctx is cancelled, then drains it.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("API at http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Info(string)    {}
func (nopNotifier) Success(string) {}
func (nopNotifier) Error(string)   {}
