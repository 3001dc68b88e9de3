package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/sjawhar/meetscribe/internal/mail"
	"github.com/sjawhar/meetscribe/internal/pdf"
	"github.com/sjawhar/meetscribe/internal/session"
	"github.com/sjawhar/meetscribe/internal/storage"
	"github.com/sjawhar/meetscribe/internal/summary"
	"github.com/sjawhar/meetscribe/internal/transcribe"
)

const pdfContentType = "application/pdf"

type dispatchResponse struct {
	mail.Result
	ArchiveID string `json:"archiveId,omitempty"`
}

func (a *api) registerSummaryRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/summary", func(w http.ResponseWriter, r *http.Request) {
		var opts struct {
			SummaryStructure []string `json:"summaryStructure"`
			CustomPrompt     string   `json:"customPrompt"`
		}
		if err := decodeOptional(r.Body, &opts); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
			return
		}

		snap, err := a.Controller.Snapshot(r.Context())
		if err != nil {
			writeSessionError(w, err)
			return
		}

		res, err := a.Summarizer.SummarizeOrFallback(r.Context(), summary.Request{
			Transcript:       strings.TrimSpace(snap.Transcript),
			Duration:         transcribe.FormatDuration(time.Duration(snap.ElapsedSeconds) * time.Second),
			SummaryStructure: opts.SummaryStructure,
			CustomPrompt:     opts.CustomPrompt,
		})
		if errors.Is(err, summary.ErrEmptyTranscript) {
			a.Notifier.Error("No transcript available to summarize")
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}

		if err := a.Controller.Update(r.Context(), func(s *session.Session) error {
			if s.Generation != snap.Generation {
				return session.ErrStale
			}
			s.Summary = res.Summary
			return nil
		}); err != nil {
			if errors.Is(err, session.ErrStale) {
				a.Notifier.Info("Session was cleared; summary discarded")
			}
			writeSessionError(w, err)
			return
		}

		if res.Fallback {
			a.Notifier.Info("Generated basic summary as fallback")
		} else {
			a.Notifier.Success("Summary generated successfully!")
		}
		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("GET /api/summary/pdf", func(w http.ResponseWriter, r *http.Request) {
		snap, err := a.Controller.Snapshot(r.Context())
		if err != nil {
			writeSessionError(w, err)
			return
		}
		data, err := a.Renderer.Render(snap.Summary)
		if errors.Is(err, pdf.ErrEmptyContent) {
			writeJSONError(w, http.StatusNotFound, "no summary to export")
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writePDF(w, mail.AttachmentName(a.Now()), data)
	})

	mux.HandleFunc("POST /api/dispatch", func(w http.ResponseWriter, r *http.Request) {
		snap, err := a.Controller.Snapshot(r.Context())
		if err != nil {
			writeSessionError(w, err)
			return
		}
		if snap.Summary == "" || len(snap.Emails) == 0 || strings.TrimSpace(snap.Subject) == "" {
			msg := "Please ensure you have a summary, subject, and at least one email address"
			a.Notifier.Error(msg)
			writeJSONError(w, http.StatusBadRequest, msg)
			return
		}
		if a.Mailer == nil {
			writeJSONError(w, http.StatusServiceUnavailable, mail.ErrDisabled.Error())
			return
		}

		data, err := a.Renderer.Render(snap.Summary)
		if err != nil {
			a.Notifier.Error("Failed to generate PDF")
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}

		name := mail.AttachmentName(a.Now())
		res, err := a.Mailer.Dispatch(r.Context(), snap.Subject, snap.Emails, mail.Attachment{Name: name, Data: data})
		if err != nil {
			a.Notifier.Error("Failed to send emails: " + err.Error())
			writeJSONError(w, mailErrorStatus(err), err.Error())
			return
		}

		resp := dispatchResponse{Result: res}
		if a.Archiver != nil {
			id, err := a.Archiver.Upload(r.Context(), name, data)
			if err != nil {
				slog.Warn("dispatch: archive upload failed", "file", name, "error", err)
			}
			resp.ArchiveID = id
		}

		if !res.OK() {
			a.Notifier.Error(res.Message)
			writeJSON(w, http.StatusBadGateway, resp)
			return
		}

		// Recipients edited while the mails were going out are kept.
		if err := a.Controller.Update(r.Context(), func(s *session.Session) error {
			if s.Generation != snap.Generation || !slices.Equal(s.Emails, snap.Emails) {
				return session.ErrStale
			}
			s.Emails = []string{}
			if s.Subject == snap.Subject {
				s.Subject = storage.DefaultSubject
			}
			return nil
		}); err != nil && !errors.Is(err, session.ErrStale) {
			slog.Warn("dispatch: reset recipients failed", "error", err)
		}
		a.Notifier.Success("Emails sent successfully!")
		writeJSON(w, http.StatusOK, resp)
	})
}

func mailErrorStatus(err error) int {
	switch {
	case errors.Is(err, mail.ErrMissingFields):
		return http.StatusBadRequest
	case errors.Is(err, mail.ErrDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writePDF(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", pdfContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// decodeOptional decodes a JSON body, treating an empty body as no options.
func decodeOptional(body io.Reader, dst any) error {
	err := json.NewDecoder(body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
