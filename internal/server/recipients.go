package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sjawhar/meetscribe/internal/recipients"
	"github.com/sjawhar/meetscribe/internal/session"
)

const maxUploadBytes = 10 << 20

func (a *api) registerRecipientRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/recipients", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
			return
		}

		err := a.Controller.Update(r.Context(), func(s *session.Session) error {
			next, err := recipients.Add(s.Emails, body.Email)
			if err != nil {
				return err
			}
			s.Emails = next
			return nil
		})
		if err != nil {
			a.writeRecipientError(w, err)
			return
		}
		a.Notifier.Success("Email added successfully")
		a.writeSession(w, r)
	})

	mux.HandleFunc("DELETE /api/recipients/{index}", func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(r.PathValue("index"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid recipient index")
			return
		}

		err = a.Controller.Update(r.Context(), func(s *session.Session) error {
			next, err := recipients.Remove(s.Emails, index)
			if err != nil {
				return err
			}
			s.Emails = next
			return nil
		})
		if err != nil {
			a.writeRecipientError(w, err)
			return
		}
		a.Notifier.Info("Email removed")
		a.writeSession(w, r)
	})

	mux.HandleFunc("POST /api/recipients/csv", func(w http.ResponseWriter, r *http.Request) {
		src, err := csvSource(w, r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		emails, err := recipients.ParseCSV(src)
		_ = src.Close()
		if errors.Is(err, recipients.ErrEmptyFile) || errors.Is(err, recipients.ErrMissingColumn) {
			a.writeRecipientError(w, err)
			return
		}
		if err != nil {
			a.Notifier.Error("Error processing CSV file")
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		added := 0
		err = a.Controller.Update(r.Context(), func(s *session.Session) error {
			s.Emails, added = recipients.Merge(s.Emails, emails)
			return nil
		})
		if err != nil {
			a.writeRecipientError(w, err)
			return
		}
		a.Notifier.Success(fmt.Sprintf("Added %d emails from CSV", added))

		snap, err := a.Controller.Snapshot(r.Context())
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"added": added, "emails": viewOf(snap).Emails})
	})
}

// csvSource accepts either a multipart upload in the "file" field or a raw
// text/csv body.
func csvSource(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.Body, nil
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("read csv upload: %w", err)
	}
	return file, nil
}

func (a *api) writeRecipientError(w http.ResponseWriter, err error) {
	var msg string
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, recipients.ErrInvalidEmail):
		msg = "Please enter a valid email address"
	case errors.Is(err, recipients.ErrDuplicate):
		msg, status = "Email already added", http.StatusConflict
	case errors.Is(err, recipients.ErrOutOfRange):
		msg, status = err.Error(), http.StatusNotFound
	case errors.Is(err, recipients.ErrEmptyFile):
		msg = "CSV file is empty"
	case errors.Is(err, recipients.ErrMissingColumn):
		msg = `No email column found. Please ensure your CSV has a column named "email" or "mail"`
	default:
		writeSessionError(w, err)
		return
	}
	a.Notifier.Error(msg)
	writeJSONError(w, status, msg)
}
