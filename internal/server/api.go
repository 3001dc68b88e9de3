package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sjawhar/meetscribe/internal/failure"
	"github.com/sjawhar/meetscribe/internal/media"
	"github.com/sjawhar/meetscribe/internal/session"
)

const defaultHistoryLimit = 50

type api struct {
	Deps
}

type sessionPatch struct {
	Subject        *string `json:"subject"`
	RecordingMode  *string `json:"recordingMode"`
	DeepgramAPIKey *string `json:"deepgramApiKey"`
	Summary        *string `json:"summary"`
}

func (a *api) registerSessionRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
		snap, err := a.Controller.Snapshot(r.Context())
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(snap))
	})

	mux.HandleFunc("PATCH /api/session", func(w http.ResponseWriter, r *http.Request) {
		var patch sessionPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
			return
		}

		var mode media.Mode
		if patch.RecordingMode != nil {
			m, err := media.ParseMode(*patch.RecordingMode)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			mode = m
		}

		err := a.Controller.Update(r.Context(), func(s *session.Session) error {
			if patch.Subject != nil {
				s.Subject = *patch.Subject
			}
			if patch.RecordingMode != nil {
				s.Mode = mode
			}
			if patch.DeepgramAPIKey != nil {
				s.DeepgramAPIKey = *patch.DeepgramAPIKey
			}
			if patch.Summary != nil {
				s.Summary = *patch.Summary
			}
			return nil
		})
		if err != nil {
			writeSessionError(w, err)
			return
		}
		a.writeSession(w, r)
	})

	mux.HandleFunc("POST /api/session/clear", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Controller.Clear(r.Context()); err != nil {
			writeSessionError(w, err)
			return
		}
		a.Notifier.Info("All data cleared")
		a.writeSession(w, r)
	})

	mux.HandleFunc("POST /api/recording/start", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Controller.Start(r.Context()); err != nil {
			writeSessionError(w, err)
			return
		}
		a.writeSession(w, r)
	})

	mux.HandleFunc("POST /api/recording/stop", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Controller.Stop(r.Context()); err != nil {
			writeSessionError(w, err)
			return
		}
		a.writeSession(w, r)
	})

	mux.HandleFunc("GET /api/recording/audio", func(w http.ResponseWriter, r *http.Request) {
		seg, err := a.Controller.LastSegment(r.Context())
		if err != nil {
			writeSessionError(w, err)
			return
		}
		if seg == nil || seg.Size() == 0 {
			writeJSONError(w, http.StatusNotFound, "no recorded audio")
			return
		}
		w.Header().Set("Content-Type", seg.MimeType)
		w.Header().Set("Cache-Control", "no-store")
		http.ServeContent(w, r, "recording", time.Time{}, bytes.NewReader(seg.Data))
	})

	mux.HandleFunc("GET /api/recordings", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		recs, err := a.History.ListRecordings(limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list recordings: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, recs)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		snap, err := a.Controller.Snapshot(r.Context())
		if err != nil {
			writeSessionError(w, err)
			return
		}
		var warnings []string
		if a.Warnings != nil {
			warnings = a.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      snap.Status,
			"warnings":    warnings,
			"mailEnabled": a.Mailer != nil,
			"archive":     a.Archiver != nil,
		})
	})
}

func (a *api) writeSession(w http.ResponseWriter, r *http.Request) {
	snap, err := a.Controller.Snapshot(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(snap))
}

// writeSessionError maps orchestrator and capture errors to a status and a
// user-facing message.
func writeSessionError(w http.ResponseWriter, err error) {
	var fe *failure.Error
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrModeLocked), errors.Is(err, session.ErrStale):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrClosed):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &fe):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": failure.Message(err),
			"kind":  string(fe.Kind),
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
