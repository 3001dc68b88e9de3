package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sjawhar/meetscribe/internal/mail"
	"github.com/sjawhar/meetscribe/internal/summary"
)

// registerCollaboratorRoutes serves the stateless summary, PDF and mail
// endpoints that operate on request bodies rather than the session.
func (a *api) registerCollaboratorRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /generate-summary", func(w http.ResponseWriter, r *http.Request) {
		var req summary.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
			return
		}
		text, err := a.Summarizer.Summarize(r.Context(), req)
		if errors.Is(err, summary.ErrEmptyTranscript) {
			writeJSONError(w, http.StatusBadRequest, "Transcript is required")
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"summary": text})
	})

	mux.HandleFunc("POST /generate-pdf", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
			writeJSONError(w, http.StatusBadRequest, "Content is required")
			return
		}
		data, err := a.Renderer.Render(req.Content)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writePDF(w, "output.pdf", data)
	})

	mux.HandleFunc("POST /dispatch-mails", func(w http.ResponseWriter, r *http.Request) {
		if a.Mailer == nil {
			writeJSONError(w, http.StatusServiceUnavailable, mail.ErrDisabled.Error())
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeJSONError(w, http.StatusBadRequest, "Missing required fields")
			return
		}

		var mails []string
		if err := json.Unmarshal([]byte(r.FormValue("mails")), &mails); err != nil {
			writeJSONError(w, http.StatusBadRequest, "Missing required fields")
			return
		}
		file, header, err := r.FormFile("summaryPdf")
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "Missing required fields")
			return
		}
		defer func() { _ = file.Close() }()
		data, err := io.ReadAll(file)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("read attachment: %v", err))
			return
		}

		res, err := a.Mailer.Dispatch(r.Context(), r.FormValue("subject"), mails, mail.Attachment{Name: header.Filename, Data: data})
		if err != nil {
			status := mailErrorStatus(err)
			msg := err.Error()
			if status == http.StatusBadRequest {
				msg = "Missing required fields"
			}
			writeJSONError(w, status, msg)
			return
		}
		status := http.StatusOK
		if res.Successful == 0 {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, res)
	})
}
