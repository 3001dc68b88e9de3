package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/meetscribe/internal/failure"
	"github.com/sjawhar/meetscribe/internal/media"
	"github.com/sjawhar/meetscribe/internal/segment"
	"github.com/sjawhar/meetscribe/internal/session"
	"github.com/sjawhar/meetscribe/internal/storage"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeView(t *testing.T, rr *httptest.ResponseRecorder) SessionView {
	t.Helper()
	var v SessionView
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode session view: %v (%s)", err, rr.Body.String())
	}
	return v
}

func TestAPIGetSessionHidesKey(t *testing.T) {
	h := newHarness()
	h.ctrl.set(func(s *session.Session) {
		s.Transcript = "hello "
		s.DeepgramAPIKey = "dg-secret"
	})

	rr := do(t, Handler(h.hub, h.deps), http.MethodGet, "/api/session", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected application/json content-type, got %q", got)
	}
	if strings.Contains(rr.Body.String(), "dg-secret") {
		t.Fatalf("api key leaked: %s", rr.Body.String())
	}
	v := decodeView(t, rr)
	if !v.HasDeepgramAPIKey || v.Transcript != "hello " || v.Subject != storage.DefaultSubject {
		t.Fatalf("unexpected view %+v", v)
	}
}

func TestAPIPatchSession(t *testing.T) {
	h := newHarness()
	handler := Handler(h.hub, h.deps)

	rr := do(t, handler, http.MethodPatch, "/api/session", `{"subject":"Standup","recordingMode":"both","deepgramApiKey":"k","summary":"edited"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	got := h.ctrl.get()
	if got.Subject != "Standup" || got.Mode != media.ModeBoth || got.DeepgramAPIKey != "k" || got.Summary != "edited" {
		t.Fatalf("unexpected session %+v", got)
	}

	rr = do(t, handler, http.MethodPatch, "/api/session", `{"subject":"Only subject"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := h.ctrl.get(); got.Mode != media.ModeBoth || got.Subject != "Only subject" {
		t.Fatalf("partial patch clobbered fields: %+v", got)
	}
}

func TestAPIPatchSessionRejectsBadInput(t *testing.T) {
	h := newHarness()
	handler := Handler(h.hub, h.deps)

	if rr := do(t, handler, http.MethodPatch, "/api/session", `{"recordingMode":"stereo"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", rr.Code)
	}
	if rr := do(t, handler, http.MethodPatch, "/api/session", `{`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rr.Code)
	}
}

func TestAPIPatchSessionModeLocked(t *testing.T) {
	h := newHarness()
	h.ctrl.updateErr = session.ErrModeLocked

	rr := do(t, Handler(h.hub, h.deps), http.MethodPatch, "/api/session", `{"recordingMode":"system"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestAPIRecordingTransitions(t *testing.T) {
	h := newHarness()
	handler := Handler(h.hub, h.deps)

	rr := do(t, handler, http.MethodPost, "/api/recording/start", "")
	if rr.Code != http.StatusOK || decodeView(t, rr).Status != session.Recording {
		t.Fatalf("expected recording after start, got %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, handler, http.MethodPost, "/api/recording/stop", "")
	if rr.Code != http.StatusOK || decodeView(t, rr).Status != session.Idle {
		t.Fatalf("expected idle after stop, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestAPIRecordingErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"busy", session.ErrBusy, http.StatusConflict, "in progress"},
		{"closed", session.ErrClosed, http.StatusServiceUnavailable, "closed"},
		{"denied", failure.New(failure.PermissionDenied, ""), http.StatusUnprocessableEntity, "permission_denied"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.ctrl.startErr = tt.err
			rr := do(t, Handler(h.hub, h.deps), http.MethodPost, "/api/recording/start", "")
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tt.wantBody) {
				t.Fatalf("expected body to contain %q, got %s", tt.wantBody, rr.Body.String())
			}
		})
	}
}

func TestAPIClear(t *testing.T) {
	h := newHarness()
	h.ctrl.set(func(s *session.Session) { s.Transcript = "old" })

	rr := do(t, Handler(h.hub, h.deps), http.MethodPost, "/api/session/clear", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if h.ctrl.clears != 1 || decodeView(t, rr).Transcript != "" {
		t.Fatalf("expected cleared session, got %s", rr.Body.String())
	}
}

func TestAPIRecordingAudio(t *testing.T) {
	h := newHarness()
	handler := Handler(h.hub, h.deps)

	if rr := do(t, handler, http.MethodGet, "/api/recording/audio", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a segment, got %d", rr.Code)
	}

	h.ctrl.seg = &segment.Segment{Data: []byte("0123456789"), MimeType: "audio/webm;codecs=opus", Duration: 2 * time.Second}
	req := httptest.NewRequest(http.MethodGet, "/api/recording/audio", nil)
	req.Header.Set("Range", "bytes=2-4")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rr.Code)
	}
	if rr.Body.String() != "234" {
		t.Fatalf("unexpected range body %q", rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "audio/webm;codecs=opus" {
		t.Fatalf("unexpected content type %q", got)
	}
}

func TestAPIRecordings(t *testing.T) {
	h := newHarness()
	h.history.recs = []storage.Recording{{ID: "rec-1", Mode: "microphone", Status: "completed"}}
	handler := Handler(h.hub, h.deps)

	rr := do(t, handler, http.MethodGet, "/api/recordings?limit=5", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "rec-1") {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
	}
	if h.history.limit != 5 {
		t.Fatalf("expected limit 5, got %d", h.history.limit)
	}

	do(t, handler, http.MethodGet, "/api/recordings", "")
	if h.history.limit != defaultHistoryLimit {
		t.Fatalf("expected default limit, got %d", h.history.limit)
	}
	if rr := do(t, handler, http.MethodGet, "/api/recordings?limit=zero", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
}

func TestAPIStatusWithWarnings(t *testing.T) {
	h := newHarness()
	h.deps.Warnings = func() []string { return []string{"SMTP not configured"} }

	rr := do(t, Handler(h.hub, h.deps), http.MethodGet, "/api/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Status   string   `json:"status"`
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "idle" || !reflect.DeepEqual(body.Warnings, []string{"SMTP not configured"}) {
		t.Fatalf("unexpected status body %+v", body)
	}
}

func TestAPIStatusNoWarnings(t *testing.T) {
	h := newHarness()
	rr := do(t, Handler(h.hub, h.deps), http.MethodGet, "/api/status", "")
	if !strings.Contains(rr.Body.String(), `"warnings":[]`) {
		t.Fatalf("expected empty warnings array, got %s", rr.Body.String())
	}
}

func TestAPIRecipients(t *testing.T) {
	h := newHarness()
	handler := Handler(h.hub, h.deps)

	if rr := do(t, handler, http.MethodPost, "/api/recipients", `{"email":"alice@example.com"}`); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, handler, http.MethodPost, "/api/recipients", `{"email":"alice@example.com"}`); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rr.Code)
	}
	if rr := do(t, handler, http.MethodPost, "/api/recipients", `{"email":"nope"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid, got %d", rr.Code)
	}
	do(t, handler, http.MethodPost, "/api/recipients", `{"email":"bob@example.com"}`)

	rr := do(t, handler, http.MethodDelete, "/api/recipients/0", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := h.ctrl.get().Emails; !reflect.DeepEqual(got, []string{"bob@example.com"}) {
		t.Fatalf("unexpected emails %v", got)
	}
	if rr := do(t, handler, http.MethodDelete, "/api/recipients/7", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for out of range, got %d", rr.Code)
	}
	if rr := do(t, handler, http.MethodDelete, "/api/recipients/x", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad index, got %d", rr.Code)
	}

	h.notes.mu.Lock()
	defer h.notes.mu.Unlock()
	want := []string{
		"success:Email added successfully",
		"error:Email already added",
		"error:Please enter a valid email address",
		"success:Email added successfully",
		"info:Email removed",
	}
	if !reflect.DeepEqual(h.notes.msgs[:len(want)], want) {
		t.Fatalf("unexpected notifications %v", h.notes.msgs)
	}
}

func TestAPIRecipientsCSVMultipart(t *testing.T) {
	h := newHarness()
	h.ctrl.set(func(s *session.Session) { s.Emails = []string{"alice@example.com"} })

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "people.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte("name,email\nAlice,alice@example.com\nCarol,carol@example.com\nBad,bad\n"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/recipients/csv", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	Handler(h.hub, h.deps).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Added  int      `json:"added"`
		Emails []string `json:"emails"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Added != 1 || !reflect.DeepEqual(body.Emails, []string{"alice@example.com", "carol@example.com"}) {
		t.Fatalf("unexpected csv result %+v", body)
	}
}

func TestAPIRecipientsCSVErrors(t *testing.T) {
	h := newHarness()
	handler := Handler(h.hub, h.deps)

	req := httptest.NewRequest(http.MethodPost, "/api/recipients/csv", strings.NewReader(""))
	req.Header.Set("Content-Type", "text/csv")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "empty") {
		t.Fatalf("expected empty file error, got %d %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/recipients/csv", strings.NewReader("name,phone\na,1\n"))
	req.Header.Set("Content-Type", "text/csv")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "No email column") {
		t.Fatalf("expected missing column error, got %d %s", rr.Code, rr.Body.String())
	}
}
