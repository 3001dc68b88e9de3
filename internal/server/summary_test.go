package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sjawhar/meetscribe/internal/mail"
	"github.com/sjawhar/meetscribe/internal/session"
	"github.com/sjawhar/meetscribe/internal/storage"
)

func TestAPISummaryStoresResult(t *testing.T) {
	h := newHarness()
	h.ctrl.set(func(s *session.Session) {
		s.Transcript = "  we planned the launch  "
		s.ElapsedSeconds = 754
	})

	rr := do(t, Handler(h.hub, h.deps), http.MethodPost, "/api/summary", `{"summaryStructure":["Risks"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if h.sum.last.Transcript != "we planned the launch" || h.sum.last.Duration != "12:34" {
		t.Fatalf("unexpected request %+v", h.sum.last)
	}
	if len(h.sum.last.SummaryStructure) != 1 || h.sum.last.SummaryStructure[0] != "Risks" {
		t.Fatalf("structure not forwarded: %+v", h.sum.last)
	}
	if got := h.ctrl.get().Summary; got != "Key topics: launch" {
		t.Fatalf("summary not stored, got %q", got)
	}
	if !strings.Contains(rr.Body.String(), `"fallback":false`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestAPISummaryFallback(t *testing.T) {
	h := newHarness()
	h.sum.err = errors.New("provider down")
	h.ctrl.set(func(s *session.Session) { s.Transcript = "We agreed to ship the beta next week. Thanks" })

	rr := do(t, Handler(h.hub, h.deps), http.MethodPost, "/api/summary", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if !strings.HasPrefix(h.ctrl.get().Summary, "Meeting Summary (Basic)") {
		t.Fatalf("expected basic summary stored, got %q", h.ctrl.get().Summary)
	}
	h.notes.mu.Lock()
	defer h.notes.mu.Unlock()
	if len(h.notes.msgs) != 1 || h.notes.msgs[0] != "info:Generated basic summary as fallback" {
		t.Fatalf("unexpected notifications %v", h.notes.msgs)
	}
}

func TestAPISummaryEmptyTranscript(t *testing.T) {
	h := newHarness()
	rr := do(t, Handler(h.hub, h.deps), http.MethodPost, "/api/summary", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAPISummaryPDF(t *testing.T) {
	h := newHarness()
	handler := Handler(h.hub, h.deps)

	if rr := do(t, handler, http.MethodGet, "/api/summary/pdf", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without summary, got %d", rr.Code)
	}

	h.ctrl.set(func(s *session.Session) { s.Summary = "Decisions: ship" })
	rr := do(t, handler, http.MethodGet, "/api/summary/pdf", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") != pdfContentType {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "meeting-summary-2026-03-04.pdf") {
		t.Fatalf("unexpected disposition %q", rr.Header().Get("Content-Disposition"))
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte("%PDF-")) {
		t.Fatal("expected pdf body")
	}
}

func readyToDispatch(h *harness) {
	h.ctrl.set(func(s *session.Session) {
		s.Summary = "Decisions: ship"
		s.Subject = "Weekly sync"
		s.Emails = []string{"a@example.com", "b@example.com"}
	})
}

func TestAPIDispatchResetsRecipients(t *testing.T) {
	h := newHarness()
	readyToDispatch(h)

	rr := do(t, Handler(h.hub, h.deps), http.MethodPost, "/api/dispatch", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if h.mailer.subject != "Weekly sync" || len(h.mailer.to) != 2 {
		t.Fatalf("unexpected dispatch %q %v", h.mailer.subject, h.mailer.to)
	}
	if h.mailer.attached.Name != "meeting-summary-2026-03-04.pdf" || !bytes.HasPrefix(h.mailer.attached.Data, []byte("%PDF-")) {
		t.Fatalf("unexpected attachment %q", h.mailer.attached.Name)
	}
	if len(h.archiver.names) != 1 {
		t.Fatalf("expected archive upload, got %v", h.archiver.names)
	}

	got := h.ctrl.get()
	if len(got.Emails) != 0 || got.Subject != storage.DefaultSubject {
		t.Fatalf("expected reset recipients and subject, got %+v", got)
	}
	if got.Summary != "Decisions: ship" {
		t.Fatalf("summary should survive dispatch, got %q", got.Summary)
	}

	var body struct {
		mail.Result
		ArchiveID string `json:"archiveId"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Successful != 2 || body.ArchiveID != "drive-1" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestAPIDispatchKeepsRecipientsAddedWhileSending(t *testing.T) {
	h := newHarness()
	readyToDispatch(h)
	h.mailer.during = func() {
		h.ctrl.set(func(s *session.Session) {
			s.Emails = append(s.Emails, "late@example.com")
		})
	}

	rr := do(t, Handler(h.hub, h.deps), http.MethodPost, "/api/dispatch", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	got := h.ctrl.get()
	want := []string{"a@example.com", "b@example.com", "late@example.com"}
	if strings.Join(got.Emails, ",") != strings.Join(want, ",") {
		t.Fatalf("emails = %v, want %v", got.Emails, want)
	}
	if got.Subject != "Weekly sync" {
		t.Fatalf("subject = %q, want it kept", got.Subject)
	}
}

func TestAPIDispatchPartialFailureKeepsRecipients(t *testing.T) {
	h := newHarness()
	readyToDispatch(h)
	h.mailer.fail["b@example.com"] = true

	rr := do(t, Handler(h.hub, h.deps), http.MethodPost, "/api/dispatch", "")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	if got := h.ctrl.get(); len(got.Emails) != 2 || got.Subject != "Weekly sync" {
		t.Fatalf("recipients should be kept after a failure, got %+v", got)
	}
}

func TestAPIDispatchRequiresFields(t *testing.T) {
	h := newHarness()
	h.ctrl.set(func(s *session.Session) { s.Summary = "x" })

	rr := do(t, Handler(h.hub, h.deps), http.MethodPost, "/api/dispatch", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if h.mailer.subject != "" {
		t.Fatal("mailer should not be called")
	}
}

func TestAPIDispatchMailDisabled(t *testing.T) {
	h := newHarness()
	readyToDispatch(h)
	h.deps.Mailer = nil

	if rr := do(t, Handler(h.hub, h.deps), http.MethodPost, "/api/dispatch", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestGenerateSummaryContract(t *testing.T) {
	h := newHarness()
	handler := Handler(h.hub, h.deps)

	rr := do(t, handler, http.MethodPost, "/generate-summary", `{"transcript":"hello there","duration":"01:00","customPrompt":"short"}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"summary":"Key topics: launch"`) {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
	}
	if h.sum.last.CustomPrompt != "short" || h.sum.last.Duration != "01:00" {
		t.Fatalf("request not forwarded: %+v", h.sum.last)
	}

	if rr := do(t, handler, http.MethodPost, "/generate-summary", `{"transcript":""}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty transcript, got %d", rr.Code)
	}

	h.sum.err = errors.New("down")
	if rr := do(t, handler, http.MethodPost, "/generate-summary", `{"transcript":"x"}`); rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when provider fails, got %d", rr.Code)
	}
}

func TestGeneratePDFContract(t *testing.T) {
	h := newHarness()
	handler := Handler(h.hub, h.deps)

	rr := do(t, handler, http.MethodPost, "/generate-pdf", `{"content":"hello"}`)
	if rr.Code != http.StatusOK || !bytes.HasPrefix(rr.Body.Bytes(), []byte("%PDF-")) {
		t.Fatalf("expected pdf, got %d", rr.Code)
	}
	if rr := do(t, handler, http.MethodPost, "/generate-pdf", `{}`); rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "Content is required") {
		t.Fatalf("expected content required, got %d %s", rr.Code, rr.Body.String())
	}
}

func dispatchForm(t *testing.T, subject, mails string, pdfData []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("subject", subject)
	_ = mw.WriteField("mails", mails)
	if pdfData != nil {
		fw, err := mw.CreateFormFile("summaryPdf", "summary.pdf")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = fw.Write(pdfData)
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/dispatch-mails", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestDispatchMailsContract(t *testing.T) {
	h := newHarness()
	handler := Handler(h.hub, h.deps)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, dispatchForm(t, "Notes", `["a@example.com"]`, []byte("%PDF-1.3")))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if h.mailer.attached.Name != "summary.pdf" || h.mailer.subject != "Notes" {
		t.Fatalf("unexpected dispatch %+v", h.mailer)
	}

	for name, req := range map[string]*http.Request{
		"no file":    dispatchForm(t, "Notes", `["a@example.com"]`, nil),
		"bad mails":  dispatchForm(t, "Notes", `a@example.com`, []byte("%PDF")),
		"no subject": dispatchForm(t, "", `["a@example.com"]`, []byte("%PDF")),
	} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "Missing required fields") {
			t.Fatalf("%s: expected 400 missing fields, got %d %s", name, rr.Code, rr.Body.String())
		}
	}
}
