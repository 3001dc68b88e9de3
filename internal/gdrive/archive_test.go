package gdrive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"google.golang.org/api/option"
)

type driveRecorder struct {
	mu      sync.Mutex
	methods []string
}

func (d *driveRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.methods = append(d.methods, r.Method)
		d.mu.Unlock()

		if r.URL.Query().Get("uploadType") == "" {
			t.Errorf("expected a media upload, got %s", r.URL.String())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "file-1", "name": "meeting-summary.pdf"})
	}
}

func newTestArchiver(t *testing.T) (*Archiver, *driveRecorder) {
	t.Helper()
	rec := &driveRecorder{}
	server := httptest.NewServer(rec.handler(t))
	t.Cleanup(server.Close)

	a, err := newArchiver(context.Background(), "folder-1",
		option.WithEndpoint(server.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("newArchiver failed: %v", err)
	}
	return a, rec
}

func TestUploadCreatesThenUpdates(t *testing.T) {
	a, rec := newTestArchiver(t)

	id, err := a.Upload(context.Background(), "meeting-summary-2026-03-04.pdf", []byte("%PDF-1.3"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if id != "file-1" {
		t.Fatalf("expected file-1, got %q", id)
	}

	if _, err := a.Upload(context.Background(), "meeting-summary-2026-03-04.pdf", []byte("%PDF-1.3 v2")); err != nil {
		t.Fatalf("second Upload failed: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.methods) != 2 || rec.methods[0] != http.MethodPost || rec.methods[1] != http.MethodPatch {
		t.Fatalf("expected create then update, got %v", rec.methods)
	}
}

func TestUploadDistinctNames(t *testing.T) {
	a, rec := newTestArchiver(t)

	for _, name := range []string{"a.pdf", "b.pdf"} {
		if _, err := a.Upload(context.Background(), name, []byte("%PDF")); err != nil {
			t.Fatalf("Upload %s failed: %v", name, err)
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, m := range rec.methods {
		if m != http.MethodPost {
			t.Fatalf("expected only creates, got %v", rec.methods)
		}
	}
}

func TestNewArchiverMissingCredentials(t *testing.T) {
	if _, err := NewArchiver(context.Background(), "/nonexistent/creds.json", "folder"); err == nil {
		t.Fatal("expected error for missing credentials file")
	}
}
