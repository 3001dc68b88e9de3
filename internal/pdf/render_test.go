package pdf

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestRenderProducesPDF(t *testing.T) {
	out, err := NewRenderer("Meeting Summary", "meetscribe").Render("Key topics\n- launch\n- budget")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-")) {
		t.Fatalf("expected PDF header, got %q", out[:min(len(out), 8)])
	}
	if !bytes.Contains(out, []byte("%EOF")) {
		t.Fatal("expected PDF trailer")
	}
}

func TestRenderLongContentPaginates(t *testing.T) {
	content := strings.Repeat("A line of meeting notes that keeps going.\n", 200)
	out, err := NewRenderer("", "").Render(content)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if n := bytes.Count(out, []byte("/Type /Page")) - bytes.Count(out, []byte("/Type /Pages")); n < 2 {
		t.Fatalf("expected multiple pages, got %d", n)
	}
}

func TestRenderEmptyContent(t *testing.T) {
	if _, err := NewRenderer("", "").Render(" \n "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

func TestRenderNonLatinContent(t *testing.T) {
	if _, err := NewRenderer("", "").Render("Résumé 会議 “quoted”"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
}

func TestLatin1(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"caf\u00e9", "caf\u00e9"},
		{"\u201chi\u201d \u2014", `"hi" -`},
		{"wait\u2026", "wait..."},
		{"\u65e5\u672c", "??"},
		{"a\r\nb\x00c", "a\nbc"},
	}
	for _, tt := range tests {
		if got := Latin1(tt.in); got != tt.want {
			t.Fatalf("Latin1(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLatin1OnlyLatin1Runes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		out := Latin1(rapid.String().Draw(t, "s"))
		for _, r := range out {
			if r > 0xff {
				t.Fatalf("rune %U survived", r)
			}
		}
	})
}
