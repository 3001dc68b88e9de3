// Package pdf renders summary text into a single-column A4 document.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
)

const (
	FontSize   = 16
	lineHeight = 8.0
	margin     = 20.0
)

// ErrEmptyContent is returned when there is no text to render.
var ErrEmptyContent = errors.New("content is required")

var punctuation = strings.NewReplacer(
	"\u2018", "'", "\u2019", "'",
	"\u201c", `"`, "\u201d", `"`,
	"\u2013", "-", "\u2014", "-",
	"\u2026", "...", "\u2022", "-",
)

type Renderer struct {
	title  string
	author string
}

func NewRenderer(title, author string) *Renderer {
	return &Renderer{title: title, author: author}
}

// Render lays content out as left-aligned 16 pt text with automatic page
// breaks.
func (r *Renderer) Render(content string) ([]byte, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(margin, margin, margin)
	doc.SetAutoPageBreak(true, margin)
	if r.title != "" {
		doc.SetTitle(r.title, true)
	}
	if r.author != "" {
		doc.SetAuthor(r.author, true)
	}
	doc.SetFont("Helvetica", "", FontSize)
	doc.AddPage()

	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.MultiCell(0, lineHeight, tr(Latin1(content)), "", "L", false)

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// Latin1 maps typographic punctuation to ASCII and replaces every remaining
// rune the core fonts cannot draw with '?'.
func Latin1(s string) string {
	s = punctuation.Replace(strings.ReplaceAll(s, "\r\n", "\n"))
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r < 0x20 || (r >= 0x7f && r < 0xa0):
			return -1
		case r <= 0xff:
			return r
		default:
			return '?'
		}
	}, s)
}
