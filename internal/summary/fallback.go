package summary

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxKeyPoints   = 5
	minPointLength = 10
)

// Fallback builds the basic summary used when no model is available: the
// first few substantial sentences, the duration, and the full transcript.
func Fallback(req Request, now time.Time) string {
	var points []string
	for _, sentence := range strings.Split(req.Transcript, ". ") {
		trimmed := strings.TrimSpace(sentence)
		if utf8.RuneCountInString(trimmed) <= minPointLength {
			continue
		}
		points = append(points, trimmed)
		if len(points) == maxKeyPoints {
			break
		}
	}

	lines := make([]string, len(points))
	for i, p := range points {
		lines[i] = fmt.Sprintf("%d. %s.", i+1, p)
	}

	var b strings.Builder
	b.WriteString("Meeting Summary (Basic)\n\nKey Points:\n")
	b.WriteString(strings.Join(lines, "\n"))
	fmt.Fprintf(&b, "\n\nDuration: %s\nGenerated: %s\n\nFull Transcript:\n%s",
		req.Duration, now.Format("2006-01-02 15:04:05"), req.Transcript)
	return b.String()
}
