package transcribe

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sjawhar/meetscribe/internal/failure"
	"github.com/sjawhar/meetscribe/internal/segment"
)

const FailureMarker = "[transcription failed]"

// Report formats the transcript block for one segment. A nil err with empty
// text yields a block noting that no speech was found.
func Report(at time.Time, seg segment.Segment, text string, err error) string {
	var b strings.Builder
	b.WriteString("\n\n--- Audio segment ")
	b.WriteString(at.Format("2006-01-02 15:04:05"))
	b.WriteString(" ---\n")
	fmt.Fprintf(&b, "Duration: %s | Size: %s | Format: %s\n",
		FormatDuration(seg.Duration), humanize.Bytes(uint64(seg.Size())), formatTag(seg.MimeType))

	switch {
	case err != nil:
		b.WriteString(FailureMarker)
		b.WriteString(" ")
		b.WriteString(failure.Message(err))
	case strings.TrimSpace(text) == "":
		b.WriteString("(no speech detected)")
	default:
		b.WriteString(strings.TrimSpace(text))
	}
	b.WriteString("\n")
	return b.String()
}

// FormatDuration renders d as mm:ss, rolling over to h:mm:ss past an hour.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second) / time.Second)
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func formatTag(mimeType string) string {
	base, codec, _ := strings.Cut(mimeType, ";")
	tag := strings.TrimPrefix(base, "audio/")
	if codec = strings.TrimPrefix(strings.TrimSpace(codec), "codecs="); codec != "" {
		tag += "/" + codec
	}
	if tag == "" {
		return "unknown"
	}
	return tag
}
