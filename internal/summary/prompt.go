package summary

import (
	"fmt"
	"strings"
	"time"

	"github.com/sjawhar/meetscribe/internal/llm"
)

const systemPrompt = `You summarize meeting transcripts for the people who attended.
Write plain text that reads well in a PDF. Do not use markdown tables or code blocks.
Only state what the transcript supports; if a section has nothing to report, say so.`

func buildMessages(req Request, now time.Time) []llm.Message {
	var system strings.Builder
	system.WriteString(systemPrompt)

	if len(req.SummaryStructure) > 0 {
		system.WriteString("\n\nOrganize the summary under these headings, in order:\n")
		for _, section := range req.SummaryStructure {
			fmt.Fprintf(&system, "- %s\n", strings.TrimSpace(section))
		}
	}
	if custom := strings.TrimSpace(req.CustomPrompt); custom != "" {
		system.WriteString("\n\nAdditional instructions:\n")
		system.WriteString(custom)
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Date: %s\n", now.Format("2006-01-02"))
	if req.Duration != "" {
		fmt.Fprintf(&user, "Duration: %s\n", req.Duration)
	}
	user.WriteString("\nTranscript:\n")
	user.WriteString(strings.TrimSpace(req.Transcript))

	return []llm.Message{
		llm.System(strings.TrimSpace(system.String())),
		llm.User(user.String()),
	}
}
