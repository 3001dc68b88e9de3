package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sjawhar/meetscribe/internal/config"
	"github.com/sjawhar/meetscribe/internal/llm"
)

// ErrEmptyTranscript is returned when there is nothing to summarize.
var ErrEmptyTranscript = errors.New("no transcript available to summarize")

// ClientFactory builds an LLM client for a "provider/model" string.
type ClientFactory func(model string) (llm.Client, error)

// Request mirrors the body accepted by the summary endpoint.
type Request struct {
	Transcript       string   `json:"transcript"`
	Duration         string   `json:"duration"`
	SummaryStructure []string `json:"summaryStructure,omitempty"`
	CustomPrompt     string   `json:"customPrompt,omitempty"`
}

// Result is a summary and whether it came from the basic fallback.
type Result struct {
	Summary  string `json:"summary"`
	Fallback bool   `json:"fallback"`
	Cause    error  `json:"-"`
}

type Summarizer struct {
	model     string
	structure []string
	prompt    string
	factory   ClientFactory
	sleep     func(context.Context, time.Duration) error
	now       func() time.Time
}

// backoff lists the pauses between attempts; three attempts in total.
var backoff = []time.Duration{1 * time.Second, 4 * time.Second}

func New(cfg config.Config, factory ClientFactory) *Summarizer {
	return &Summarizer{
		model:     cfg.SummaryModel,
		structure: append([]string(nil), cfg.SummaryStructure...),
		prompt:    cfg.SummaryPrompt,
		factory:   factory,
		sleep:     sleepContext,
		now:       time.Now,
	}
}

// Summarize asks the configured model for a summary, retrying transient
// failures. It does not fall back.
func (s *Summarizer) Summarize(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return "", ErrEmptyTranscript
	}
	if len(req.SummaryStructure) == 0 {
		req.SummaryStructure = s.structure
	}
	if req.CustomPrompt == "" {
		req.CustomPrompt = s.prompt
	}

	client, err := s.factory(s.model)
	if err != nil {
		return "", fmt.Errorf("create llm client: %w", err)
	}

	messages := buildMessages(req, s.now())

	var lastErr error
	for attempt := 0; attempt <= len(backoff); attempt++ {
		result, err := client.Complete(ctx, messages)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < len(backoff) {
			slog.Warn("summary: attempt failed", "attempt", attempt+1, "error", err)
			if err := s.sleep(ctx, backoff[attempt]); err != nil {
				break
			}
		}
	}
	return "", fmt.Errorf("summarize failed after retries: %w", lastErr)
}

// SummarizeOrFallback returns the model's summary, or the basic summary when
// the model cannot be reached. Only an empty transcript is an error.
func (s *Summarizer) SummarizeOrFallback(ctx context.Context, req Request) (Result, error) {
	text, err := s.Summarize(ctx, req)
	if errors.Is(err, ErrEmptyTranscript) {
		return Result{}, err
	}
	if err != nil {
		slog.Warn("summary: using basic fallback", "model", s.model, "error", err)
		return Result{Summary: Fallback(req, s.now()), Fallback: true, Cause: err}, nil
	}
	return Result{Summary: text}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
