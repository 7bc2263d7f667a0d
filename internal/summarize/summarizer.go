// Package summarize generates short AI summaries for processed files.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/attachd/internal/storage"
)

const systemPrompt = "You are a helpful assistant. Summarize the provided file content clearly and concisely, " +
	"focusing on key points, structure, and any actionable items. If the content appears to be " +
	"a transcript, provide a brief overview with main topics. Keep it around 150 words."

// maxInputChars caps the prompt size; longer content is truncated
// head-and-tail to keep both the opening and the conclusion.
const maxInputChars = 24000

// SummaryLedger abstracts the summary claim/commit cycle.
type SummaryLedger interface {
	ClaimNextSummary() (*storage.File, error)
	FinishSummary(id, summary string) (bool, error)
	FailSummary(id string) (bool, error)
}

// Generator produces a completion for a prompt, satisfied by *ollama.Client.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, images [][]byte) (string, error)
}

// Summarizer polls for processed files without a summary and fills them in.
// Summaries are best-effort: a failure is recorded once and not retried in a
// loop, so one stubborn file cannot monopolize the model.
type Summarizer struct {
	ledger  SummaryLedger
	backend Generator
	model   string
	poll    time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// NewSummarizer creates a Summarizer. A poll interval <= 0 defaults to 15s
// and a timeout <= 0 defaults to 10 minutes.
func NewSummarizer(ledger SummaryLedger, backend Generator, model string, pollInterval, timeout time.Duration) *Summarizer {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Summarizer{
		ledger:  ledger,
		backend: backend,
		model:   model,
		poll:    pollInterval,
		timeout: timeout,
		logger:  slog.Default(),
	}
}

// Run polls for summary work until ctx is cancelled.
func (s *Summarizer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := s.RunOnce(ctx)
		if err != nil {
			s.logger.Error("summarizer iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.poll):
		}
	}
}

// RunOnce claims and summarizes a single file. Returns true if a file was
// claimed.
func (s *Summarizer) RunOnce(ctx context.Context) (bool, error) {
	file, err := s.ledger.ClaimNextSummary()
	if err != nil {
		return false, fmt.Errorf("claiming summary work: %w", err)
	}
	if file == nil {
		return false, nil
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	summary, err := s.backend.Generate(genCtx, s.model, buildPrompt(file.ExtractedContent), nil)
	cancel()

	if err != nil || strings.TrimSpace(summary) == "" {
		s.logger.Warn("summary generation failed", "file_id", file.ID, "error", err)
		if _, failErr := s.ledger.FailSummary(file.ID); failErr != nil {
			return true, fmt.Errorf("recording summary failure for file %s: %w", file.ID, failErr)
		}
		return true, nil
	}

	committed, err := s.ledger.FinishSummary(file.ID, strings.TrimSpace(summary))
	if err != nil {
		return true, fmt.Errorf("committing summary for file %s: %w", file.ID, err)
	}
	if !committed {
		s.logger.Info("discarding summary, file no longer eligible", "file_id", file.ID)
		return true, nil
	}

	s.logger.Info("summary generated", "file_id", file.ID)
	return true, nil
}

func buildPrompt(content string) string {
	text := strings.TrimSpace(content)
	if len(text) > maxInputChars {
		// Back both cut points off to rune boundaries so the truncation
		// never splits a multi-byte character.
		head := maxInputChars / 2
		for head > 0 && !utf8.RuneStart(text[head]) {
			head--
		}
		tail := len(text) - maxInputChars/2
		for tail < len(text) && !utf8.RuneStart(text[tail]) {
			tail++
		}
		text = text[:head] + "\n... [content truncated] ...\n" + text[tail:]
	}
	return "System: " + systemPrompt + "\n\n" +
		"User: Please summarize the following file content.\n\n" +
		"CONTENT:\n" + text + "\n\nAssistant:"
}
