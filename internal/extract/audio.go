package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/attachd/internal/whisper"
)

// Transcriber is the transcription backend contract, satisfied by
// *whisper.Client.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (whisper.Transcript, error)
}

// AudioExtractor transcribes audio via an external transcription server.
// The backend is slow and shared with interactive load; the dispatcher's
// timeout bounds each attempt.
type AudioExtractor struct {
	backend Transcriber
}

// NewAudioExtractor creates an AudioExtractor over the given backend.
func NewAudioExtractor(backend Transcriber) *AudioExtractor {
	return &AudioExtractor{backend: backend}
}

func (e *AudioExtractor) Extract(ctx context.Context, req Request) (string, error) {
	t, err := e.backend.Transcribe(ctx, req.Filename, req.Data)
	if err != nil {
		return "", fmt.Errorf("transcribing %s: %w", req.Filename, err)
	}
	if t.Text == "" {
		return "", fmt.Errorf("transcription of %s produced no text", req.Filename)
	}

	if len(t.Segments) == 0 {
		return "=== CLEAN TRANSCRIPT ===\n" + t.Text, nil
	}

	var timed []string
	for _, s := range t.Segments {
		if s.Text == "" {
			continue
		}
		timed = append(timed, fmt.Sprintf("[%.1fs - %.1fs] %s", s.Start, s.End, s.Text))
	}
	return "=== CLEAN TRANSCRIPT ===\n" + t.Text +
		"\n\n=== DETAILED TRANSCRIPT WITH TIMESTAMPS ===\n" + strings.Join(timed, "\n"), nil
}
