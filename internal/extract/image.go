package extract

import (
	"context"
	"fmt"
	"strings"
)

// Describer is the vision backend contract, satisfied by *ollama.Client.
type Describer interface {
	Generate(ctx context.Context, model, prompt string, images [][]byte) (string, error)
}

const imagePrompt = "Describe this image in detail. Transcribe any visible text verbatim. " +
	"If the image is a document or screenshot, reproduce its textual content as faithfully as possible."

// ImageExtractor produces a best-effort description of an image using a
// local vision model. An image with nothing recognizable still yields the
// model's description; absence of text is not a failure.
type ImageExtractor struct {
	backend Describer
	model   string
}

// NewImageExtractor creates an ImageExtractor using the given vision model.
func NewImageExtractor(backend Describer, model string) *ImageExtractor {
	return &ImageExtractor{backend: backend, model: model}
}

func (e *ImageExtractor) Extract(ctx context.Context, req Request) (string, error) {
	out, err := e.backend.Generate(ctx, e.model, imagePrompt, [][]byte{req.Data})
	if err != nil {
		return "", fmt.Errorf("describing image %s: %w", req.Filename, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("vision model returned empty description for %s", req.Filename)
	}
	return "=== IMAGE DESCRIPTION ===\n" + out, nil
}
