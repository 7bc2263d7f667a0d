package extract

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DocumentExtractor handles the document category. PDFs get page-by-page
// text extraction; CSV/TSV are plain text in disguise. Office formats are
// not yet supported and fail with a recorded reason so the file stays
// actionable via reprocess.
type DocumentExtractor struct{}

func (e DocumentExtractor) Extract(ctx context.Context, req Request) (string, error) {
	ext := strings.ToLower(filepath.Ext(req.Filename))
	switch {
	case req.MimeType == "application/pdf" || ext == ".pdf":
		return extractPDF(ctx, req)
	case ext == ".csv" || ext == ".tsv" || req.MimeType == "text/csv":
		return TextExtractor{}.Extract(ctx, req)
	default:
		return "", fmt.Errorf("document format %q not supported yet", strings.TrimPrefix(ext, "."))
	}
}

func extractPDF(ctx context.Context, req Request) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(req.Data), int64(len(req.Data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	total := reader.NumPage()
	var pages []string
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single bad page should not discard the rest of the document.
			continue
		}
		text = strings.TrimSpace(text)
		if text != "" {
			pages = append(pages, fmt.Sprintf("=== PAGE %d ===\n%s", i, text))
		}
	}

	if len(pages) == 0 {
		return "", fmt.Errorf("no text content found in pdf (may be image-based)")
	}

	header := fmt.Sprintf("=== PDF METADATA ===\nTotal Pages: %d\nPages with Text: %d\nFile: %s",
		total, len(pages), req.Filename)
	return header + "\n\n=== EXTRACTED TEXT ===\n" + strings.Join(pages, "\n\n"), nil
}
