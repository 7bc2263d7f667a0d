package extract

import (
	"context"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// TextExtractor returns the file contents as a string. Files that are not
// valid UTF-8 are decoded as Latin-1 so legacy exports still yield usable
// text instead of failing.
type TextExtractor struct{}

func (TextExtractor) Extract(_ context.Context, req Request) (string, error) {
	if utf8.Valid(req.Data) {
		return string(req.Data), nil
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(req.Data)
	if err != nil {
		return "", fmt.Errorf("decoding text file: %w", err)
	}
	return string(decoded), nil
}
