// Package extract routes stored file bytes to category-specific content
// extraction routines.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/attachd/internal/storage"
)

// ErrUnsupported is returned when no extractor is registered for a category.
var ErrUnsupported = errors.New("no extractor for category")

// Request carries one file through the dispatcher.
type Request struct {
	FileID   string
	Filename string
	MimeType string
	Category storage.Category
	Data     []byte
}

// Extractor produces textual content from file bytes, or an error.
// Implementations must respect ctx cancellation.
type Extractor interface {
	Extract(ctx context.Context, req Request) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, req Request) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Dispatcher selects the extractor for a file's category and bounds its
// running time. Extraction is all-or-nothing: either the full content is
// returned, or an error.
type Dispatcher struct {
	extractors map[storage.Category]Extractor
	timeouts   map[storage.Category]time.Duration
	timeout    time.Duration
}

// NewDispatcher creates an empty Dispatcher with the given default timeout
// per extraction. If timeout is <= 0, it defaults to 5 minutes.
func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Dispatcher{
		extractors: make(map[storage.Category]Extractor),
		timeouts:   make(map[storage.Category]time.Duration),
		timeout:    timeout,
	}
}

// Register installs an extractor for a category. A zero timeout uses the
// dispatcher default. Archive and other files are deliberately never
// registered; they stay unprocessed until a user excludes them.
func (d *Dispatcher) Register(cat storage.Category, ex Extractor, timeout time.Duration) {
	d.extractors[cat] = ex
	if timeout > 0 {
		d.timeouts[cat] = timeout
	}
}

// Categories returns the categories with a registered extractor. The worker
// restricts its claims to this set.
func (d *Dispatcher) Categories() []storage.Category {
	cats := make([]storage.Category, 0, len(d.extractors))
	for c := range d.extractors {
		cats = append(cats, c)
	}
	return cats
}

// Dispatch runs the extractor for the request's category under a deadline.
// A timeout surfaces as an error naming the budget, never as a hang.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	ex, ok := d.extractors[req.Category]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, req.Category)
	}

	timeout := d.timeout
	if t, ok := d.timeouts[req.Category]; ok {
		timeout = t
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	content, err := ex.Extract(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("extraction timed out after %s", timeout)
		}
		return "", err
	}
	return content, nil
}
