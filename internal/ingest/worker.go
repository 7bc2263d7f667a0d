// Package ingest runs the background worker that drains the file ledger.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/attachd/internal/extract"
	"github.com/kalambet/attachd/internal/storage"
)

// Ledger abstracts the claim/commit cycle against the file ledger.
type Ledger interface {
	ClaimNext(categories []storage.Category) (*storage.File, error)
	FinishProcessing(id, content string, seconds float64) (bool, error)
	FailProcessing(id, reason string, seconds float64) (bool, error)
	ReleaseClaim(id string) (bool, error)
	RecoverStale(olderThan time.Duration) (int, error)
}

// BlobReader loads stored bytes for a claimed file.
type BlobReader interface {
	Read(relPath string) ([]byte, error)
}

// ContentDispatcher routes a file to its category's extraction routine.
type ContentDispatcher interface {
	Dispatch(ctx context.Context, req extract.Request) (string, error)
	Categories() []storage.Category
}

// Worker polls the ledger for unprocessed files, claims them one at a time
// per slot, and commits extraction outcomes. Concurrency is bounded because
// the extraction backend is a scarce shared resource.
type Worker struct {
	ledger      Ledger
	blobs       BlobReader
	dispatcher  ContentDispatcher
	poll        time.Duration
	concurrency int
	staleAfter  time.Duration
	logger      *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// A pollInterval <= 0 defaults to 2s, concurrency < 1 defaults to 1, and
// staleAfter <= 0 defaults to 30 minutes.
func NewWorker(ledger Ledger, blobs BlobReader, dispatcher ContentDispatcher, pollInterval time.Duration, concurrency int, staleAfter time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &Worker{
		ledger:      ledger,
		blobs:       blobs,
		dispatcher:  dispatcher,
		poll:        pollInterval,
		concurrency: concurrency,
		staleAfter:  staleAfter,
		logger:      slog.Default(),
	}
}

// Run recovers stale claims from a previous crash, then polls for work until
// ctx is cancelled. Each of the bounded pool slots runs an independent
// claim/commit loop; the guarded claim keeps them from colliding.
func (w *Worker) Run(ctx context.Context) {
	recovered, err := w.ledger.RecoverStale(w.staleAfter)
	if err != nil {
		w.logger.Error("recovering stale claims failed", "error", err)
	} else if recovered > 0 {
		w.logger.Info("recovered files stuck in processing", "count", recovered)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			w.runLoop(ctx)
			return nil
		})
	}
	g.Wait()
}

func (w *Worker) runLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single file. Returns true if a file was
// claimed (regardless of the extraction outcome). A failing file never
// stops the loop; its failure is recorded on the file itself.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	file, err := w.ledger.ClaimNext(w.dispatcher.Categories())
	if err != nil {
		return false, fmt.Errorf("claiming next file: %w", err)
	}
	if file == nil {
		return false, nil
	}

	w.logger.Info("processing file",
		"file_id", file.ID, "filename", file.OriginalFilename, "category", file.Category)

	start := time.Now()
	content, err := w.processFile(ctx, file)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			// Shutdown interrupted the extraction. This is not a failure of
			// the file; release the claim so it is picked up again on the
			// next run instead of waiting for stale recovery.
			released, relErr := w.ledger.ReleaseClaim(file.ID)
			if relErr != nil {
				return true, fmt.Errorf("releasing claim for file %s: %w", file.ID, relErr)
			}
			if released {
				w.logger.Info("extraction interrupted by shutdown, claim released", "file_id", file.ID)
			}
			return true, nil
		}

		w.logger.Warn("extraction failed",
			"file_id", file.ID, "elapsed_s", elapsed, "error", err)
		committed, failErr := w.ledger.FailProcessing(file.ID, err.Error(), elapsed)
		if failErr != nil {
			return true, fmt.Errorf("recording failure for file %s: %w", file.ID, failErr)
		}
		if !committed {
			w.logger.Info("discarding failure, file no longer claimed", "file_id", file.ID)
		}
		return true, nil
	}

	committed, err := w.ledger.FinishProcessing(file.ID, content, elapsed)
	if err != nil {
		return true, fmt.Errorf("committing result for file %s: %w", file.ID, err)
	}
	if !committed {
		// The file was deleted or reset while we were extracting; the
		// result must not reappear.
		w.logger.Info("discarding result, file no longer claimed", "file_id", file.ID)
		return true, nil
	}

	w.logger.Info("file processed", "file_id", file.ID, "elapsed_s", elapsed)
	return true, nil
}

func (w *Worker) processFile(ctx context.Context, file *storage.File) (string, error) {
	data, err := w.blobs.Read(file.StoredPath)
	if err != nil {
		return "", fmt.Errorf("reading stored bytes: %w", err)
	}

	return w.dispatcher.Dispatch(ctx, extract.Request{
		FileID:   file.ID,
		Filename: file.OriginalFilename,
		MimeType: file.MimeType,
		Category: file.Category,
		Data:     data,
	})
}
