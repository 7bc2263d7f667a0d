package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/attachd/internal/blob"
	"github.com/kalambet/attachd/internal/extract"
	"github.com/kalambet/attachd/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedFile stores content in the blob store and creates the matching ledger
// entry, mirroring what the upload handler does.
func seedFile(t *testing.T, s *storage.Store, blobs *blob.Store, id string, category storage.Category, content []byte) {
	t.Helper()
	rel, err := blobs.Save(id+".bin", content)
	if err != nil {
		t.Fatalf("saving blob: %v", err)
	}
	err = s.CreateFile(storage.File{
		ID:               id,
		ConversationID:   "conv-1",
		UploadedBy:       "user-1",
		OriginalFilename: id + ".txt",
		SystemFilename:   id + ".bin",
		StoredPath:       rel,
		Category:         category,
		MimeType:         "text/plain",
		SizeBytes:        int64(len(content)),
		Fingerprint:      "fp-" + id,
	})
	if err != nil {
		t.Fatalf("creating ledger entry: %v", err)
	}
}

func textDispatcher(t *testing.T) *extract.Dispatcher {
	t.Helper()
	d := extract.NewDispatcher(time.Second)
	d.Register(storage.CategoryText, extract.TextExtractor{}, 0)
	return d
}

func TestRunOnce_NoWork(t *testing.T) {
	s := openTestStore(t)
	blobs := blob.NewStore(t.TempDir())
	w := NewWorker(s, blobs, textDispatcher(t), time.Millisecond, 1, time.Minute)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("done = true with empty ledger, want false")
	}
}

func TestRunOnce_Success(t *testing.T) {
	s := openTestStore(t)
	blobs := blob.NewStore(t.TempDir())
	seedFile(t, s, blobs, "f-1", storage.CategoryText, []byte("file body"))

	w := NewWorker(s, blobs, textDispatcher(t), time.Millisecond, 1, time.Minute)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("done = false, want a claimed file")
	}

	got, err := s.GetFile("f-1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if got.Status != storage.StatusProcessed {
		t.Errorf("Status = %v, want StatusProcessed", got.Status)
	}
	if got.ExtractedContent != "file body" {
		t.Errorf("ExtractedContent = %q", got.ExtractedContent)
	}
	if got.ProcessSeconds < 0 {
		t.Errorf("ProcessSeconds = %v, want >= 0", got.ProcessSeconds)
	}
}

func TestRunOnce_ExtractionFailure(t *testing.T) {
	s := openTestStore(t)
	blobs := blob.NewStore(t.TempDir())
	seedFile(t, s, blobs, "f-1", storage.CategoryAudio, []byte("audio bytes"))

	d := extract.NewDispatcher(time.Second)
	d.Register(storage.CategoryAudio, extract.ExtractorFunc(func(_ context.Context, _ extract.Request) (string, error) {
		return "", errors.New("transcription backend unavailable")
	}), 0)

	w := NewWorker(s, blobs, d, time.Millisecond, 1, time.Minute)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("done = false, want a claimed file")
	}

	got, _ := s.GetFile("f-1")
	if got.Status != storage.StatusFailed {
		t.Errorf("Status = %v, want StatusFailed", got.Status)
	}
	if !strings.Contains(got.FailureReason, "transcription backend unavailable") {
		t.Errorf("FailureReason = %q", got.FailureReason)
	}
	if got.ExtractedContent != "" {
		t.Errorf("ExtractedContent = %q, want empty on failure", got.ExtractedContent)
	}
}

func TestRunOnce_MissingBlob(t *testing.T) {
	s := openTestStore(t)
	blobs := blob.NewStore(t.TempDir())
	seedFile(t, s, blobs, "f-1", storage.CategoryText, []byte("body"))

	// Blow away the bytes behind the ledger's back.
	got, _ := s.GetFile("f-1")
	if err := blobs.Delete(got.StoredPath); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	w := NewWorker(s, blobs, textDispatcher(t), time.Millisecond, 1, time.Minute)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("done = false, want a claimed file")
	}

	got, _ = s.GetFile("f-1")
	if got.Status != storage.StatusFailed {
		t.Errorf("Status = %v, want StatusFailed", got.Status)
	}
	if !strings.Contains(got.FailureReason, "reading stored bytes") {
		t.Errorf("FailureReason = %q", got.FailureReason)
	}
}

func TestRunOnce_DeletedMidFlight(t *testing.T) {
	s := openTestStore(t)
	blobs := blob.NewStore(t.TempDir())
	seedFile(t, s, blobs, "f-1", storage.CategoryText, []byte("body"))

	// The extractor deletes the file while holding the claim, simulating a
	// user delete racing a slow extraction.
	d := extract.NewDispatcher(time.Second)
	d.Register(storage.CategoryText, extract.ExtractorFunc(func(_ context.Context, req extract.Request) (string, error) {
		if err := s.DeleteFile(req.FileID); err != nil {
			t.Errorf("DeleteFile: %v", err)
		}
		return "late result", nil
	}), 0)

	w := NewWorker(s, blobs, d, time.Millisecond, 1, time.Minute)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("done = false, want a claimed file")
	}

	// The result must be discarded, not resurrected.
	if _, err := s.GetFile("f-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetFile after delete = %v, want ErrNotFound", err)
	}
}

func TestRunOnce_SkipsUnregisteredCategories(t *testing.T) {
	s := openTestStore(t)
	blobs := blob.NewStore(t.TempDir())
	seedFile(t, s, blobs, "zip-1", storage.CategoryArchive, []byte{0x50, 0x4b})

	w := NewWorker(s, blobs, textDispatcher(t), time.Millisecond, 1, time.Minute)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("done = true, archives must never be claimed")
	}

	got, _ := s.GetFile("zip-1")
	if got.Status != storage.StatusUnprocessed {
		t.Errorf("Status = %v, want StatusUnprocessed", got.Status)
	}
}

func TestRunOnce_ShutdownReleasesClaim(t *testing.T) {
	s := openTestStore(t)
	blobs := blob.NewStore(t.TempDir())
	seedFile(t, s, blobs, "f-1", storage.CategoryText, []byte("body"))

	started := make(chan struct{})
	d := extract.NewDispatcher(time.Minute)
	d.Register(storage.CategoryText, extract.ExtractorFunc(func(ctx context.Context, _ extract.Request) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}), 0)

	w := NewWorker(s, blobs, d, time.Millisecond, 1, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan error, 1)
	go func() {
		_, err := w.RunOnce(ctx)
		doneCh <- err
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("extractor never started")
	}
	cancel()

	select {
	case err := <-doneCh:
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunOnce did not return after cancellation")
	}

	// An interrupted extraction is not a failure: the file goes straight
	// back to the queue for the next run.
	got, err := s.GetFile("f-1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if got.Status != storage.StatusUnprocessed {
		t.Errorf("Status = %v, want StatusUnprocessed after shutdown", got.Status)
	}
	if got.FailureReason != "" {
		t.Errorf("FailureReason = %q, want empty", got.FailureReason)
	}
	if !got.DateStarted.IsZero() {
		t.Errorf("DateStarted = %v, want cleared", got.DateStarted)
	}
}

func TestRun_RecoversStaleAndDrains(t *testing.T) {
	s := openTestStore(t)
	blobs := blob.NewStore(t.TempDir())
	seedFile(t, s, blobs, "f-1", storage.CategoryText, []byte("one"))
	seedFile(t, s, blobs, "f-2", storage.CategoryText, []byte("two"))

	// Simulate a crashed worker: claim a file and never commit.
	if _, err := s.ClaimNext([]storage.Category{storage.CategoryText}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// staleAfter is generous, but Run recovers anything started before the
	// cutoff; backdate the claim to make it stale.
	if _, err := s.DB().Exec(
		`UPDATE files SET date_started = ? WHERE status = ?`,
		time.Now().UTC().Add(-2*time.Hour).Format(time.RFC3339), storage.StatusProcessing,
	); err != nil {
		t.Fatalf("backdating claim: %v", err)
	}

	w := NewWorker(s, blobs, textDispatcher(t), time.Millisecond, 2, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		deadline := time.After(5 * time.Second)
		for {
			counts, err := s.CountByStatus()
			if err == nil && counts[storage.StatusProcessed] == 2 {
				cancel()
				return
			}
			select {
			case <-deadline:
				cancel()
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}()

	w.Run(ctx)

	counts, err := s.CountByStatus()
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[storage.StatusProcessed] != 2 {
		t.Errorf("processed = %d, want 2 (stale claim recovered and drained)", counts[storage.StatusProcessed])
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := openTestStore(t)
	blobs := blob.NewStore(t.TempDir())
	w := NewWorker(s, blobs, textDispatcher(t), time.Millisecond, 1, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doneCh := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
