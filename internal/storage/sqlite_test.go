package storage

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testFile(id, conversationID string, category Category) File {
	return File{
		ID:               id,
		ConversationID:   conversationID,
		UploadedBy:       "user-1",
		OriginalFilename: id + ".txt",
		SystemFilename:   id + "-sys.txt",
		StoredPath:       "2026/08/30/" + id + "-sys.txt",
		Category:         category,
		MimeType:         "text/plain",
		SizeBytes:        42,
		Fingerprint:      "fp-" + id,
	}
}

func mustCreate(t *testing.T, s *Store, f File) {
	t.Helper()
	if err := s.CreateFile(f); err != nil {
		t.Fatalf("CreateFile(%s) failed: %v", f.ID, err)
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies the migration creates the indexes the claim and
// listing queries rely on.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_files_conversation_fingerprint", "idx_files_status", "idx_files_conversation"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestCreateAndGetFile(t *testing.T) {
	s := openTestStore(t)

	f := testFile("f-1", "conv-1", CategoryText)
	mustCreate(t, s, f)

	got, err := s.GetFile("f-1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}

	if got.ConversationID != "conv-1" {
		t.Errorf("ConversationID = %q, want conv-1", got.ConversationID)
	}
	if got.Status != StatusUnprocessed {
		t.Errorf("Status = %v, want StatusUnprocessed", got.Status)
	}
	if got.Category != CategoryText {
		t.Errorf("Category = %q, want text", got.Category)
	}
	if got.UploadDate.IsZero() {
		t.Error("UploadDate not set")
	}
	if !got.DateStarted.IsZero() {
		t.Error("DateStarted should be zero for new file")
	}
	if got.SummaryStatus != SummaryPending {
		t.Errorf("SummaryStatus = %v, want SummaryPending", got.SummaryStatus)
	}
}

func TestGetFile_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetFile("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateFile_DuplicateInConversation(t *testing.T) {
	s := openTestStore(t)

	original := testFile("f-1", "conv-1", CategoryText)
	mustCreate(t, s, original)

	dup := testFile("f-2", "conv-1", CategoryText)
	dup.Fingerprint = original.Fingerprint
	dup.OriginalFilename = "renamed.txt"

	err := s.CreateFile(dup)
	var dupErr *ErrDuplicate
	if !errors.As(err, &dupErr) {
		t.Fatalf("err = %v, want *ErrDuplicate", err)
	}
	if dupErr.Existing.ID != "f-1" {
		t.Errorf("Existing.ID = %q, want f-1", dupErr.Existing.ID)
	}
	if dupErr.Existing.OriginalFilename != "f-1.txt" {
		t.Errorf("Existing.OriginalFilename = %q, want f-1.txt", dupErr.Existing.OriginalFilename)
	}

	// The rejected row must not be inserted.
	if _, err := s.GetFile("f-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("duplicate row was inserted: err = %v", err)
	}
}

func TestCreateFile_SameContentDifferentConversation(t *testing.T) {
	s := openTestStore(t)

	a := testFile("f-1", "conv-1", CategoryText)
	mustCreate(t, s, a)

	b := testFile("f-2", "conv-2", CategoryText)
	b.Fingerprint = a.Fingerprint
	if err := s.CreateFile(b); err != nil {
		t.Fatalf("same fingerprint in another conversation should be allowed: %v", err)
	}
}

func TestListConversationFiles_Order(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		f := testFile(fmt.Sprintf("f-%d", i), "conv-1", CategoryText)
		f.UploadDate = base.Add(time.Duration(i) * time.Minute)
		mustCreate(t, s, f)
	}
	mustCreate(t, s, testFile("other", "conv-2", CategoryText))

	files, err := s.ListConversationFiles("conv-1")
	if err != nil {
		t.Fatalf("ListConversationFiles: %v", err)
	}

	if len(files) != 3 {
		t.Fatalf("len = %d, want 3", len(files))
	}
	for i, f := range files {
		want := fmt.Sprintf("f-%d", i)
		if f.ID != want {
			t.Errorf("files[%d].ID = %q, want %q (oldest first)", i, f.ID, want)
		}
	}
}

func TestListUserFiles_Pagination(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		f := testFile(fmt.Sprintf("f-%d", i), "conv-1", CategoryText)
		f.UploadDate = base.Add(time.Duration(i) * time.Minute)
		mustCreate(t, s, f)
	}

	page1, err := s.ListUserFiles("user-1", 2, 0)
	if err != nil {
		t.Fatalf("ListUserFiles: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("page1 len = %d, want 2", len(page1))
	}
	// Newest first.
	if page1[0].ID != "f-4" || page1[1].ID != "f-3" {
		t.Errorf("page1 = [%s, %s], want [f-4, f-3]", page1[0].ID, page1[1].ID)
	}

	page2, err := s.ListUserFiles("user-1", 2, 2)
	if err != nil {
		t.Fatalf("ListUserFiles offset: %v", err)
	}
	if len(page2) != 2 || page2[0].ID != "f-2" {
		t.Errorf("page2[0].ID = %q, want f-2", page2[0].ID)
	}

	none, err := s.ListUserFiles("stranger", 10, 0)
	if err != nil {
		t.Fatalf("ListUserFiles stranger: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("stranger files = %d, want 0", len(none))
	}
}

func TestDeleteFile(t *testing.T) {
	s := openTestStore(t)

	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	if err := s.DeleteFile("f-1"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := s.GetFile("f-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("file still present after delete: %v", err)
	}
	if err := s.DeleteFile("f-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestClaimNext_OldestEligibleFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	newer := testFile("newer", "conv-1", CategoryText)
	newer.UploadDate = base.Add(10 * time.Minute)
	older := testFile("older", "conv-1", CategoryText)
	older.UploadDate = base
	mustCreate(t, s, newer)
	mustCreate(t, s, older)

	claimed, err := s.ClaimNext([]Category{CategoryText})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil {
		t.Fatal("ClaimNext returned nil, want a file")
	}
	if claimed.ID != "older" {
		t.Errorf("claimed %q, want oldest file", claimed.ID)
	}
	if claimed.Status != StatusProcessing {
		t.Errorf("Status = %v, want StatusProcessing", claimed.Status)
	}
	if claimed.DateStarted.IsZero() {
		t.Error("DateStarted not set on claim")
	}

	// The claim must be visible to other readers.
	got, err := s.GetFile("older")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if got.Status != StatusProcessing {
		t.Errorf("persisted Status = %v, want StatusProcessing", got.Status)
	}
}

func TestClaimNext_CategoryFilter(t *testing.T) {
	s := openTestStore(t)

	mustCreate(t, s, testFile("zip", "conv-1", CategoryArchive))
	mustCreate(t, s, testFile("img", "conv-1", CategoryImage))

	claimed, err := s.ClaimNext([]Category{CategoryText, CategoryDocument})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed %q, want nil (no eligible category)", claimed.ID)
	}

	claimed, err = s.ClaimNext([]Category{CategoryImage})
	if err != nil {
		t.Fatalf("ClaimNext image: %v", err)
	}
	if claimed == nil || claimed.ID != "img" {
		t.Errorf("claimed = %v, want img", claimed)
	}
}

func TestClaimNext_NoCategories(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	claimed, err := s.ClaimNext(nil)
	if err != nil {
		t.Fatalf("ClaimNext(nil): %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed = %v, want nil for empty category set", claimed)
	}
}

func TestClaimNext_DoesNotReclaim(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	first, err := s.ClaimNext([]Category{CategoryText})
	if err != nil || first == nil {
		t.Fatalf("first claim = %v, %v", first, err)
	}

	second, err := s.ClaimNext([]Category{CategoryText})
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second != nil {
		t.Errorf("second claim = %q, want nil while first is processing", second.ID)
	}
}

func TestFinishProcessing(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	claimed, err := s.ClaimNext([]Category{CategoryText})
	if err != nil || claimed == nil {
		t.Fatalf("claim = %v, %v", claimed, err)
	}

	committed, err := s.FinishProcessing("f-1", "extracted text", 1.5)
	if err != nil {
		t.Fatalf("FinishProcessing: %v", err)
	}
	if !committed {
		t.Fatal("FinishProcessing = false, want commit")
	}

	got, err := s.GetFile("f-1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if got.Status != StatusProcessed {
		t.Errorf("Status = %v, want StatusProcessed", got.Status)
	}
	if got.ExtractedContent != "extracted text" {
		t.Errorf("ExtractedContent = %q", got.ExtractedContent)
	}
	if got.ProcessSeconds != 1.5 {
		t.Errorf("ProcessSeconds = %v, want 1.5", got.ProcessSeconds)
	}
	if got.DateProcessed.IsZero() {
		t.Error("DateProcessed not set")
	}
	if got.SummaryStatus != SummaryPending {
		t.Errorf("SummaryStatus = %v, want SummaryPending after fresh extraction", got.SummaryStatus)
	}
}

func TestFinishProcessing_DeletedMidFlight(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	claimed, err := s.ClaimNext([]Category{CategoryText})
	if err != nil || claimed == nil {
		t.Fatalf("claim = %v, %v", claimed, err)
	}

	// User deletes the file while the worker is extracting.
	if err := s.DeleteFile("f-1"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}

	committed, err := s.FinishProcessing("f-1", "late result", 3.0)
	if err != nil {
		t.Fatalf("FinishProcessing: %v", err)
	}
	if committed {
		t.Error("FinishProcessing = true after delete, want false (discard)")
	}
}

func TestFailProcessing(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	if _, err := s.ClaimNext([]Category{CategoryText}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	committed, err := s.FailProcessing("f-1", "backend unavailable", 0.2)
	if err != nil {
		t.Fatalf("FailProcessing: %v", err)
	}
	if !committed {
		t.Fatal("FailProcessing = false, want commit")
	}

	got, _ := s.GetFile("f-1")
	if got.Status != StatusFailed {
		t.Errorf("Status = %v, want StatusFailed", got.Status)
	}
	if got.FailureReason != "backend unavailable" {
		t.Errorf("FailureReason = %q", got.FailureReason)
	}
	if got.ExtractedContent != "" {
		t.Errorf("ExtractedContent = %q, want empty on failure", got.ExtractedContent)
	}
}

func TestFailProcessing_ResetMidFlight(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	if _, err := s.ClaimNext([]Category{CategoryText}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Crash recovery resets the claim before the worker reports back.
	if _, err := s.RecoverStale(0); err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}

	committed, err := s.FailProcessing("f-1", "too late", 99)
	if err != nil {
		t.Fatalf("FailProcessing: %v", err)
	}
	if committed {
		t.Error("FailProcessing = true after reset, want false")
	}

	got, _ := s.GetFile("f-1")
	if got.Status != StatusUnprocessed {
		t.Errorf("Status = %v, want StatusUnprocessed after recovery", got.Status)
	}
	if got.FailureReason != "" {
		t.Errorf("FailureReason = %q, want empty", got.FailureReason)
	}
}

func TestReleaseClaim(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	if _, err := s.ClaimNext([]Category{CategoryText}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	released, err := s.ReleaseClaim("f-1")
	if err != nil {
		t.Fatalf("ReleaseClaim: %v", err)
	}
	if !released {
		t.Fatal("ReleaseClaim = false for a claimed file, want true")
	}

	got, _ := s.GetFile("f-1")
	if got.Status != StatusUnprocessed {
		t.Errorf("Status = %v, want StatusUnprocessed", got.Status)
	}
	if !got.DateStarted.IsZero() {
		t.Errorf("DateStarted = %v, want cleared", got.DateStarted)
	}

	// The file is immediately claimable again.
	claimed, err := s.ClaimNext([]Category{CategoryText})
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed == nil || claimed.ID != "f-1" {
		t.Errorf("second claim = %v, want f-1", claimed)
	}
}

func TestReleaseClaim_NotClaimed(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	released, err := s.ReleaseClaim("f-1")
	if err != nil {
		t.Fatalf("ReleaseClaim: %v", err)
	}
	if released {
		t.Error("ReleaseClaim = true for an unclaimed file, want false")
	}

	if released, _ := s.ReleaseClaim("missing"); released {
		t.Error("ReleaseClaim = true for a missing file, want false")
	}
}

func TestRequeueFile(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	if _, err := s.ClaimNext([]Category{CategoryText}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.FinishProcessing("f-1", "old content", 1.0); err != nil {
		t.Fatalf("finish: %v", err)
	}

	if err := s.RequeueFile("f-1"); err != nil {
		t.Fatalf("RequeueFile: %v", err)
	}

	got, _ := s.GetFile("f-1")
	if got.Status != StatusUnprocessed {
		t.Errorf("Status = %v, want StatusUnprocessed", got.Status)
	}
	if got.ExtractedContent != "" {
		t.Errorf("ExtractedContent = %q, want cleared", got.ExtractedContent)
	}
	if !got.DateStarted.IsZero() || !got.DateProcessed.IsZero() {
		t.Error("timestamps not cleared on requeue")
	}
	if !strings.Contains(got.Annotation, "Requeued for processing at ") {
		t.Errorf("Annotation = %q, want audit note", got.Annotation)
	}
}

func TestRequeueFile_WhileProcessing(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	if _, err := s.ClaimNext([]Category{CategoryText}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	err := s.RequeueFile("f-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestRequeueFile_AlreadyUnprocessed(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	if err := s.RequeueFile("f-1"); err != nil {
		t.Errorf("requeue of unprocessed file should be a no-op, got %v", err)
	}

	got, _ := s.GetFile("f-1")
	if got.Annotation != "" {
		t.Errorf("Annotation = %q, no-op requeue must not leave a note", got.Annotation)
	}
}

func TestRequeueFile_PreservesAnnotation(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))
	if err := s.SetAnnotation("f-1", "quarterly report"); err != nil {
		t.Fatalf("SetAnnotation: %v", err)
	}

	if _, err := s.ClaimNext([]Category{CategoryText}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.FailProcessing("f-1", "boom", 0.1); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := s.RequeueFile("f-1"); err != nil {
		t.Fatalf("RequeueFile: %v", err)
	}

	got, _ := s.GetFile("f-1")
	if !strings.HasPrefix(got.Annotation, "quarterly report\n") {
		t.Errorf("Annotation = %q, want original note preserved before audit line", got.Annotation)
	}
}

func TestMarkDoNotProcess(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	if err := s.MarkDoNotProcess("f-1"); err != nil {
		t.Fatalf("MarkDoNotProcess: %v", err)
	}

	got, _ := s.GetFile("f-1")
	if got.Status != StatusDoNotProcess {
		t.Errorf("Status = %v, want StatusDoNotProcess", got.Status)
	}

	// Excluded files are never claimed.
	claimed, err := s.ClaimNext([]Category{CategoryText})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed excluded file %q", claimed.ID)
	}

	// Idempotent.
	if err := s.MarkDoNotProcess("f-1"); err != nil {
		t.Errorf("second MarkDoNotProcess err = %v, want nil", err)
	}
}

func TestMarkDoNotProcess_FromFailed(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	if _, err := s.ClaimNext([]Category{CategoryText}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.FailProcessing("f-1", "bad encoding", 0.1); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := s.MarkDoNotProcess("f-1"); err != nil {
		t.Fatalf("MarkDoNotProcess from failed: %v", err)
	}

	got, _ := s.GetFile("f-1")
	if got.Status != StatusDoNotProcess {
		t.Errorf("Status = %v, want StatusDoNotProcess", got.Status)
	}
	if got.FailureReason != "" {
		t.Errorf("FailureReason = %q, want cleared", got.FailureReason)
	}
}

func TestMarkDoNotProcess_FromProcessed(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	if _, err := s.ClaimNext([]Category{CategoryText}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.FinishProcessing("f-1", "done", 1); err != nil {
		t.Fatalf("finish: %v", err)
	}

	err := s.MarkDoNotProcess("f-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition from processed", err)
	}
}

func TestRecoverStale(t *testing.T) {
	s := openTestStore(t)
	stuck := testFile("stuck", "conv-1", CategoryText)
	stuck.UploadDate = time.Now().UTC().Add(-2 * time.Hour)
	mustCreate(t, s, stuck)
	mustCreate(t, s, testFile("fresh", "conv-1", CategoryText))

	if _, err := s.ClaimNext([]Category{CategoryText}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// A generous cutoff leaves the fresh claim alone.
	n, err := s.RecoverStale(time.Hour)
	if err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}
	if n != 0 {
		t.Errorf("recovered %d, want 0 for fresh claim", n)
	}

	// Zero cutoff treats any claim as stale.
	n, err = s.RecoverStale(0)
	if err != nil {
		t.Fatalf("RecoverStale(0): %v", err)
	}
	if n != 1 {
		t.Errorf("recovered %d, want 1", n)
	}

	got, _ := s.GetFile("stuck")
	if got.Status != StatusUnprocessed {
		t.Errorf("Status = %v, want StatusUnprocessed", got.Status)
	}
	if !got.DateStarted.IsZero() {
		t.Error("DateStarted not cleared on recovery")
	}
}

func TestSetImportantAndList(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))
	mustCreate(t, s, testFile("f-2", "conv-2", CategoryText))
	mustCreate(t, s, testFile("f-3", "conv-3", CategoryText))

	if err := s.SetImportant("f-1", true); err != nil {
		t.Fatalf("SetImportant: %v", err)
	}
	if err := s.SetImportant("f-3", true); err != nil {
		t.Fatalf("SetImportant: %v", err)
	}

	// Only conversations the project owns are consulted.
	files, err := s.ListImportantFiles([]string{"conv-1", "conv-2"})
	if err != nil {
		t.Fatalf("ListImportantFiles: %v", err)
	}
	if len(files) != 1 || files[0].ID != "f-1" {
		t.Errorf("files = %v, want [f-1]", files)
	}

	// Clearing the flag removes it from the listing.
	if err := s.SetImportant("f-1", false); err != nil {
		t.Fatalf("SetImportant clear: %v", err)
	}
	files, err = s.ListImportantFiles([]string{"conv-1", "conv-2"})
	if err != nil {
		t.Fatalf("ListImportantFiles: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("files = %v, want empty", files)
	}

	none, err := s.ListImportantFiles(nil)
	if err != nil {
		t.Fatalf("ListImportantFiles(nil): %v", err)
	}
	if none != nil {
		t.Errorf("files = %v, want nil for empty conversation set", none)
	}
}

func TestSetAnnotation_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetAnnotation("missing", "note"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.SetImportant("missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCountByStatus(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))
	mustCreate(t, s, testFile("f-2", "conv-1", CategoryText))
	mustCreate(t, s, testFile("f-3", "conv-1", CategoryText))

	if _, err := s.ClaimNext([]Category{CategoryText}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	counts, err := s.CountByStatus()
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[StatusUnprocessed] != 2 {
		t.Errorf("unprocessed = %d, want 2", counts[StatusUnprocessed])
	}
	if counts[StatusProcessing] != 1 {
		t.Errorf("processing = %d, want 1", counts[StatusProcessing])
	}
}

func TestSummaryLifecycle(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))

	// Nothing to summarize before extraction completes.
	claimed, err := s.ClaimNextSummary()
	if err != nil {
		t.Fatalf("ClaimNextSummary: %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed %q, want nil before processing", claimed.ID)
	}

	if _, err := s.ClaimNext([]Category{CategoryText}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.FinishProcessing("f-1", "some content", 1); err != nil {
		t.Fatalf("finish: %v", err)
	}

	claimed, err = s.ClaimNextSummary()
	if err != nil {
		t.Fatalf("ClaimNextSummary: %v", err)
	}
	if claimed == nil || claimed.ID != "f-1" {
		t.Fatalf("claimed = %v, want f-1", claimed)
	}
	if claimed.SummaryStatus != SummaryInProgress {
		t.Errorf("SummaryStatus = %v, want SummaryInProgress", claimed.SummaryStatus)
	}

	// No double claim.
	second, err := s.ClaimNextSummary()
	if err != nil {
		t.Fatalf("second ClaimNextSummary: %v", err)
	}
	if second != nil {
		t.Errorf("second claim = %q, want nil", second.ID)
	}

	committed, err := s.FinishSummary("f-1", "a short summary")
	if err != nil {
		t.Fatalf("FinishSummary: %v", err)
	}
	if !committed {
		t.Fatal("FinishSummary = false, want commit")
	}

	got, _ := s.GetFile("f-1")
	if got.SummaryStatus != SummaryDone {
		t.Errorf("SummaryStatus = %v, want SummaryDone", got.SummaryStatus)
	}
	if got.AISummary != "a short summary" {
		t.Errorf("AISummary = %q", got.AISummary)
	}
}

func TestFailSummary(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))
	if _, err := s.ClaimNext([]Category{CategoryText}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.FinishProcessing("f-1", "content", 1); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := s.ClaimNextSummary(); err != nil {
		t.Fatalf("summary claim: %v", err)
	}

	committed, err := s.FailSummary("f-1")
	if err != nil {
		t.Fatalf("FailSummary: %v", err)
	}
	if !committed {
		t.Fatal("FailSummary = false, want commit")
	}

	got, _ := s.GetFile("f-1")
	if got.SummaryStatus != SummaryFailed {
		t.Errorf("SummaryStatus = %v, want SummaryFailed", got.SummaryStatus)
	}

	// Failed summaries are not retried.
	claimed, err := s.ClaimNextSummary()
	if err != nil {
		t.Fatalf("ClaimNextSummary: %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed failed summary %q again", claimed.ID)
	}
}

func TestSummaryReset_OnRequeue(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, testFile("f-1", "conv-1", CategoryText))
	if _, err := s.ClaimNext([]Category{CategoryText}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.FinishProcessing("f-1", "content", 1); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := s.ClaimNextSummary(); err != nil {
		t.Fatalf("summary claim: %v", err)
	}
	if _, err := s.FinishSummary("f-1", "stale summary"); err != nil {
		t.Fatalf("FinishSummary: %v", err)
	}

	if err := s.RequeueFile("f-1"); err != nil {
		t.Fatalf("RequeueFile: %v", err)
	}

	got, _ := s.GetFile("f-1")
	if got.SummaryStatus != SummaryPending {
		t.Errorf("SummaryStatus = %v, want SummaryPending after requeue", got.SummaryStatus)
	}
	if got.AISummary != "" {
		t.Errorf("AISummary = %q, want cleared", got.AISummary)
	}
}
