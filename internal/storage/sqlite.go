package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the file ledger.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "attachd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests and status inspection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// AppliedMigrations returns the applied schema versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query(`SELECT version FROM schema_version ORDER BY version ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

const fileColumns = `id, conversation_id, uploaded_by, original_filename, system_filename,
	stored_path, category, mime_type, size_bytes, fingerprint, upload_date,
	status, date_started, date_processed, process_seconds, extracted_content,
	failure_reason, annotation, project_important, summary_status, ai_summary`

func scanFile(row interface{ Scan(...any) error }) (File, error) {
	var f File
	var uploadDate string
	var dateStarted, dateProcessed sql.NullString
	err := row.Scan(
		&f.ID, &f.ConversationID, &f.UploadedBy, &f.OriginalFilename, &f.SystemFilename,
		&f.StoredPath, &f.Category, &f.MimeType, &f.SizeBytes, &f.Fingerprint, &uploadDate,
		&f.Status, &dateStarted, &dateProcessed, &f.ProcessSeconds, &f.ExtractedContent,
		&f.FailureReason, &f.Annotation, &f.ProjectImportant, &f.SummaryStatus, &f.AISummary,
	)
	if err != nil {
		return File{}, err
	}
	if f.UploadDate, err = time.Parse(time.RFC3339, uploadDate); err != nil {
		return File{}, fmt.Errorf("parsing upload_date for file %s: %w", f.ID, err)
	}
	if dateStarted.Valid && dateStarted.String != "" {
		if f.DateStarted, err = time.Parse(time.RFC3339, dateStarted.String); err != nil {
			return File{}, fmt.Errorf("parsing date_started for file %s: %w", f.ID, err)
		}
	}
	if dateProcessed.Valid && dateProcessed.String != "" {
		if f.DateProcessed, err = time.Parse(time.RFC3339, dateProcessed.String); err != nil {
			return File{}, fmt.Errorf("parsing date_processed for file %s: %w", f.ID, err)
		}
	}
	return f, nil
}

// CreateFile inserts a new ledger entry in StatusUnprocessed. If a file with
// the same fingerprint already exists in the same conversation, it returns
// *ErrDuplicate referencing the existing file and inserts nothing.
func (s *Store) CreateFile(f File) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	var ref DuplicateRef
	var uploadDate string
	err = tx.QueryRow(
		`SELECT id, original_filename, upload_date FROM files
		 WHERE conversation_id = ? AND fingerprint = ?`,
		f.ConversationID, f.Fingerprint,
	).Scan(&ref.ID, &ref.OriginalFilename, &uploadDate)
	if err == nil {
		if ref.UploadDate, err = time.Parse(time.RFC3339, uploadDate); err != nil {
			return fmt.Errorf("parsing upload_date for duplicate %s: %w", ref.ID, err)
		}
		return &ErrDuplicate{Existing: ref}
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("checking for duplicate: %w", err)
	}

	if f.UploadDate.IsZero() {
		f.UploadDate = time.Now().UTC()
	}
	_, err = tx.Exec(`
		INSERT INTO files (id, conversation_id, uploaded_by, original_filename, system_filename,
			stored_path, category, mime_type, size_bytes, fingerprint, upload_date, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ConversationID, f.UploadedBy, f.OriginalFilename, f.SystemFilename,
		f.StoredPath, f.Category, f.MimeType, f.SizeBytes, f.Fingerprint,
		f.UploadDate.UTC().Format(time.RFC3339), StatusUnprocessed,
	)
	if err != nil {
		return fmt.Errorf("inserting file: %w", err)
	}
	return tx.Commit()
}

// GetFile returns the ledger entry for the given id.
func (s *Store) GetFile(id string) (File, error) {
	row := s.db.QueryRow(`SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, err
	}
	return f, nil
}

// ListConversationFiles returns all files owned by a conversation, oldest first.
func (s *Store) ListConversationFiles(conversationID string) ([]File, error) {
	rows, err := s.db.Query(
		`SELECT `+fileColumns+` FROM files WHERE conversation_id = ? ORDER BY upload_date ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFiles(rows)
}

// ListUserFiles returns files uploaded by a user, newest first, paginated.
func (s *Store) ListUserFiles(userID string, limit, offset int) ([]File, error) {
	rows, err := s.db.Query(
		`SELECT `+fileColumns+` FROM files WHERE uploaded_by = ?
		 ORDER BY upload_date DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFiles(rows)
}

// ListImportantFiles returns project-important files across the given
// conversations, newest first. The conversation set comes from the external
// project service; the ledger does not know about projects.
func (s *Store) ListImportantFiles(conversationIDs []string) ([]File, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat(",?", len(conversationIDs)-1)
	args := make([]any, len(conversationIDs))
	for i, id := range conversationIDs {
		args[i] = id
	}
	rows, err := s.db.Query(
		`SELECT `+fileColumns+` FROM files
		 WHERE project_important = 1 AND conversation_id IN (?`+placeholders+`)
		 ORDER BY upload_date DESC, id DESC`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFiles(rows)
}

func collectFiles(rows *sql.Rows) ([]File, error) {
	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFile removes the ledger entry unconditionally, regardless of status.
// A worker holding a claim on the file discovers the deletion at commit time.
func (s *Store) DeleteFile(id string) error {
	res, err := s.db.Exec(`DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimNext atomically claims the oldest StatusUnprocessed file whose
// category is in the given set, moving it to StatusProcessing. Returns
// (nil, nil) when no eligible file exists. The guarded UPDATE makes the
// claim safe against concurrent workers.
func (s *Store) ClaimNext(categories []Category) (*File, error) {
	if len(categories) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat(",?", len(categories)-1)
	args := make([]any, 0, len(categories)+1)
	args = append(args, StatusUnprocessed)
	for _, c := range categories {
		args = append(args, c)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	row := tx.QueryRow(
		`SELECT `+fileColumns+` FROM files
		 WHERE status = ? AND category IN (?`+placeholders+`)
		 ORDER BY upload_date ASC, id ASC
		 LIMIT 1`,
		args...,
	)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next unprocessed file: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.Exec(
		`UPDATE files SET status = ?, date_started = ? WHERE id = ? AND status = ?`,
		StatusProcessing, now.Format(time.RFC3339), f.ID, StatusUnprocessed,
	)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("claiming file %s: %w", f.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking claimed rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	f.Status = StatusProcessing
	f.DateStarted = now
	return &f, nil
}

// FinishProcessing commits a successful extraction for a claimed file.
// Returns false when the file is no longer in StatusProcessing (deleted or
// reset mid-flight); the result must then be discarded.
func (s *Store) FinishProcessing(id, content string, seconds float64) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(
		`UPDATE files SET status = ?, extracted_content = ?, failure_reason = '',
			date_processed = ?, process_seconds = ?, summary_status = ?, ai_summary = ''
		 WHERE id = ? AND status = ?`,
		StatusProcessed, content, now, seconds, SummaryPending, id, StatusProcessing,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FailProcessing commits a failed extraction for a claimed file. The reason
// is recorded separately from extracted content, which stays empty. Returns
// false when the claim is no longer valid.
func (s *Store) FailProcessing(id, reason string, seconds float64) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(
		`UPDATE files SET status = ?, failure_reason = ?, extracted_content = '',
			date_processed = ?, process_seconds = ?
		 WHERE id = ? AND status = ?`,
		StatusFailed, reason, now, seconds, id, StatusProcessing,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseClaim returns a claimed file to StatusUnprocessed without recording
// an outcome, used when extraction is interrupted rather than failed (worker
// shutdown). Returns false when the file is no longer claimed.
func (s *Store) ReleaseClaim(id string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE files SET status = ?, date_started = NULL WHERE id = ? AND status = ?`,
		StatusUnprocessed, id, StatusProcessing,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RequeueFile resets a Processed, Failed or DoNotProcess file back to
// StatusUnprocessed, clearing prior results. Requeueing while the file is
// StatusProcessing returns ErrInvalidTransition; requeueing an already
// Unprocessed file is a no-op. An audit note is appended to the annotation.
func (s *Store) RequeueFile(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning requeue transaction: %w", err)
	}
	defer tx.Rollback()

	var status Status
	var annotation string
	err = tx.QueryRow(`SELECT status, annotation FROM files WHERE id = ?`, id).Scan(&status, &annotation)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	switch status {
	case StatusUnprocessed:
		return nil
	case StatusProcessing:
		return fmt.Errorf("%w: cannot requeue file %s while processing", ErrInvalidTransition, id)
	}

	note := fmt.Sprintf("Requeued for processing at %s", time.Now().UTC().Format(time.RFC3339))
	if annotation != "" {
		note = annotation + "\n" + note
	}
	_, err = tx.Exec(
		`UPDATE files SET status = ?, extracted_content = '', failure_reason = '',
			date_started = NULL, date_processed = NULL, process_seconds = 0,
			summary_status = ?, ai_summary = '', annotation = ?
		 WHERE id = ? AND status = ?`,
		StatusUnprocessed, SummaryPending, note, id, status,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// MarkDoNotProcess excludes an Unprocessed or Failed file from the pipeline.
// Already excluded files are a no-op; any other status returns
// ErrInvalidTransition.
func (s *Store) MarkDoNotProcess(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var status Status
	err = tx.QueryRow(`SELECT status FROM files WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	switch status {
	case StatusDoNotProcess:
		return nil
	case StatusUnprocessed, StatusFailed:
	default:
		return fmt.Errorf("%w: cannot exclude file %s from status %s", ErrInvalidTransition, id, status)
	}

	_, err = tx.Exec(
		`UPDATE files SET status = ?, failure_reason = '' WHERE id = ? AND status = ?`,
		StatusDoNotProcess, id, status,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// SetAnnotation replaces the human-authored note on a file.
func (s *Store) SetAnnotation(id, text string) error {
	res, err := s.db.Exec(`UPDATE files SET annotation = ? WHERE id = ?`, text, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetImportant sets or clears the project-importance flag.
func (s *Store) SetImportant(id string, important bool) error {
	res, err := s.db.Exec(`UPDATE files SET project_important = ? WHERE id = ?`, important, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecoverStale reverts files stuck in StatusProcessing since before the
// cutoff back to StatusUnprocessed. Run at worker startup so a crash never
// leaves a file claimed forever. Returns the number of recovered files.
func (s *Store) RecoverStale(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	res, err := s.db.Exec(
		`UPDATE files SET status = ?, date_started = NULL
		 WHERE status = ? AND (date_started IS NULL OR date_started < ?)`,
		StatusUnprocessed, StatusProcessing, cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// CountByStatus returns the number of ledger entries per status.
func (s *Store) CountByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM files GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// ClaimNextSummary atomically claims the oldest Processed file whose summary
// is still pending, moving its summary status to SummaryInProgress. Returns
// (nil, nil) when no eligible file exists.
func (s *Store) ClaimNextSummary() (*File, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning summary claim transaction: %w", err)
	}

	row := tx.QueryRow(
		`SELECT `+fileColumns+` FROM files
		 WHERE status = ? AND summary_status = ?
		 ORDER BY date_processed ASC, id ASC
		 LIMIT 1`,
		StatusProcessed, SummaryPending,
	)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next summary candidate: %w", err)
	}

	res, err := tx.Exec(
		`UPDATE files SET summary_status = ? WHERE id = ? AND summary_status = ?`,
		SummaryInProgress, f.ID, SummaryPending,
	)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("claiming summary for file %s: %w", f.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking claimed summary rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing summary claim: %w", err)
	}

	f.SummaryStatus = SummaryInProgress
	return &f, nil
}

// FinishSummary stores the generated summary. Returns false when the file
// was deleted or reset while the summary was being generated.
func (s *Store) FinishSummary(id, summary string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE files SET summary_status = ?, ai_summary = ? WHERE id = ? AND summary_status = ?`,
		SummaryDone, summary, id, SummaryInProgress,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FailSummary marks summary generation as failed so it is not retried in a
// loop. Returns false when the claim is no longer valid.
func (s *Store) FailSummary(id string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE files SET summary_status = ? WHERE id = ? AND summary_status = ?`,
		SummaryFailed, id, SummaryInProgress,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
