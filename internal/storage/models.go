package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a status change is not allowed
// from the file's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// Status is the processing lifecycle state of an uploaded file.
// The numeric values are persisted in the ledger; do not reorder.
type Status int

const (
	StatusUnprocessed  Status = 0
	StatusProcessing   Status = 1
	StatusProcessed    Status = 2
	StatusFailed       Status = 3
	StatusDoNotProcess Status = 4
)

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUnprocessed, StatusProcessing, StatusProcessed, StatusFailed, StatusDoNotProcess:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusUnprocessed:
		return "unprocessed"
	case StatusProcessing:
		return "processing"
	case StatusProcessed:
		return "processed"
	case StatusFailed:
		return "failed"
	case StatusDoNotProcess:
		return "do_not_process"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// SummaryStatus tracks the AI-summary lifecycle, independent of Status.
type SummaryStatus int

const (
	SummaryPending    SummaryStatus = 0
	SummaryInProgress SummaryStatus = 1
	SummaryDone       SummaryStatus = 2
	SummaryFailed     SummaryStatus = 3
)

// Category is the semantic classification of a file, used to select an
// extraction routine. Stored as text in the ledger.
type Category string

const (
	CategoryAudio    Category = "audio"
	CategoryImage    Category = "image"
	CategoryText     Category = "text"
	CategoryDocument Category = "document"
	CategoryArchive  Category = "archive"
	CategoryOther    Category = "other"
)

// File is one row of the ledger: an uploaded artifact plus its
// processing state.
type File struct {
	ID               string
	ConversationID   string
	UploadedBy       string
	OriginalFilename string
	SystemFilename   string
	StoredPath       string // relative to the blob store root
	Category         Category
	MimeType         string
	SizeBytes        int64
	Fingerprint      string // SHA-256 hex of the full content
	UploadDate       time.Time

	Status           Status
	DateStarted      time.Time // zero unless a worker has claimed the file
	DateProcessed    time.Time // zero unless terminal
	ProcessSeconds   float64
	ExtractedContent string
	FailureReason    string

	Annotation       string
	ProjectImportant bool

	SummaryStatus SummaryStatus
	AISummary     string
}

// DuplicateRef describes the pre-existing file that caused an upload to be
// rejected as a duplicate.
type DuplicateRef struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	UploadDate       time.Time `json:"upload_date"`
}

// ErrDuplicate carries the reference to the conflicting file so the caller
// can decide to reuse it instead of retrying.
type ErrDuplicate struct {
	Existing DuplicateRef
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("duplicate of file %s (%s)", e.Existing.ID, e.Existing.OriginalFilename)
}
