package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kalambet/attachd/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// FileRecord is the JSON view of a ledger entry. Extracted content is
// present only for processed files.
type FileRecord struct {
	ID               string     `json:"id"`
	ConversationID   string     `json:"conversation_id"`
	UploadedBy       string     `json:"uploaded_by,omitempty"`
	OriginalFilename string     `json:"original_filename"`
	Category         string     `json:"category"`
	MimeType         string     `json:"mime_type,omitempty"`
	SizeBytes        int64      `json:"size_bytes"`
	SizeFormatted    string     `json:"size_formatted"`
	Fingerprint      string     `json:"fingerprint"`
	UploadDate       time.Time  `json:"upload_date"`
	Status           int        `json:"status"`
	StatusText       string     `json:"status_text"`
	DateStarted      *time.Time `json:"date_started,omitempty"`
	DateProcessed    *time.Time `json:"date_processed,omitempty"`
	ProcessSeconds   float64    `json:"process_seconds,omitempty"`
	ExtractedContent string     `json:"extracted_content,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	Annotation       string     `json:"annotation,omitempty"`
	ProjectImportant bool       `json:"project_important"`
	SummaryStatus    int        `json:"summary_status"`
	AISummary        string     `json:"ai_summary,omitempty"`
}

func toRecord(f storage.File) FileRecord {
	rec := FileRecord{
		ID:               f.ID,
		ConversationID:   f.ConversationID,
		UploadedBy:       f.UploadedBy,
		OriginalFilename: f.OriginalFilename,
		Category:         string(f.Category),
		MimeType:         f.MimeType,
		SizeBytes:        f.SizeBytes,
		SizeFormatted:    humanize.Bytes(uint64(f.SizeBytes)),
		Fingerprint:      f.Fingerprint,
		UploadDate:       f.UploadDate,
		Status:           int(f.Status),
		StatusText:       f.Status.String(),
		ProcessSeconds:   f.ProcessSeconds,
		FailureReason:    f.FailureReason,
		Annotation:       f.Annotation,
		ProjectImportant: f.ProjectImportant,
		SummaryStatus:    int(f.SummaryStatus),
		AISummary:        f.AISummary,
	}
	if !f.DateStarted.IsZero() {
		t := f.DateStarted
		rec.DateStarted = &t
	}
	if !f.DateProcessed.IsZero() {
		t := f.DateProcessed
		rec.DateProcessed = &t
	}
	if f.Status == storage.StatusProcessed {
		rec.ExtractedContent = f.ExtractedContent
	}
	return rec
}

func toRecords(files []storage.File) []FileRecord {
	records := make([]FileRecord, len(files))
	for i, f := range files {
		records[i] = toRecord(f)
	}
	return records
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
