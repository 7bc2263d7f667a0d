package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/attachd/internal/blob"
	"github.com/kalambet/attachd/internal/classify"
	"github.com/kalambet/attachd/internal/storage"
)

// defaultMaxUploadBytes caps uploads at 100MB, matching the largest audio
// files the pipeline is expected to transcribe.
const defaultMaxUploadBytes = 100 << 20

// ProjectResolver supplies the conversations belonging to a project. The
// project service is external; the ledger only knows conversation ids.
type ProjectResolver interface {
	ConversationsForProject(ctx context.Context, projectID string) ([]string, error)
}

// AppDeps holds dependencies for the HTTP control surface.
type AppDeps struct {
	Store          *storage.Store
	Blobs          *blob.Store
	Projects       ProjectResolver // optional; project endpoints 404 without it
	Token          string
	MaxUploadBytes int64 // defaults to 100MB when zero
}

// NewAppHandler builds the chi router for all file operations.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}

	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/api/conversations/{conversationID}/files", handleUpload(deps))
		r.Get("/api/conversations/{conversationID}/files", handleListConversationFiles(deps))
		r.Get("/api/files", handleListUserFiles(deps))
		r.Get("/api/files/{fileID}", handleGetFile(deps))
		r.Get("/api/files/{fileID}/download", handleDownload(deps))
		r.Delete("/api/files/{fileID}", handleDelete(deps))
		r.Post("/api/files/{fileID}/reprocess", handleReprocess(deps))
		r.Post("/api/files/{fileID}/do-not-process", handleDoNotProcess(deps))
		r.Patch("/api/files/{fileID}/annotation", handleAnnotation(deps))
		r.Put("/api/files/{fileID}/important", handleImportant(deps))
		r.Get("/api/projects/{projectID}/important-files", handleImportantFiles(deps))
		r.Get("/api/stats", handleStats(deps))
	})

	return r
}

func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := chi.URLParam(r, "conversationID")

		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes+1<<20)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}

		part, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no file uploaded")
			return
		}
		defer part.Close()

		if header.Filename == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no file selected")
			return
		}
		if !classify.AllowedExtension(header.Filename) {
			httpError(w, http.StatusBadRequest, "invalid_request_error",
				"file type of %q not allowed", header.Filename)
			return
		}

		data, err := io.ReadAll(io.LimitReader(part, deps.MaxUploadBytes+1))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}
		if len(data) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is empty")
			return
		}
		if int64(len(data)) > deps.MaxUploadBytes {
			httpError(w, http.StatusBadRequest, "invalid_request_error",
				"file too large, maximum size is %d bytes", deps.MaxUploadBytes)
			return
		}

		sum := sha256.Sum256(data)
		fingerprint := hex.EncodeToString(sum[:])

		mimeType := header.Header.Get("Content-Type")
		category := classify.Detect(header.Filename, mimeType)

		systemFilename := blob.SystemFilename(header.Filename)
		storedPath, err := deps.Blobs.Save(systemFilename, data)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "storing file: %v", err)
			return
		}

		f := storage.File{
			ID:               uuid.New().String(),
			ConversationID:   conversationID,
			UploadedBy:       r.FormValue("uploaded_by"),
			OriginalFilename: header.Filename,
			SystemFilename:   systemFilename,
			StoredPath:       storedPath,
			Category:         category,
			MimeType:         mimeType,
			SizeBytes:        int64(len(data)),
			Fingerprint:      fingerprint,
		}
		if err := deps.Store.CreateFile(f); err != nil {
			// The ledger rejected the entry; the saved bytes are orphaned
			// and must go.
			_ = deps.Blobs.Delete(storedPath)

			var dup *storage.ErrDuplicate
			if errors.As(err, &dup) {
				writeJSON(w, http.StatusConflict, map[string]any{
					"error":          "this file has already been uploaded to this conversation",
					"duplicate_file": dup.Existing,
				})
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "recording file: %v", err)
			return
		}

		created, err := deps.Store.GetFile(f.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading created file: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, toRecord(created))
	}
}

func handleListConversationFiles(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := deps.Store.ListConversationFiles(chi.URLParam(r, "conversationID"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing files: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toRecords(files))
	}
}

func handleListUserFiles(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("uploaded_by")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "uploaded_by is required")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		files, err := deps.Store.ListUserFiles(userID, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing files: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toRecords(files))
	}
}

func handleGetFile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := deps.Store.GetFile(chi.URLParam(r, "fileID"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "file not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading file: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toRecord(f))
	}
}

func handleDownload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := deps.Store.GetFile(chi.URLParam(r, "fileID"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "file not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading file: %v", err)
			return
		}

		data, err := deps.Blobs.Read(f.StoredPath)
		if errors.Is(err, blob.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "file bytes not found on disk")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading file: %v", err)
			return
		}

		mimeType := f.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", mimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.OriginalFilename))
		w.Write(data)
	}
}

func handleDelete(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "fileID")

		f, err := deps.Store.GetFile(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "file not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading file: %v", err)
			return
		}

		// Ledger first: once the row is gone, a worker holding a claim will
		// fail its guarded commit and discard the result.
		if err := deps.Store.DeleteFile(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting file: %v", err)
			return
		}
		if err := deps.Blobs.Delete(f.StoredPath); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting file bytes: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
