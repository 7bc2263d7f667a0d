package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/attachd/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

func handleReprocess(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "fileID")

		err := deps.Store.RequeueFile(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "file not found")
			return
		}
		if errors.Is(err, storage.ErrInvalidTransition) {
			httpError(w, http.StatusConflict, "conflict", "file is currently being processed")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "requeueing file: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
	}
}

func handleDoNotProcess(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "fileID")

		err := deps.Store.MarkDoNotProcess(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "file not found")
			return
		}
		if errors.Is(err, storage.ErrInvalidTransition) {
			httpError(w, http.StatusConflict, "conflict",
				"file cannot be excluded in its current state")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "excluding file: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "do_not_process"})
	}
}

func handleAnnotation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "fileID")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Annotation string `json:"annotation"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		err := deps.Store.SetAnnotation(id, req.Annotation)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "file not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "setting annotation: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleImportant(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "fileID")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Important bool `json:"important"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		err := deps.Store.SetImportant(id, req.Important)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "file not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "setting importance: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "important": req.Important})
	}
}

func handleImportantFiles(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Projects == nil {
			httpError(w, http.StatusNotFound, "not_found", "project lookups are not configured")
			return
		}

		projectID := chi.URLParam(r, "projectID")
		conversations, err := deps.Projects.ConversationsForProject(r.Context(), projectID)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "resolving project conversations: %v", err)
			return
		}

		files, err := deps.Store.ListImportantFiles(conversations)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing important files: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toRecords(files))
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		counts, err := deps.Store.CountByStatus()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "counting files: %v", err)
			return
		}

		stats := make(map[string]int, len(counts))
		total := 0
		for status, n := range counts {
			stats[status.String()] = n
			total += n
		}
		writeJSON(w, http.StatusOK, map[string]any{"total": total, "by_status": stats})
	}
}
