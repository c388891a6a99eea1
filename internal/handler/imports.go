package handler

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/almeidatech/quizbank/internal/i18n"
	"github.com/almeidatech/quizbank/internal/importer"
	"github.com/almeidatech/quizbank/internal/model"
)

// rowsPerMinute is the throughput assumption behind the completion estimate
// returned at upload time.
const rowsPerMinute = 500

func estimateMinutes(data []byte) int {
	// The first line is the header, not a data row.
	rows := bytes.Count(data, []byte("\n")) - 1
	if rows < 0 {
		rows = 0
	}
	return rows/rowsPerMinute + 1
}

func (h *Handler) handleUploadImport(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	if !h.limiter.Allow(strconv.FormatInt(user.ID, 10)) {
		respondError(w, r, http.StatusTooManyRequests, "RateLimited")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.config.MaxUploadBytes); err != nil {
		respondError(w, r, http.StatusRequestEntityTooLarge, "FileTooLarge")
		return
	}

	file, header, err := r.FormFile("csv_file")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "FileRequired")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	importID := importer.NewImportID()
	rec := model.ImportRecord{
		ID:          importID,
		AdminID:     user.ID,
		CSVFilename: header.Filename,
	}
	if err := h.store.CreateImport(rec); err != nil {
		slog.Error("failed to create import record", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	adminID := user.ID
	filename := header.Filename
	err = h.queue.Enqueue(func(ctx context.Context) {
		h.importer.ExecuteImport(ctx, importID, data, filename, adminID, nil)
	})
	if err != nil {
		slog.Warn("import rejected, queue unavailable", "import_id", importID, "error", err)
		_ = h.store.FailImport(importID, "queue unavailable: "+err.Error())
		respondError(w, r, http.StatusServiceUnavailable, "QueueFull")
		return
	}

	slog.Info("import queued", "import_id", importID, "filename", filename, "admin_id", adminID)
	respondJSON(w, http.StatusAccepted, map[string]any{
		"import_id":              importID,
		"status":                 model.ImportQueued,
		"filename":               filename,
		"estimated_time_minutes": estimateMinutes(data),
	})
}

func (h *Handler) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	progress, err := h.importer.Batch().Progress(r.Context(), importID)
	if err != nil {
		if errors.Is(err, importer.ErrImportNotFound) {
			respondError(w, r, http.StatusNotFound, "ImportNotFound")
			return
		}
		slog.Error("failed to load import progress", "import_id", importID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"import_id":        progress.ImportID,
		"status":           progress.Status,
		"processed":        progress.Processed,
		"total":            progress.Total,
		"successful":       progress.Successful,
		"failed":           progress.Failed,
		"progress_percent": progress.PercentComplete(),
	})
}

func (h *Handler) handleRollbackImport(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	deleted, err := h.importer.Batch().Rollback(r.Context(), importID)
	switch {
	case errors.Is(err, importer.ErrImportNotFound):
		respondError(w, r, http.StatusNotFound, "ImportNotFound")
		return
	case errors.Is(err, importer.ErrAlreadyRolledBack):
		respondError(w, r, http.StatusConflict, "ImportAlreadyRolledBack")
		return
	case errors.Is(err, importer.ErrImportNotCompleted):
		respondError(w, r, http.StatusConflict, "ImportNotCompleted")
		return
	case err != nil:
		slog.Error("rollback failed", "import_id", importID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("import rolled back", "import_id", importID, "deleted_count", deleted)
	respondJSON(w, http.StatusOK, map[string]any{
		"import_id":     importID,
		"status":        model.ImportRollback,
		"deleted_count": deleted,
		"message":       appI18n.Td(r.Context(), "RollbackComplete", map[string]any{"Count": deleted}),
	})
}

func (h *Handler) handleGetImport(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	rec, err := h.store.GetImport(importID)
	if err == sql.ErrNoRows {
		respondError(w, r, http.StatusNotFound, "ImportNotFound")
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ids, err := h.store.ImportQuestionIDs(importID)
	if err != nil {
		slog.Error("failed to load import question ids", "import_id", importID, "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"import":       rec,
		"question_ids": ids,
	})
}

func (h *Handler) handleListImports(w http.ResponseWriter, r *http.Request) {
	imports, err := h.store.ListImports()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, imports)
}
