package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/lifecycle"
	"server/internal/middleware"
	"server/pkg/zip"
)

// maxBatchItems caps a single batch submission.
const maxBatchItems = 10

type createBatchRequest struct {
	SharedPrompt string            `json:"shared_prompt"`
	Items        []createBatchItem `json:"items"`
}

type createBatchItem struct {
	Prompt   string `json:"prompt"`
	FileName string `json:"file_name"`
}

type batchItemResponse struct {
	JobID      string `json:"job_id"`
	UploadURL  string `json:"upload_url"`
	StorageKey string `json:"storage_key"`
}

type createBatchResponse struct {
	BatchID string              `json:"batch_id"`
	Status  string              `json:"status"`
	Items   []batchItemResponse `json:"items"`
}

// CreateBatch registers a batch and one QUEUED child job per item, each
// with its own presigned PUT URL. Children complete independently; the
// batch flips to COMPLETED when the last child does.
func (a *App) CreateBatch(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if len(req.Items) > maxBatchItems {
		a.domainError(w, domain.NewValidationError("items", "too many items"))
		return
	}

	locale := middleware.LocaleFromContext(r.Context())
	itemPrompts := make([]string, len(req.Items))
	for i, item := range req.Items {
		itemPrompts[i] = item.Prompt
	}
	batch, err := lifecycle.NewBatchJob(userID, req.SharedPrompt, itemPrompts, len(req.Items), a.IDs, a.Clock)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if a.UploadTTL > 0 {
		batch.ExpiresAt = a.Clock.Now().Add(a.UploadTTL).Unix()
	}

	jobs := make([]domain.Job, 0, len(req.Items))
	items := make([]batchItemResponse, 0, len(req.Items))
	for _, item := range req.Items {
		fileName, err := sanitizeFileName(item.FileName)
		if err != nil {
			a.domainError(w, err)
			return
		}
		prompt := item.Prompt
		if prompt == "" {
			prompt = req.SharedPrompt
		}
		job, err := lifecycle.NewJob(userID, prompt, locale, nil, batch.ID, a.IDs, a.Clock)
		if err != nil {
			a.domainError(w, err)
			return
		}
		job.ExpiresAt = batch.ExpiresAt

		storageKey := uploadKey(userID, job.ID, fileName)
		uploadURL, err := a.Objects.PresignPut(r.Context(), storageKey, a.UploadTTL)
		if err != nil {
			a.Logger.Error().Err(err).Str("storage_key", storageKey).Msg("http: presign upload failed")
			a.error(w, http.StatusInternalServerError, "internal", "could not prepare upload")
			return
		}
		batch.ChildJobIDs = append(batch.ChildJobIDs, job.ID)
		jobs = append(jobs, job)
		items = append(items, batchItemResponse{JobID: job.ID, UploadURL: uploadURL, StorageKey: storageKey})
	}

	// Children first: a batch row must never exist without all of its
	// children, or its completed count could never reach the total.
	for i := range jobs {
		if err := a.Jobs.Create(r.Context(), &jobs[i]); err != nil {
			a.domainError(w, err)
			return
		}
	}
	if err := a.Batches.Create(r.Context(), &batch); err != nil {
		a.domainError(w, err)
		return
	}

	a.json(w, http.StatusAccepted, createBatchResponse{
		BatchID: batch.ID,
		Status:  string(batch.Status),
		Items:   items,
	})
}

// DownloadBatch bundles the final artifacts of the batch's completed
// children into one zip archive. Children that are not COMPLETED yet are
// skipped; an entirely unfinished batch is a conflict.
func (a *App) DownloadBatch(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	batchID := chi.URLParam(r, "id")
	batch, err := a.Batches.GetByID(r.Context(), batchID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if batch.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}

	var entries []zip.Entry
	for _, childID := range batch.ChildJobIDs {
		job, err := a.Jobs.GetByID(r.Context(), childID)
		if err != nil || job.Status != domain.JobStatusCompleted || job.FinalStorageKey == "" {
			continue
		}
		data, err := a.Objects.Read(r.Context(), job.FinalStorageKey)
		if err != nil {
			a.Logger.Warn().Err(err).Str("job_id", childID).Msg("http: read final artifact failed")
			continue
		}
		entries = append(entries, zip.Entry{Name: job.ID + ".png", Data: data})
	}
	if len(entries) == 0 {
		a.error(w, http.StatusConflict, "conflict", "no completed artifacts to download")
		return
	}
	archive, err := zip.Archive(entries)
	if err != nil {
		a.Logger.Error().Err(err).Str("batch_id", batchID).Msg("http: archive batch failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not build archive")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", batchID+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// GetBatch returns the batch's aggregate progress.
func (a *App) GetBatch(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	batchID := chi.URLParam(r, "id")
	batch, err := a.Batches.GetByID(r.Context(), batchID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if batch.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":              batch.ID,
		"status":          string(batch.Status),
		"total_count":     batch.TotalCount,
		"completed_count": batch.CompletedCount,
		"shared_prompt":   batch.SharedPrompt,
		"child_job_ids":   batch.ChildJobIDs,
		"created_at":      batch.CreatedAt,
		"updated_at":      batch.UpdatedAt,
	})
}
