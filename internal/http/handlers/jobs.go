package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/lifecycle"
	"server/internal/middleware"
)

// resultURLExpiry bounds the presigned download link handed to clients.
const resultURLExpiry = 15 * time.Minute

type createJobRequest struct {
	Prompt   string          `json:"prompt"`
	FileName string          `json:"file_name"`
	Settings json.RawMessage `json:"settings"`
}

type createJobResponse struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	UploadURL  string `json:"upload_url"`
	StorageKey string `json:"storage_key"`
}

// CreateJob registers a QUEUED job and hands back a presigned PUT URL.
// Processing starts when the upload event arrives on the queue.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	fileName, err := sanitizeFileName(req.FileName)
	if err != nil {
		a.domainError(w, err)
		return
	}

	locale := middleware.LocaleFromContext(r.Context())
	job, err := lifecycle.NewJob(userID, req.Prompt, locale, req.Settings, "", a.IDs, a.Clock)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if a.UploadTTL > 0 {
		job.ExpiresAt = a.Clock.Now().Add(a.UploadTTL).Unix()
	}

	storageKey := uploadKey(userID, job.ID, fileName)
	uploadURL, err := a.Objects.PresignPut(r.Context(), storageKey, a.UploadTTL)
	if err != nil {
		a.Logger.Error().Err(err).Str("storage_key", storageKey).Msg("http: presign upload failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not prepare upload")
		return
	}
	if err := a.Jobs.Create(r.Context(), &job); err != nil {
		a.domainError(w, err)
		return
	}

	a.json(w, http.StatusAccepted, createJobResponse{
		JobID:      job.ID,
		Status:     string(job.Status),
		UploadURL:  uploadURL,
		StorageKey: storageKey,
	})
}

// GetJob returns the job's current lifecycle snapshot. Completed jobs get
// a short-lived download URL for the final artifact.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "id")
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}

	view := map[string]any{
		"id":           job.ID,
		"status":       string(job.Status),
		"prompt":       job.Prompt,
		"locale":       job.Locale,
		"batch_job_id": job.BatchJobID,
		"created_at":   job.CreatedAt,
		"updated_at":   job.UpdatedAt,
	}
	if job.ErrorMessage != "" {
		view["error_message"] = job.ErrorMessage
	}
	if job.Status == domain.JobStatusCompleted && job.FinalStorageKey != "" {
		if url, err := a.Objects.PresignGet(r.Context(), job.FinalStorageKey, resultURLExpiry); err == nil {
			view["result_url"] = url
		} else {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("http: presign result failed")
		}
	}
	a.json(w, http.StatusOK, view)
}

func sanitizeFileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "image.png", nil
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return "", domain.NewValidationError("file_name", "must be a bare file name")
	}
	return name, nil
}

func uploadKey(userID, jobID, fileName string) string {
	return fmt.Sprintf("uploads/%s/%s/%s", userID, jobID, fileName)
}
