package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/provider"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }

type seqIDs struct {
	n int
}

func (s *seqIDs) NewID() string {
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}

type memJobs struct {
	jobs map[string]domain.Job
}

func (m *memJobs) Create(ctx context.Context, job *domain.Job) error {
	if _, ok := m.jobs[job.ID]; ok {
		return domain.ErrConflict
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *memJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := job
	return &copied, nil
}

func (m *memJobs) UpdateFromStatus(ctx context.Context, expected domain.JobStatus, job *domain.Job) error {
	stored, ok := m.jobs[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Status != expected {
		return domain.ErrConflict
	}
	m.jobs[job.ID] = *job
	return nil
}

type memBatches struct {
	batches map[string]domain.BatchJob
}

func (m *memBatches) Create(ctx context.Context, batch *domain.BatchJob) error {
	if _, ok := m.batches[batch.ID]; ok {
		return domain.ErrConflict
	}
	m.batches[batch.ID] = *batch
	return nil
}

func (m *memBatches) GetByID(ctx context.Context, batchID string) (*domain.BatchJob, error) {
	batch, ok := m.batches[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := batch
	return &copied, nil
}

func (m *memBatches) AdvanceProgress(ctx context.Context, expectedCompleted int, batch *domain.BatchJob) error {
	stored, ok := m.batches[batch.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.CompletedCount != expectedCompleted {
		return domain.ErrConflict
	}
	m.batches[batch.ID] = *batch
	return nil
}

type stubObjects struct {
	presignErr error
	objects    map[string][]byte
}

func (s *stubObjects) Read(ctx context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}
func (s *stubObjects) Write(ctx context.Context, key string, data []byte, contentType string) error {
	return nil
}
func (s *stubObjects) Copy(ctx context.Context, srcKey, dstKey string) error { return nil }
func (s *stubObjects) Delete(ctx context.Context, key string) error          { return nil }
func (s *stubObjects) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://bucket.test/" + key, nil
}
func (s *stubObjects) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.presignErr != nil {
		return "", s.presignErr
	}
	return "https://bucket.test/upload/" + key, nil
}

type healthProbe struct {
	name string
	err  error
}

func (p *healthProbe) Name() string { return p.name }
func (p *healthProbe) Analyze(ctx context.Context, req provider.AnalysisRequest) (string, error) {
	return "", p.err
}
func (p *healthProbe) Edit(ctx context.Context, req provider.EditRequest) (provider.EditResult, error) {
	return provider.EditResult{}, p.err
}
func (p *healthProbe) Ping(ctx context.Context) error { return p.err }

func newTestApp() (*App, *memJobs, *memBatches, *stubObjects) {
	jobs := &memJobs{jobs: map[string]domain.Job{}}
	batches := &memBatches{batches: map[string]domain.BatchJob{}}
	objects := &stubObjects{objects: map[string][]byte{}}
	app := &App{
		Jobs:      jobs,
		Batches:   batches,
		Objects:   objects,
		Registry:  provider.NewRegistryWithProviders(&healthProbe{name: "ok"}, &healthProbe{name: "ok"}),
		IDs:       &seqIDs{},
		Clock:     fixedClock{},
		Logger:    zerolog.Nop(),
		UploadTTL: time.Hour,
	}
	return app, jobs, batches, objects
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target, userID, body string, routeParams map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	if userID != "" {
		r.Header.Set("X-User-ID", userID)
	}
	if len(routeParams) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range routeParams {
			rctx.URLParams.Add(k, v)
		}
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}
	w := httptest.NewRecorder()
	handler(w, r)
	return w
}

func TestCreateJob(t *testing.T) {
	app, jobs, _, _ := newTestApp()

	w := doJSON(t, app.CreateJob, http.MethodPost, "/v1/jobs", "user-1",
		`{"prompt":"brighten it","file_name":"photo.png"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp createJobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "QUEUED" {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.StorageKey != "uploads/user-1/id-1/photo.png" {
		t.Fatalf("storage key = %q", resp.StorageKey)
	}
	if !strings.Contains(resp.UploadURL, resp.StorageKey) {
		t.Fatalf("upload url = %q", resp.UploadURL)
	}
	stored, ok := jobs.jobs[resp.JobID]
	if !ok || stored.Status != domain.JobStatusQueued {
		t.Fatalf("stored job = %+v", stored)
	}
	if stored.ExpiresAt != testNow.Add(time.Hour).Unix() {
		t.Fatalf("expires_at = %d", stored.ExpiresAt)
	}
}

func TestCreateJobRequiresUser(t *testing.T) {
	app, _, _, _ := newTestApp()
	w := doJSON(t, app.CreateJob, http.MethodPost, "/v1/jobs", "", `{"prompt":"x"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCreateJobRejectsPathFileName(t *testing.T) {
	app, _, _, _ := newTestApp()
	w := doJSON(t, app.CreateJob, http.MethodPost, "/v1/jobs", "user-1",
		`{"prompt":"x","file_name":"../escape.png"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestGetJobOwnershipAndResultURL(t *testing.T) {
	app, jobs, _, _ := newTestApp()
	jobs.jobs["job-1"] = domain.Job{
		ID:              "job-1",
		UserID:          "user-1",
		Status:          domain.JobStatusCompleted,
		FinalStorageKey: "results/user-1/job-1.png",
	}

	w := doJSON(t, app.GetJob, http.MethodGet, "/v1/jobs/job-1", "user-1", "", map[string]string{"id": "job-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var view map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view["result_url"] != "https://bucket.test/results/user-1/job-1.png" {
		t.Fatalf("result_url = %v", view["result_url"])
	}

	// Another user must not see the job.
	w = doJSON(t, app.GetJob, http.MethodGet, "/v1/jobs/job-1", "user-2", "", map[string]string{"id": "job-1"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("cross-user status = %d", w.Code)
	}
}

func TestGetJobMissing(t *testing.T) {
	app, _, _, _ := newTestApp()
	w := doJSON(t, app.GetJob, http.MethodGet, "/v1/jobs/ghost", "user-1", "", map[string]string{"id": "ghost"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCreateBatch(t *testing.T) {
	app, jobs, batches, _ := newTestApp()

	w := doJSON(t, app.CreateBatch, http.MethodPost, "/v1/batches", "user-1",
		`{"shared_prompt":"same look","items":[{"file_name":"a.png"},{"prompt":"warmer","file_name":"b.png"}]}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp createBatchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("items = %d", len(resp.Items))
	}
	batch := batches.batches[resp.BatchID]
	if batch.TotalCount != 2 || batch.CompletedCount != 0 {
		t.Fatalf("batch = %+v", batch)
	}
	if len(batch.ChildJobIDs) != 2 {
		t.Fatalf("child ids = %v", batch.ChildJobIDs)
	}
	first := jobs.jobs[resp.Items[0].JobID]
	if first.Prompt != "same look" {
		t.Fatalf("item without prompt should inherit shared prompt, got %q", first.Prompt)
	}
	second := jobs.jobs[resp.Items[1].JobID]
	if second.Prompt != "warmer" || second.BatchJobID != resp.BatchID {
		t.Fatalf("second child = %+v", second)
	}
}

func TestCreateBatchChildFailureLeavesNoBatch(t *testing.T) {
	app, jobs, batches, _ := newTestApp()
	// The batch takes id-1, the first child id-2; a pre-existing job with
	// that ID makes the child insert collide.
	jobs.jobs["id-2"] = domain.Job{ID: "id-2", UserID: "user-1", Status: domain.JobStatusQueued}

	w := doJSON(t, app.CreateBatch, http.MethodPost, "/v1/batches", "user-1",
		`{"shared_prompt":"same look","items":[{"file_name":"a.png"},{"file_name":"b.png"}]}`, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(batches.batches) != 0 {
		t.Fatalf("no batch row should exist when a child insert fails, got %+v", batches.batches)
	}
}

func TestCreateBatchValidation(t *testing.T) {
	app, _, _, _ := newTestApp()

	w := doJSON(t, app.CreateBatch, http.MethodPost, "/v1/batches", "user-1",
		`{"shared_prompt":"","items":[{"file_name":"a.png"}]}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing shared prompt: status = %d", w.Code)
	}

	w = doJSON(t, app.CreateBatch, http.MethodPost, "/v1/batches", "user-1",
		`{"shared_prompt":"x","items":[]}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty items: status = %d", w.Code)
	}
}

func TestGetBatch(t *testing.T) {
	app, _, batches, _ := newTestApp()
	batches.batches["batch-1"] = domain.BatchJob{
		ID:             "batch-1",
		UserID:         "user-1",
		Status:         domain.JobStatusProcessing,
		TotalCount:     3,
		CompletedCount: 1,
	}

	w := doJSON(t, app.GetBatch, http.MethodGet, "/v1/batches/batch-1", "user-1", "", map[string]string{"id": "batch-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var view map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view["completed_count"] != float64(1) || view["total_count"] != float64(3) {
		t.Fatalf("view = %v", view)
	}
}

func TestDownloadBatch(t *testing.T) {
	app, jobs, batches, objects := newTestApp()
	batches.batches["batch-1"] = domain.BatchJob{
		ID:          "batch-1",
		UserID:      "user-1",
		Status:      domain.JobStatusProcessing,
		TotalCount:  2,
		ChildJobIDs: []string{"job-1", "job-2"},
	}
	jobs.jobs["job-1"] = domain.Job{
		ID:              "job-1",
		UserID:          "user-1",
		Status:          domain.JobStatusCompleted,
		FinalStorageKey: "results/user-1/job-1.png",
	}
	jobs.jobs["job-2"] = domain.Job{ID: "job-2", UserID: "user-1", Status: domain.JobStatusProcessing}
	objects.objects["results/user-1/job-1.png"] = []byte("artifact")

	w := doJSON(t, app.DownloadBatch, http.MethodGet, "/v1/batches/batch-1/download", "user-1", "", map[string]string{"id": "batch-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type = %q", ct)
	}
	if w.Body.Len() == 0 {
		t.Fatalf("empty archive body")
	}
}

func TestDownloadBatchWithNoCompletedChildren(t *testing.T) {
	app, _, batches, _ := newTestApp()
	batches.batches["batch-1"] = domain.BatchJob{
		ID:          "batch-1",
		UserID:      "user-1",
		ChildJobIDs: []string{"job-1"},
	}

	w := doJSON(t, app.DownloadBatch, http.MethodGet, "/v1/batches/batch-1/download", "user-1", "", map[string]string{"id": "batch-1"})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHealthDegraded(t *testing.T) {
	app, _, _, _ := newTestApp()

	w := doJSON(t, app.Health, http.MethodGet, "/v1/healthz", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", w.Code)
	}

	app.Registry = provider.NewRegistryWithProviders(
		&healthProbe{name: "down", err: errors.New("unreachable")},
		&healthProbe{name: "ok"},
	)
	w = doJSON(t, app.Health, http.MethodGet, "/v1/healthz", "", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "degraded" {
		t.Fatalf("body = %v", body)
	}
}
