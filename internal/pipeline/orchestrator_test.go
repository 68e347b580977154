package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/provider"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// memJobs implements domain.JobRepository with the conditional-write
// contract the pipeline relies on.
type memJobs struct {
	jobs    map[string]domain.Job
	updates int
	getErr  error
}

func newMemJobs(jobs ...domain.Job) *memJobs {
	m := &memJobs{jobs: map[string]domain.Job{}}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memJobs) Create(ctx context.Context, job *domain.Job) error {
	if _, ok := m.jobs[job.ID]; ok {
		return domain.ErrConflict
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *memJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
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
	m.updates++
	return nil
}

type memBatches struct {
	batches   map[string]domain.BatchJob
	getErr    error
	conflicts int // fail the first N AdvanceProgress calls with ErrConflict
}

func newMemBatches(batches ...domain.BatchJob) *memBatches {
	m := &memBatches{batches: map[string]domain.BatchJob{}}
	for _, b := range batches {
		m.batches[b.ID] = b
	}
	return m
}

func (m *memBatches) Create(ctx context.Context, batch *domain.BatchJob) error {
	if _, ok := m.batches[batch.ID]; ok {
		return domain.ErrConflict
	}
	m.batches[batch.ID] = *batch
	return nil
}

func (m *memBatches) GetByID(ctx context.Context, batchID string) (*domain.BatchJob, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	batch, ok := m.batches[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := batch
	return &copied, nil
}

func (m *memBatches) AdvanceProgress(ctx context.Context, expectedCompleted int, batch *domain.BatchJob) error {
	if m.conflicts > 0 {
		m.conflicts--
		return domain.ErrConflict
	}
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

type memObjects struct {
	objects  map[string][]byte
	deleted  []string
	writeErr error
	copyErr  error
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}}
}

func (m *memObjects) Read(ctx context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (m *memObjects) Write(ctx context.Context, key string, data []byte, contentType string) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.objects[key] = data
	return nil
}

func (m *memObjects) Copy(ctx context.Context, srcKey, dstKey string) error {
	if m.copyErr != nil {
		return m.copyErr
	}
	data, ok := m.objects[srcKey]
	if !ok {
		return fmt.Errorf("object %s not found", srcKey)
	}
	m.objects[dstKey] = data
	return nil
}

func (m *memObjects) Delete(ctx context.Context, key string) error {
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memObjects) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://bucket.test/" + key, nil
}

func (m *memObjects) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://bucket.test/upload/" + key, nil
}

type recordingNotifier struct {
	sent []domain.Notification
	err  error
}

func (n *recordingNotifier) Dispatch(ctx context.Context, notification domain.Notification) error {
	n.sent = append(n.sent, notification)
	return n.err
}

type scriptedAnalyzer struct {
	text    string
	err     error
	calls   int
	lastReq provider.AnalysisRequest
}

func (a *scriptedAnalyzer) Name() string { return "scripted-analyzer" }

func (a *scriptedAnalyzer) Analyze(ctx context.Context, req provider.AnalysisRequest) (string, error) {
	a.calls++
	a.lastReq = req
	return a.text, a.err
}

func (a *scriptedAnalyzer) Ping(ctx context.Context) error { return a.err }

type scriptedEditor struct {
	result  provider.EditResult
	err     error
	calls   int
	lastReq provider.EditRequest
}

func (e *scriptedEditor) Name() string { return "scripted-editor" }

func (e *scriptedEditor) Edit(ctx context.Context, req provider.EditRequest) (provider.EditResult, error) {
	e.calls++
	e.lastReq = req
	return e.result, e.err
}

func (e *scriptedEditor) Ping(ctx context.Context) error { return e.err }

type scriptedFetcher struct {
	data  []byte
	err   error
	calls int
}

func (f *scriptedFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

func zeroSleep(ctx context.Context, d time.Duration) error { return nil }

type fixture struct {
	orch     *Orchestrator
	jobs     *memJobs
	batches  *memBatches
	objects  *memObjects
	notifier *recordingNotifier
	analyzer *scriptedAnalyzer
	editor   *scriptedEditor
	fetcher  *scriptedFetcher
}

func newFixture(t *testing.T, jobs ...domain.Job) *fixture {
	t.Helper()
	f := &fixture{
		jobs:     newMemJobs(jobs...),
		batches:  newMemBatches(),
		objects:  newMemObjects(),
		notifier: &recordingNotifier{},
		analyzer: &scriptedAnalyzer{text: "a crisp product photo"},
		editor:   &scriptedEditor{result: provider.EditResult{Data: []byte("edited-bytes")}},
		fetcher:  &scriptedFetcher{},
	}
	clock := fixedClock{testNow}
	orch, err := NewOrchestrator(Options{
		Jobs:            f.jobs,
		Batches:         f.batches,
		Objects:         f.objects,
		Notifier:        f.notifier,
		Registry:        provider.NewRegistryWithProviders(f.analyzer, f.editor),
		AnalysisGateway: provider.NewGateway(provider.GatewayConfig{Name: "analysis", Timeout: time.Second, Retries: 3}, clock, zeroSleep),
		EditingGateway:  provider.NewGateway(provider.GatewayConfig{Name: "editing", Timeout: time.Second, Retries: 1}, clock, zeroSleep),
		Fetcher:         f.fetcher,
		Clock:           clock,
		Logger:          zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.Disabled),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	f.orch = orch
	return f
}

func queuedJob(id string) domain.Job {
	return domain.Job{
		ID:        id,
		UserID:    "user-1",
		Status:    domain.JobStatusQueued,
		Prompt:    "make the colors pop",
		Locale:    "en-US",
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
}

func arrivalFor(job domain.Job) Arrival {
	return Arrival{
		OwnerID:    job.UserID,
		JobID:      job.ID,
		FileName:   "photo.png",
		StorageKey: "uploads/" + job.UserID + "/" + job.ID + "/photo.png",
	}
}

func TestHandleArrivalHappyPath(t *testing.T) {
	job := queuedJob("job-1")
	f := newFixture(t, job)
	arrival := arrivalFor(job)
	f.objects.objects[arrival.StorageKey] = []byte("original-bytes")

	if err := f.orch.HandleArrival(context.Background(), arrival); err != nil {
		t.Fatalf("HandleArrival: %v", err)
	}

	stored := f.jobs.jobs["job-1"]
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", stored.Status)
	}
	if stored.TempStorageKey != arrival.StorageKey {
		t.Fatalf("temp key = %q", stored.TempStorageKey)
	}
	wantFinal := "results/user-1/job-1.png"
	if stored.FinalStorageKey != wantFinal {
		t.Fatalf("final key = %q, want %q", stored.FinalStorageKey, wantFinal)
	}
	if string(f.objects.objects[wantFinal]) != "edited-bytes" {
		t.Fatalf("final artifact = %q", f.objects.objects[wantFinal])
	}
	if f.analyzer.calls != 1 || f.editor.calls != 1 {
		t.Fatalf("provider calls = %d/%d", f.analyzer.calls, f.editor.calls)
	}
	if f.editor.lastReq.Analysis != "a crisp product photo" {
		t.Fatalf("editor analysis input = %q", f.editor.lastReq.Analysis)
	}
	if f.editor.lastReq.EditingInstructions != "make the colors pop" {
		t.Fatalf("editing instructions = %q", f.editor.lastReq.EditingInstructions)
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notifier.sent))
	}
	if f.notifier.sent[0].Status != domain.JobStatusCompleted || f.notifier.sent[0].JobID != "job-1" {
		t.Fatalf("notification = %+v", f.notifier.sent[0])
	}
	if len(f.objects.deleted) != 1 || f.objects.deleted[0] != arrival.StorageKey {
		t.Fatalf("temp cleanup = %v", f.objects.deleted)
	}
}

func TestHandleArrivalMissingJobIsDropped(t *testing.T) {
	f := newFixture(t)
	err := f.orch.HandleArrival(context.Background(), Arrival{JobID: "ghost", StorageKey: "uploads/x"})
	if err != nil {
		t.Fatalf("missing job must be dropped, got %v", err)
	}
	if f.analyzer.calls != 0 || len(f.notifier.sent) != 0 {
		t.Fatalf("no work expected for missing job")
	}
}

func TestHandleArrivalLoadFailurePropagatesAsInternal(t *testing.T) {
	f := newFixture(t)
	f.jobs.getErr = errors.New("connection reset")

	err := f.orch.HandleArrival(context.Background(), Arrival{JobID: "job-1", StorageKey: "uploads/x"})
	if err == nil {
		t.Fatalf("expected load failure to propagate")
	}
	if !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("error = %v, want internal", err)
	}
	if f.analyzer.calls != 0 || len(f.notifier.sent) != 0 {
		t.Fatalf("no work expected when the job cannot be loaded")
	}
}

func TestHandleArrivalAnalysisFailureUsesFallback(t *testing.T) {
	job := queuedJob("job-1")
	f := newFixture(t, job)
	f.analyzer.err = errors.New("model overloaded")
	arrival := arrivalFor(job)
	f.objects.objects[arrival.StorageKey] = []byte("original-bytes")

	if err := f.orch.HandleArrival(context.Background(), arrival); err != nil {
		t.Fatalf("HandleArrival: %v", err)
	}
	// retries=3 means the permanently failing analyzer is invoked 4 times.
	if f.analyzer.calls != 4 {
		t.Fatalf("analyzer calls = %d, want 4", f.analyzer.calls)
	}
	if f.jobs.jobs["job-1"].Status != domain.JobStatusCompleted {
		t.Fatalf("job should complete despite analysis failure")
	}
	if !strings.Contains(f.editor.lastReq.Analysis, "user-submitted product photo") {
		t.Fatalf("editor should receive fallback analysis, got %q", f.editor.lastReq.Analysis)
	}
}

func TestHandleArrivalEditingFailureFallsBackToPassthrough(t *testing.T) {
	job := queuedJob("job-1")
	f := newFixture(t, job)
	f.editor.err = errors.New("edit service down")
	arrival := arrivalFor(job)
	f.objects.objects[arrival.StorageKey] = []byte("original-bytes")

	if err := f.orch.HandleArrival(context.Background(), arrival); err != nil {
		t.Fatalf("HandleArrival: %v", err)
	}
	stored := f.jobs.jobs["job-1"]
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", stored.Status)
	}
	if string(f.objects.objects[stored.FinalStorageKey]) != "original-bytes" {
		t.Fatalf("passthrough should promote the original bytes")
	}
	// editing gateway is configured with retries=1.
	if f.editor.calls != 2 {
		t.Fatalf("editor calls = %d, want 2", f.editor.calls)
	}
}

func TestHandleArrivalFetchesEditResultReference(t *testing.T) {
	job := queuedJob("job-1")
	f := newFixture(t, job)
	f.editor.result = provider.EditResult{ResultURL: "https://cdn.test/edited.png"}
	f.fetcher.data = []byte("fetched-bytes")
	arrival := arrivalFor(job)
	f.objects.objects[arrival.StorageKey] = []byte("original-bytes")

	if err := f.orch.HandleArrival(context.Background(), arrival); err != nil {
		t.Fatalf("HandleArrival: %v", err)
	}
	if f.fetcher.calls != 1 {
		t.Fatalf("fetcher calls = %d", f.fetcher.calls)
	}
	stored := f.jobs.jobs["job-1"]
	if string(f.objects.objects[stored.FinalStorageKey]) != "fetched-bytes" {
		t.Fatalf("final artifact = %q", f.objects.objects[stored.FinalStorageKey])
	}
}

func TestHandleArrivalFetchFailureFallsBackToPassthrough(t *testing.T) {
	job := queuedJob("job-1")
	f := newFixture(t, job)
	f.editor.result = provider.EditResult{ResultURL: "https://cdn.test/edited.png"}
	f.fetcher.err = errors.New("result gone")
	arrival := arrivalFor(job)
	f.objects.objects[arrival.StorageKey] = []byte("original-bytes")

	if err := f.orch.HandleArrival(context.Background(), arrival); err != nil {
		t.Fatalf("HandleArrival: %v", err)
	}
	stored := f.jobs.jobs["job-1"]
	if string(f.objects.objects[stored.FinalStorageKey]) != "original-bytes" {
		t.Fatalf("expected passthrough after fetch failure")
	}
}

func TestHandleArrivalPassthroughFailureFailsJob(t *testing.T) {
	job := queuedJob("job-1")
	f := newFixture(t, job)
	f.editor.err = errors.New("edit service down")
	f.objects.copyErr = errors.New("bucket unavailable")
	arrival := arrivalFor(job)
	f.objects.objects[arrival.StorageKey] = []byte("original-bytes")

	err := f.orch.HandleArrival(context.Background(), arrival)
	if err == nil {
		t.Fatalf("expected error when no final artifact can be produced")
	}
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("error = %v, want provider failure", err)
	}
	var provErr *domain.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("error = %T, want *domain.ProviderError", err)
	}
	if provErr.Provider != "editing" || !provErr.Retryable {
		t.Fatalf("provider error = %+v", provErr)
	}
	if !strings.Contains(provErr.Error(), "edit service down") {
		t.Fatalf("provider error = %q, want underlying edit failure", provErr.Error())
	}
	stored := f.jobs.jobs["job-1"]
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Fatalf("failed job must carry an error message")
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].Status != domain.JobStatusFailed {
		t.Fatalf("expected one failure notification, got %+v", f.notifier.sent)
	}
}

func TestHandleArrivalDuplicateDeliveryOfCompletedJob(t *testing.T) {
	job := queuedJob("job-1")
	job.Status = domain.JobStatusCompleted
	job.FinalStorageKey = "results/user-1/job-1.png"
	f := newFixture(t, job)

	err := f.orch.HandleArrival(context.Background(), arrivalFor(job))
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	stored := f.jobs.jobs["job-1"]
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("terminal job must stay COMPLETED, got %s", stored.Status)
	}
	if len(f.notifier.sent) != 0 {
		t.Fatalf("no notification expected for rejected duplicate")
	}
}

func TestHandleArrivalsSequentialAbort(t *testing.T) {
	good := queuedJob("job-1")
	bad := queuedJob("job-2")
	bad.Status = domain.JobStatusFailed
	bad.ErrorMessage = "earlier failure"
	after := queuedJob("job-3")
	f := newFixture(t, good, bad, after)
	arrivals := []Arrival{arrivalFor(good), arrivalFor(bad), arrivalFor(after)}
	for _, a := range arrivals {
		f.objects.objects[a.StorageKey] = []byte("bytes")
	}

	err := f.orch.HandleArrivals(context.Background(), arrivals)
	if err == nil {
		t.Fatalf("expected propagation of the second arrival's failure")
	}
	if f.jobs.jobs["job-1"].Status != domain.JobStatusCompleted {
		t.Fatalf("first arrival should have completed")
	}
	if f.jobs.jobs["job-3"].Status != domain.JobStatusQueued {
		t.Fatalf("third arrival must not run after a failure")
	}
}
