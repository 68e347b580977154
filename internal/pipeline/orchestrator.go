// Package pipeline drives an arrived image through the full job lifecycle:
// PROCESSING (analysis) -> EDITING (edit) -> COMPLETED, or FAILED. It is
// invoked by an at-least-once queue consumer; duplicate deliveries are
// fenced by the repositories' conditional-write contract, so the pipeline
// itself holds no locks and caches no state between invocations.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/lifecycle"
	"server/internal/provider"
)

// Arrival is the parsed object-created descriptor for one uploaded image.
type Arrival struct {
	OwnerID    string
	JobID      string
	FileName   string
	StorageKey string
}

// presignExpiry bounds the read URLs handed to providers.
const presignExpiry = 15 * time.Minute

// Orchestrator coordinates the stores, the provider gateways and the
// notifier for one arrival at a time.
type Orchestrator struct {
	jobs       domain.JobRepository
	batches    domain.BatchRepository
	objects    domain.ObjectStore
	notifier   domain.NotificationDispatcher
	registry   *provider.Registry
	analysisGW *provider.Gateway
	editingGW  *provider.Gateway
	fetcher    provider.Fetcher
	clock      infra.Clock
	logger     infra.Logger
}

// Options wires an Orchestrator. All fields except Fetcher and Clock are
// required.
type Options struct {
	Jobs            domain.JobRepository
	Batches         domain.BatchRepository
	Objects         domain.ObjectStore
	Notifier        domain.NotificationDispatcher
	Registry        *provider.Registry
	AnalysisGateway *provider.Gateway
	EditingGateway  *provider.Gateway
	Fetcher         provider.Fetcher
	Clock           infra.Clock
	Logger          infra.Logger
}

// NewOrchestrator builds the pipeline with explicit dependencies.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("pipeline: job repository is required")
	case opts.Batches == nil:
		return nil, errors.New("pipeline: batch repository is required")
	case opts.Objects == nil:
		return nil, errors.New("pipeline: object store is required")
	case opts.Notifier == nil:
		return nil, errors.New("pipeline: notifier is required")
	case opts.Registry == nil:
		return nil, errors.New("pipeline: provider registry is required")
	case opts.AnalysisGateway == nil || opts.EditingGateway == nil:
		return nil, errors.New("pipeline: provider gateways are required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = infra.SystemClock{}
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = provider.NewHTTPFetcher(nil)
	}
	return &Orchestrator{
		jobs:       opts.Jobs,
		batches:    opts.Batches,
		objects:    opts.Objects,
		notifier:   opts.Notifier,
		registry:   opts.Registry,
		analysisGW: opts.AnalysisGateway,
		editingGW:  opts.EditingGateway,
		fetcher:    fetcher,
		clock:      clock,
		logger:     opts.Logger,
	}, nil
}

// HandleArrivals processes a delivered batch of arrivals strictly
// sequentially. The first failure aborts the remainder and propagates so
// the queue's redelivery count reflects the true failure.
func (o *Orchestrator) HandleArrivals(ctx context.Context, arrivals []Arrival) error {
	for _, arrival := range arrivals {
		if err := o.HandleArrival(ctx, arrival); err != nil {
			return err
		}
	}
	return nil
}

// HandleArrival drives one arrival through the lifecycle. A missing job
// record is logged and dropped (nil error) because the event can never be
// serviced; every other failure records the job as FAILED, notifies and
// propagates for the queue's redelivery policy.
func (o *Orchestrator) HandleArrival(ctx context.Context, arrival Arrival) error {
	log := o.logger.With().
		Str("job_id", arrival.JobID).
		Str("owner_id", arrival.OwnerID).
		Logger()

	job, err := o.jobs.GetByID(ctx, arrival.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Error().Str("storage_key", arrival.StorageKey).Msg("pipeline: no job record for arrival, dropping")
			return nil
		}
		return fmt.Errorf("pipeline: load job: %w: %v", domain.ErrInternal, err)
	}

	if err := o.process(ctx, *job, arrival, log); err != nil {
		o.failJob(ctx, arrival.JobID, err, log)
		return err
	}
	return nil
}

func (o *Orchestrator) process(ctx context.Context, job domain.Job, arrival Arrival, log infra.Logger) error {
	// QUEUED -> PROCESSING with the upload's temp key.
	moved, err := lifecycle.StartProcessing(job, arrival.StorageKey, o.clock)
	if err != nil {
		return err
	}
	if err := o.jobs.UpdateFromStatus(ctx, domain.JobStatusQueued, &moved); err != nil {
		return fmt.Errorf("pipeline: record PROCESSING: %w", err)
	}
	job = moved

	analysisText := o.runAnalysis(ctx, job, log)

	// PROCESSING -> EDITING.
	moved, err = lifecycle.StartEditing(job, o.clock)
	if err != nil {
		return err
	}
	if err := o.jobs.UpdateFromStatus(ctx, domain.JobStatusProcessing, &moved); err != nil {
		return fmt.Errorf("pipeline: record EDITING: %w", err)
	}
	job = moved

	finalKey := finalStorageKey(job)
	if err := o.runEditing(ctx, job, analysisText, finalKey, log); err != nil {
		return err
	}

	// EDITING -> COMPLETED.
	moved, err = lifecycle.Complete(job, finalKey, o.clock)
	if err != nil {
		return err
	}
	if err := o.jobs.UpdateFromStatus(ctx, domain.JobStatusEditing, &moved); err != nil {
		return fmt.Errorf("pipeline: record COMPLETED: %w", err)
	}
	job = moved

	if job.BatchJobID != "" {
		o.recordBatchProgress(ctx, job, log)
	}
	o.dispatch(ctx, completionNotification(job, o.clock.Now()), log)
	o.cleanupTempArtifacts(ctx, job, log)

	log.Info().Str("final_key", job.FinalStorageKey).Msg("pipeline: job completed")
	return nil
}

// runAnalysis invokes the analysis provider under the gateway and returns
// its text, or a generic fallback when the call fails; analysis failure
// never aborts the job.
func (o *Orchestrator) runAnalysis(ctx context.Context, job domain.Job, log infra.Logger) string {
	imageURL, err := o.objects.PresignGet(ctx, job.TempStorageKey, presignExpiry)
	if err != nil {
		log.Warn().Err(err).Msg("pipeline: presign for analysis failed, using fallback analysis")
		return fallbackAnalysis(job.Locale)
	}
	prompt := job.Prompt
	if prompt == "" {
		prompt = defaultPrompt(job.Locale)
	}
	outcome := o.analysisGW.Invoke(ctx, func(ctx context.Context) (any, error) {
		return o.registry.Analysis().Analyze(ctx, provider.AnalysisRequest{ImageURL: imageURL, Prompt: prompt})
	})
	if !outcome.Success {
		log.Warn().
			Str("provider", outcome.Provider).
			Str("error", outcome.Error).
			Dur("elapsed", outcome.Elapsed).
			Msg("pipeline: analysis failed, using fallback analysis")
		return fallbackAnalysis(job.Locale)
	}
	text, ok := outcome.Payload.(string)
	if !ok || text == "" {
		log.Warn().Str("provider", outcome.Provider).Msg("pipeline: empty analysis payload, using fallback analysis")
		return fallbackAnalysis(job.Locale)
	}
	log.Debug().Str("provider", outcome.Provider).Dur("elapsed", outcome.Elapsed).Msg("pipeline: analysis done")
	return text
}

// runEditing invokes the editing provider and persists a final artifact
// under finalKey. Editing failure, a missing result reference or a failed
// result fetch all degrade to copying the analyzed image forward; the
// pipeline always produces some final artifact.
func (o *Orchestrator) runEditing(ctx context.Context, job domain.Job, analysisText, finalKey string, log infra.Logger) error {
	var editFailure *domain.ProviderError
	imageURL, presignErr := o.objects.PresignGet(ctx, job.TempStorageKey, presignExpiry)
	if presignErr == nil {
		outcome := o.editingGW.Invoke(ctx, func(ctx context.Context) (any, error) {
			return o.registry.Editing().Edit(ctx, provider.EditRequest{
				ImageURL:            imageURL,
				Analysis:            analysisText,
				EditingInstructions: editingInstructions(job),
			})
		})
		if outcome.Success {
			if result, ok := outcome.Payload.(provider.EditResult); ok {
				if o.persistEditResult(ctx, result, finalKey, log) {
					log.Debug().Str("provider", outcome.Provider).Dur("elapsed", outcome.Elapsed).Msg("pipeline: edit done")
					return nil
				}
			} else {
				log.Warn().Str("provider", outcome.Provider).Msg("pipeline: edit outcome missing result reference")
			}
		} else {
			log.Warn().
				Str("provider", outcome.Provider).
				Str("error", outcome.Error).
				Msg("pipeline: edit failed, falling back to passthrough")
			editFailure = &domain.ProviderError{
				Provider:  outcome.Provider,
				Retryable: true,
				Cause:     errors.New(outcome.Error),
			}
		}
	} else {
		log.Warn().Err(presignErr).Msg("pipeline: presign for editing failed, falling back to passthrough")
	}

	// Best-effort passthrough: promote the pre-edit image as the final
	// artifact. Flagged for product review, preserved as shipped.
	if err := o.objects.Copy(ctx, job.TempStorageKey, finalKey); err != nil {
		if editFailure != nil {
			// Surface the provider failure as the cause; the refused
			// passthrough means there is nothing left to degrade to.
			editFailure.Cause = fmt.Errorf("%v; passthrough copy: %w", editFailure.Cause, err)
			return editFailure
		}
		return fmt.Errorf("pipeline: passthrough copy: %w", err)
	}
	return nil
}

// persistEditResult writes the edited bytes under finalKey, fetching them
// when the provider only returned a reference. Returns false when the
// passthrough fallback should run instead.
func (o *Orchestrator) persistEditResult(ctx context.Context, result provider.EditResult, finalKey string, log infra.Logger) bool {
	data := result.Data
	if len(data) == 0 {
		if result.ResultURL == "" {
			log.Warn().Msg("pipeline: edit result carries neither bytes nor reference")
			return false
		}
		fetched, err := o.fetcher.Fetch(ctx, result.ResultURL)
		if err != nil {
			log.Warn().Err(err).Str("result_url", result.ResultURL).Msg("pipeline: fetch edited image failed")
			return false
		}
		data = fetched
	}
	if err := o.objects.Write(ctx, finalKey, data, "image/png"); err != nil {
		log.Warn().Err(err).Str("final_key", finalKey).Msg("pipeline: persist edited image failed")
		return false
	}
	return true
}

// failJob records FAILED with the original error text and dispatches a
// failure notification. It is best effort: a job already moved on by a
// concurrent delivery loses the conditional write, which is logged and
// left alone.
func (o *Orchestrator) failJob(ctx context.Context, jobID string, cause error, log infra.Logger) {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Msg("pipeline: reload job for failure record failed")
		return
	}
	failed, err := lifecycle.Fail(*job, cause.Error(), o.clock)
	if err != nil {
		log.Warn().Err(err).Str("status", string(job.Status)).Msg("pipeline: job not failable")
		return
	}
	if err := o.jobs.UpdateFromStatus(ctx, job.Status, &failed); err != nil {
		log.Error().Err(err).Msg("pipeline: record FAILED lost conditional write")
		return
	}
	o.dispatch(ctx, failureNotification(failed, o.clock.Now()), log)
}

// dispatch sends a notification; delivery failures are logged and
// swallowed so a completed job is never failed by its own announcement.
func (o *Orchestrator) dispatch(ctx context.Context, n domain.Notification, log infra.Logger) {
	if err := o.notifier.Dispatch(ctx, n); err != nil {
		log.Error().Err(err).Str("status", string(n.Status)).Msg("pipeline: notification dispatch failed")
	}
}

// cleanupTempArtifacts deletes the upload-stage object once the final
// artifact exists. Failures are logged; the store's retention sweep is the
// backstop.
func (o *Orchestrator) cleanupTempArtifacts(ctx context.Context, job domain.Job, log infra.Logger) {
	if job.TempStorageKey == "" || job.TempStorageKey == job.FinalStorageKey {
		return
	}
	if err := o.objects.Delete(ctx, job.TempStorageKey); err != nil {
		log.Warn().Err(err).Str("temp_key", job.TempStorageKey).Msg("pipeline: temp artifact cleanup failed")
	}
}

// finalStorageKey derives the deterministic final location for a job's
// artifact.
func finalStorageKey(job domain.Job) string {
	return fmt.Sprintf("results/%s/%s.png", job.UserID, job.ID)
}

// editingInstructions picks what the editor is asked to do: the user's
// prompt when present, the locale default otherwise.
func editingInstructions(job domain.Job) string {
	if job.Prompt != "" {
		return job.Prompt
	}
	return defaultPrompt(job.Locale)
}
