package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/codebuildervaibhav/media-analysis/internal/fingerprint"
	"github.com/codebuildervaibhav/media-analysis/internal/metrics"
	"github.com/codebuildervaibhav/media-analysis/internal/storage"
	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

// Router is the entry point for uploads. It deduplicates by content hash
// and decides whether any new work is needed.
type Router struct {
	store         storage.JobStore
	orchestrator  *Orchestrator
	reanalyzer    *Reanalyzer
	metrics       *metrics.Metrics
	defaultPrompt string
	isSupported   func(filename string) bool
}

// NewRouter creates a dedup router. isSupported may be nil to accept all files.
func NewRouter(store storage.JobStore, orchestrator *Orchestrator, reanalyzer *Reanalyzer, m *metrics.Metrics, defaultPrompt string, isSupported func(string) bool) *Router {
	if defaultPrompt == "" {
		defaultPrompt = types.DefaultAnalysisPrompt
	}
	return &Router{
		store:         store,
		orchestrator:  orchestrator,
		reanalyzer:    reanalyzer,
		metrics:       m,
		defaultPrompt: defaultPrompt,
		isSupported:   isSupported,
	}
}

// Submit accepts content and returns its job. Identical content with the
// same or no prompt returns the existing job untouched; a different prompt
// triggers re-analysis; new content creates a job and starts the pipeline.
func (r *Router) Submit(ctx context.Context, content []byte, filename, prompt string) (*types.Job, error) {
	if r.isSupported != nil && !r.isSupported(filename) {
		return nil, ErrUnsupportedMedia
	}
	prompt = strings.TrimSpace(prompt)
	fp := fingerprint.Compute(content)

	job, err := r.store.FindByFingerprint(ctx, fp)
	if err == nil {
		return r.resolveExisting(ctx, job, content, prompt)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up fingerprint: %w", err)
	}

	analysisPrompt := prompt
	if analysisPrompt == "" {
		analysisPrompt = r.defaultPrompt
	}
	job, err = r.store.Create(ctx, types.NewJob{
		Fingerprint:    fp,
		Filename:       filename,
		AnalysisPrompt: analysisPrompt,
		FileSize:       int64(len(content)),
	})
	if errors.Is(err, storage.ErrConflict) {
		// lost a concurrent create for the same content
		job, err = r.store.FindByFingerprint(ctx, fp)
		if err != nil {
			return nil, fmt.Errorf("failed to load job after conflict: %w", err)
		}
		return r.resolveExisting(ctx, job, content, prompt)
	}
	if err != nil {
		return nil, err
	}

	r.metrics.Submitted(metrics.OutcomeCreated)
	log.Printf("Job %s created for %s (hash %s)", job.ID, filename, fp[:12])

	started, _, err := r.start(ctx, job, content, "")
	return started, err
}

// resolveExisting handles a fingerprint hit
func (r *Router) resolveExisting(ctx context.Context, job *types.Job, content []byte, prompt string) (*types.Job, error) {
	// no transcript and nothing running: a fresh attempt resumes stage 1
	if !job.HasTranscript() && (job.State == types.StatePending || job.State == types.StateFailed) {
		started, fresh, err := r.start(ctx, job, content, prompt)
		if err != nil {
			return nil, err
		}
		if fresh {
			r.metrics.Submitted(metrics.OutcomeRetry)
			log.Printf("Job %s: resubmitted, restarting pipeline", job.ID)
		} else {
			r.metrics.Submitted(metrics.OutcomeAlreadyRunning)
		}
		return started, nil
	}

	if prompt == "" || prompt == job.AnalysisPrompt {
		r.metrics.Submitted(metrics.OutcomeCacheHit)
		return job, nil
	}

	updated, err := r.reanalyzer.Reanalyze(ctx, job.ID, prompt)
	switch {
	case err == nil:
		r.metrics.Submitted(metrics.OutcomeReanalysis)
		log.Printf("Job %s: new prompt on resubmission, re-analyzing", job.ID)
		return updated, nil
	case errors.Is(err, ErrAlreadyRunning):
		r.metrics.Submitted(metrics.OutcomeAlreadyRunning)
		return updated, nil
	case errors.Is(err, ErrNoTranscriptAvailable):
		// still transcribing
		r.metrics.Submitted(metrics.OutcomeAlreadyRunning)
		return r.store.Get(ctx, job.ID)
	default:
		return nil, err
	}
}

// start begins a full run for snapshot. fresh is false when another caller
// already owns or has advanced the job, in which case the current job is
// returned without error.
func (r *Router) start(ctx context.Context, snapshot *types.Job, content []byte, prompt string) (job *types.Job, fresh bool, err error) {
	started, err := r.orchestrator.RunFull(ctx, snapshot.ID, content, prompt)
	switch {
	case err == nil:
		return started, true, nil
	case errors.Is(err, ErrAlreadyRunning):
		return started, false, nil
	case errors.Is(err, ErrInvalidTransition):
		// a concurrent submitter may have run the job between our lookup
		// and taking the lease
		current, getErr := r.store.Get(ctx, snapshot.ID)
		if getErr == nil && (current.State != snapshot.State || current.HasTranscript()) {
			return current, false, nil
		}
		return nil, false, err
	default:
		return nil, false, err
	}
}
