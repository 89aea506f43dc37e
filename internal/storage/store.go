package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

var (
	// ErrNotFound is returned when no job matches the id or fingerprint
	ErrNotFound = errors.New("job not found")

	// ErrConflict is returned by Create when the fingerprint already exists
	ErrConflict = errors.New("fingerprint already exists")

	// ErrStateMismatch is returned by Update when ExpectState no longer holds
	ErrStateMismatch = errors.New("job state changed concurrently")
)

// JobStore is a keyed record store for jobs. It is not a concurrency guard
// for the pipeline; it only guarantees fingerprint uniqueness on Create and
// compare-and-swap semantics on Update when ExpectState is set.
type JobStore interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (*types.Job, error)
	Create(ctx context.Context, job types.NewJob) (*types.Job, error)
	Get(ctx context.Context, id string) (*types.Job, error)
	Update(ctx context.Context, id string, update types.JobUpdate) (*types.Job, error)
	List(ctx context.Context, offset, limit int) ([]*types.Job, error)
	ListByState(ctx context.Context, states ...types.JobState) ([]*types.Job, error)
	Close() error
}

// applyUpdate mutates job in place. A transcript that is already set is
// never replaced. Strings are cloned so the job shares no memory with the
// caller.
func applyUpdate(job *types.Job, u types.JobUpdate, now time.Time) {
	if u.State != nil {
		job.State = *u.State
	}
	if u.AnalysisPrompt != nil {
		job.AnalysisPrompt = strings.Clone(*u.AnalysisPrompt)
	}
	if u.Transcript != nil && job.Transcript == nil {
		job.Transcript = types.StringPtr(strings.Clone(*u.Transcript))
	}
	if u.Duration != nil && job.Duration == nil {
		d := *u.Duration
		job.Duration = &d
	}
	if u.ClearAnalysisResult {
		job.AnalysisResult = nil
	}
	if u.AnalysisResult != nil {
		job.AnalysisResult = types.StringPtr(strings.Clone(*u.AnalysisResult))
	}
	if u.ClearErrorMessage {
		job.ErrorMessage = nil
	}
	if u.ErrorMessage != nil {
		job.ErrorMessage = types.StringPtr(strings.Clone(*u.ErrorMessage))
	}
	job.UpdatedAt = now
}

// cloneJob returns a deep copy so callers never share pointer fields
func cloneJob(job *types.Job) *types.Job {
	out := *job
	if job.Transcript != nil {
		out.Transcript = types.StringPtr(*job.Transcript)
	}
	if job.AnalysisResult != nil {
		out.AnalysisResult = types.StringPtr(*job.AnalysisResult)
	}
	if job.ErrorMessage != nil {
		out.ErrorMessage = types.StringPtr(*job.ErrorMessage)
	}
	if job.Duration != nil {
		d := *job.Duration
		out.Duration = &d
	}
	return &out
}
