package pipeline

import (
	"context"
	"strings"

	"github.com/codebuildervaibhav/media-analysis/internal/storage"
	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

// Reanalyzer re-runs stage 2 on a job's stored transcript with a new prompt
type Reanalyzer struct {
	store        storage.JobStore
	orchestrator *Orchestrator
}

// NewReanalyzer creates a re-analysis controller
func NewReanalyzer(store storage.JobStore, orchestrator *Orchestrator) *Reanalyzer {
	return &Reanalyzer{store: store, orchestrator: orchestrator}
}

// Reanalyze replaces the job's prompt and restarts analysis. It returns the
// job in state analyzing. When another run holds the job, it returns the
// current job together with ErrAlreadyRunning.
func (r *Reanalyzer) Reanalyze(ctx context.Context, jobID, prompt string) (*types.Job, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrPromptRequired
	}

	job, err := r.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.HasTranscript() {
		return nil, ErrNoTranscriptAvailable
	}

	return r.orchestrator.RunAnalysisOnly(ctx, jobID, prompt)
}
