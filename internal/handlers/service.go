package handlers

import (
	"context"

	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

// JobService is the part of the pipeline the HTTP layer depends on
type JobService interface {
	Submit(ctx context.Context, content []byte, filename, prompt string) (*types.Job, error)
	Reanalyze(ctx context.Context, jobID, prompt string) (*types.Job, error)
	Get(ctx context.Context, jobID string) (*types.Job, error)
	List(ctx context.Context, offset, limit int) ([]*types.Job, error)
	Running(jobID string) bool
}
