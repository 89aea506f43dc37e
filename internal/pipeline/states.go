package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codebuildervaibhav/media-analysis/internal/storage"
	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

// trigger identifies which entry point requested a transition
type trigger int

const (
	viaPipeline trigger = iota
	viaReanalysis
)

// edges lists every allowed transition; anything else is rejected
var edges = map[types.JobState][]types.JobState{
	types.StatePending:      {types.StateTranscribing},
	types.StateTranscribing: {types.StateAnalyzing, types.StateFailed},
	types.StateAnalyzing:    {types.StateCompleted, types.StateFailed},
	types.StateCompleted:    {types.StateAnalyzing},
	types.StateFailed:       {types.StateTranscribing, types.StateAnalyzing},
}

// CanTransition reports whether the state graph has an edge from -> to
func CanTransition(from, to types.JobState) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsActive reports whether a state means a stage is executing
func IsActive(state types.JobState) bool {
	return state == types.StateTranscribing || state == types.StateAnalyzing
}

// IsTerminal reports whether a state ends an attempt
func IsTerminal(state types.JobState) bool {
	return state == types.StateCompleted || state == types.StateFailed
}

// transition validates a move of job to state `to` and applies it together
// with the dependent fields in u as one store update. The update is guarded
// on the job's current state, so a stale snapshot cannot apply.
func transition(ctx context.Context, store storage.JobStore, job *types.Job, to types.JobState, u types.JobUpdate, by trigger) (*types.Job, error) {
	from := job.State
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	switch to {
	case types.StateTranscribing:
		if job.HasTranscript() {
			return nil, fmt.Errorf("%w: %s -> %s with transcript present", ErrInvalidTransition, from, to)
		}
		u.ClearErrorMessage = true

	case types.StateAnalyzing:
		if from == types.StateTranscribing {
			if by != viaPipeline {
				return nil, fmt.Errorf("%w: %s -> %s outside pipeline", ErrInvalidTransition, from, to)
			}
			if !nonEmpty(job.Transcript) && !nonEmpty(u.Transcript) {
				return nil, fmt.Errorf("%w: %s -> %s without transcript", ErrInvalidTransition, from, to)
			}
		} else {
			// completed or failed: only a re-analysis may restart stage 2
			if by != viaReanalysis {
				return nil, fmt.Errorf("%w: %s -> %s requires re-analysis", ErrInvalidTransition, from, to)
			}
			if !job.HasTranscript() {
				return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, ErrNoTranscriptAvailable)
			}
			u.AnalysisResult = nil
			u.ClearAnalysisResult = true
		}
		u.ClearErrorMessage = true

	case types.StateCompleted:
		if u.AnalysisResult == nil {
			return nil, fmt.Errorf("%w: %s -> %s without analysis result", ErrInvalidTransition, from, to)
		}

	case types.StateFailed:
		if u.ErrorMessage == nil {
			return nil, fmt.Errorf("%w: %s -> %s without error message", ErrInvalidTransition, from, to)
		}
	}

	if u.Transcript != nil && job.HasTranscript() {
		return nil, fmt.Errorf("%w: transcript already written", ErrInvalidTransition)
	}

	u.State = types.StatePtr(to)
	u.ExpectState = types.StatePtr(from)

	updated, err := store.Update(ctx, job.ID, u)
	if errors.Is(err, storage.ErrStateMismatch) {
		return nil, fmt.Errorf("%w: %s -> %s on stale snapshot", ErrInvalidTransition, from, to)
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func nonEmpty(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
