package pipeline

import (
	"errors"

	"github.com/codebuildervaibhav/media-analysis/internal/storage"
)

var (
	// ErrUnsupportedMedia is returned by Submit before any job exists
	ErrUnsupportedMedia = errors.New("unsupported media type")

	// ErrInvalidTransition signals a state machine violation. Under correct
	// lease discipline it never happens; seeing it means a bug.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrAlreadyRunning is returned when another run holds the job's lease.
	// It is an expected condition: callers should report the current state.
	ErrAlreadyRunning = errors.New("processing already in progress")

	// ErrNoTranscriptAvailable is returned when re-analysis is requested
	// before a transcript exists
	ErrNoTranscriptAvailable = errors.New("no transcript available for analysis")

	// ErrPromptRequired is returned when re-analysis has an empty prompt
	ErrPromptRequired = errors.New("analysis prompt is required")

	// ErrShuttingDown is returned when a run would start after Drain began
	ErrShuttingDown = errors.New("service is shutting down")

	// ErrNotFound is returned when the job id is unknown
	ErrNotFound = storage.ErrNotFound
)
