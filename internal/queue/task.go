package queue

import (
	"context"
	"time"
)

// Task kinds
const (
	KindFull     = "full"
	KindAnalysis = "analysis"
)

// Task is one pipeline run waiting for a worker
type Task struct {
	JobID      string
	Kind       string
	EnqueuedAt time.Time

	// Run performs the work. A panic is recovered and logged by the worker.
	Run func(ctx context.Context)
}

// NewTask creates a task with default values
func NewTask(jobID, kind string, run func(ctx context.Context)) *Task {
	return &Task{
		JobID:      jobID,
		Kind:       kind,
		EnqueuedAt: time.Now(),
		Run:        run,
	}
}
