// Package pipeline implements the job lifecycle: the state machine, the
// content-addressed dedup router, the orchestrator with its per-job
// execution lease, and re-analysis.
package pipeline

import (
	"context"

	"github.com/codebuildervaibhav/media-analysis/internal/metrics"
	"github.com/codebuildervaibhav/media-analysis/internal/queue"
	"github.com/codebuildervaibhav/media-analysis/internal/storage"
	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

// Config wires the collaborators into a Service
type Config struct {
	Store       storage.JobStore
	Transcriber Transcriber
	Analyzer    Analyzer

	// Pool bounds concurrent runs; nil runs each job on its own goroutine
	Pool    *queue.WorkerPool
	Metrics *metrics.Metrics

	DefaultPrompt    string
	IsSupportedMedia func(filename string) bool
}

// Service is the surface exposed to the HTTP layer
type Service struct {
	store        storage.JobStore
	orchestrator *Orchestrator
	router       *Router
	reanalyzer   *Reanalyzer
}

// NewService builds the orchestrator, router and re-analysis controller
func NewService(cfg Config) *Service {
	orchestrator := NewOrchestrator(cfg.Store, cfg.Transcriber, cfg.Analyzer, cfg.Pool, cfg.Metrics)
	reanalyzer := NewReanalyzer(cfg.Store, orchestrator)
	router := NewRouter(cfg.Store, orchestrator, reanalyzer, cfg.Metrics, cfg.DefaultPrompt, cfg.IsSupportedMedia)

	return &Service{
		store:        cfg.Store,
		orchestrator: orchestrator,
		router:       router,
		reanalyzer:   reanalyzer,
	}
}

// Submit routes an upload through dedup
func (s *Service) Submit(ctx context.Context, content []byte, filename, prompt string) (*types.Job, error) {
	return s.router.Submit(ctx, content, filename, prompt)
}

// Reanalyze re-runs analysis with a new prompt
func (s *Service) Reanalyze(ctx context.Context, jobID, prompt string) (*types.Job, error) {
	return s.reanalyzer.Reanalyze(ctx, jobID, prompt)
}

// Get returns a job by id
func (s *Service) Get(ctx context.Context, jobID string) (*types.Job, error) {
	return s.store.Get(ctx, jobID)
}

// List returns jobs in creation order
func (s *Service) List(ctx context.Context, offset, limit int) ([]*types.Job, error) {
	return s.store.List(ctx, offset, limit)
}

// Running reports whether a run holds the job's lease
func (s *Service) Running(jobID string) bool {
	return s.orchestrator.Running(jobID)
}

// Await blocks until the job's current run, if any, finishes
func (s *Service) Await(ctx context.Context, jobID string) error {
	return s.orchestrator.Await(ctx, jobID)
}

// Drain waits for all in-flight runs
func (s *Service) Drain(ctx context.Context) error {
	return s.orchestrator.Drain(ctx)
}

// Recover fails jobs interrupted by a previous shutdown
func (s *Service) Recover(ctx context.Context) (int, error) {
	return s.orchestrator.Recover(ctx)
}
