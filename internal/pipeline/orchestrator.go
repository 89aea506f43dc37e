package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/codebuildervaibhav/media-analysis/internal/metrics"
	"github.com/codebuildervaibhav/media-analysis/internal/queue"
	"github.com/codebuildervaibhav/media-analysis/internal/storage"
	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

// Stage names used in logs and metrics
const (
	StageTranscription = "transcription"
	StageAnalysis      = "analysis"
)

// interruptedMessage is recorded on jobs found mid-stage at startup
const interruptedMessage = "interrupted by restart"

// Orchestrator drives jobs through transcription and analysis. It owns the
// per-job execution lease: at most one run per job id is in flight.
type Orchestrator struct {
	store       storage.JobStore
	transcriber Transcriber
	analyzer    Analyzer
	pool        *queue.WorkerPool
	metrics     *metrics.Metrics

	leases *leaseSet
}

// NewOrchestrator creates an orchestrator. A nil pool runs each job on its
// own goroutine.
func NewOrchestrator(store storage.JobStore, transcriber Transcriber, analyzer Analyzer, pool *queue.WorkerPool, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		store:       store,
		transcriber: transcriber,
		analyzer:    analyzer,
		pool:        pool,
		metrics:     m,
		leases:      newLeaseSet(),
	}
}

// RunFull starts stage 1 and then stage 2 for a job that has no transcript
// (pending, or failed during transcription). A non-empty prompt replaces the
// stored one. The job is returned in state transcribing; the stages run in
// the background.
func (o *Orchestrator) RunFull(ctx context.Context, jobID string, content []byte, prompt string) (*types.Job, error) {
	release, err := o.acquire(jobID)
	if errors.Is(err, errLeaseHeld) {
		return o.current(ctx, jobID)
	}
	if err != nil {
		return nil, err
	}

	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		release()
		return nil, err
	}

	var u types.JobUpdate
	if prompt != "" {
		u.AnalysisPrompt = types.StringPtr(prompt)
	}
	job, err = transition(ctx, o.store, job, types.StateTranscribing, u, viaPipeline)
	if err != nil {
		release()
		return nil, err
	}

	log.Printf("Job %s: queued full run (%s, %d bytes)", job.ID, job.Filename, len(content))
	filename := job.Filename
	o.launch(job, queue.KindFull, release, func(ctx context.Context, job *types.Job) {
		o.runStages(ctx, job, filename, content)
	})
	return job, nil
}

// RunAnalysisOnly restarts stage 2 on a completed or failed job using its
// stored transcript and the given prompt. The job is returned in state
// analyzing; the analysis runs in the background.
func (o *Orchestrator) RunAnalysisOnly(ctx context.Context, jobID, prompt string) (*types.Job, error) {
	release, err := o.acquire(jobID)
	if errors.Is(err, errLeaseHeld) {
		return o.current(ctx, jobID)
	}
	if err != nil {
		return nil, err
	}

	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		release()
		return nil, err
	}
	if !job.HasTranscript() {
		release()
		return nil, ErrNoTranscriptAvailable
	}

	job, err = transition(ctx, o.store, job, types.StateAnalyzing, types.JobUpdate{
		AnalysisPrompt: types.StringPtr(prompt),
	}, viaReanalysis)
	if err != nil {
		release()
		return nil, err
	}

	log.Printf("Job %s: queued re-analysis", job.ID)
	o.launch(job, queue.KindAnalysis, release, o.runAnalysis)
	return job, nil
}

// Await blocks until no run holds the lease for jobID
func (o *Orchestrator) Await(ctx context.Context, jobID string) error {
	return o.leases.wait(ctx, jobID)
}

// Running reports whether a run currently holds the lease for jobID
func (o *Orchestrator) Running(jobID string) bool {
	return o.leases.isHeld(jobID)
}

// Drain refuses new runs and waits for every in-flight run to finish.
// Submissions that would start a run afterwards get ErrShuttingDown.
func (o *Orchestrator) Drain(ctx context.Context) error {
	return o.leases.drain(ctx)
}

// Recover moves jobs left mid-stage by a previous process to failed, so a
// later submission or re-analysis can resume them. It returns the number
// of jobs recovered.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	jobs, err := o.store.ListByState(ctx, types.StateTranscribing, types.StateAnalyzing)
	if err != nil {
		return 0, fmt.Errorf("failed to list interrupted jobs: %w", err)
	}

	recovered := 0
	for _, job := range jobs {
		release, err := o.leases.acquire(job.ID)
		if err != nil {
			continue
		}
		_, err = transition(ctx, o.store, job, types.StateFailed, types.JobUpdate{
			ErrorMessage: types.StringPtr(interruptedMessage),
		}, viaPipeline)
		release()
		if err != nil {
			log.Printf("Job %s: recovery failed: %v", job.ID, err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		log.Printf("Recovered %d interrupted jobs", recovered)
	}
	return recovered, nil
}

func (o *Orchestrator) acquire(jobID string) (func(), error) {
	release, err := o.leases.acquire(jobID)
	if err != nil {
		return nil, err
	}
	o.metrics.LeaseAcquired()
	var once sync.Once
	return func() {
		once.Do(func() {
			release()
			o.metrics.LeaseReleased()
		})
	}, nil
}

// current returns the job as it stands alongside ErrAlreadyRunning
func (o *Orchestrator) current(ctx context.Context, jobID string) (*types.Job, error) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job, ErrAlreadyRunning
}

// launch runs fn in the background while holding the lease. The lease is
// released only after the job has reached a terminal state or the run has
// been recorded as failed.
func (o *Orchestrator) launch(job *types.Job, kind string, release func(), fn func(ctx context.Context, job *types.Job)) {
	run := func(ctx context.Context) {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Job %s: PANIC during %s run: %v\n%s", job.ID, kind, r, string(debug.Stack()))
				o.failCurrent(job.ID, fmt.Sprintf("internal error: %v", r))
			}
		}()
		fn(ctx, job)
	}

	if o.pool == nil {
		go run(context.Background())
		return
	}
	if err := o.pool.Enqueue(queue.NewTask(job.ID, kind, run)); err != nil {
		log.Printf("Job %s: failed to enqueue: %v", job.ID, err)
		o.fail(context.Background(), job, fmt.Sprintf("failed to enqueue: %v", err))
		release()
	}
}

// runStages performs stage 1 and, on success, stage 2
func (o *Orchestrator) runStages(ctx context.Context, job *types.Job, filename string, content []byte) {
	start := time.Now()
	result, err := o.transcriber.Transcribe(ctx, filename, content)
	if err == nil && (result == nil || strings.TrimSpace(result.Text) == "") {
		err = errors.New("transcription produced no text")
	}
	o.metrics.StageDone(StageTranscription, time.Since(start), err)
	if err != nil {
		log.Printf("Job %s: transcription failed: %v", job.ID, err)
		o.fail(ctx, job, fmt.Sprintf("transcription failed: %v", err))
		return
	}

	u := types.JobUpdate{Transcript: types.StringPtr(result.Text)}
	if result.Duration > 0 {
		u.Duration = types.Float64Ptr(result.Duration)
	}
	next, err := transition(ctx, o.store, job, types.StateAnalyzing, u, viaPipeline)
	if err != nil {
		log.Printf("Job %s: BUG: cannot enter analysis: %v", job.ID, err)
		o.failCurrent(job.ID, fmt.Sprintf("internal error: %v", err))
		return
	}
	log.Printf("Job %s: transcript stored (%d words)", next.ID, len(strings.Fields(result.Text)))

	o.runAnalysis(ctx, next)
}

// runAnalysis performs stage 2 on a job in state analyzing
func (o *Orchestrator) runAnalysis(ctx context.Context, job *types.Job) {
	start := time.Now()
	result, err := o.analyzer.Analyze(ctx, *job.Transcript, job.AnalysisPrompt)
	o.metrics.StageDone(StageAnalysis, time.Since(start), err)
	if err != nil {
		log.Printf("Job %s: analysis failed: %v", job.ID, err)
		o.fail(ctx, job, fmt.Sprintf("analysis failed: %v", err))
		return
	}

	if _, err := transition(ctx, o.store, job, types.StateCompleted, types.JobUpdate{
		AnalysisResult: types.StringPtr(result),
	}, viaPipeline); err != nil {
		log.Printf("Job %s: BUG: cannot complete: %v", job.ID, err)
		o.failCurrent(job.ID, fmt.Sprintf("internal error: %v", err))
		return
	}
	log.Printf("Job %s: completed", job.ID)
}

// fail records message and moves job to failed
func (o *Orchestrator) fail(ctx context.Context, job *types.Job, message string) {
	if _, err := transition(ctx, o.store, job, types.StateFailed, types.JobUpdate{
		ErrorMessage: types.StringPtr(message),
	}, viaPipeline); err != nil {
		log.Printf("Job %s: failed to record failure %q: %v", job.ID, message, err)
	}
}

// failCurrent re-reads the job and fails it if it is still mid-stage
func (o *Orchestrator) failCurrent(jobID, message string) {
	ctx := context.Background()
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		log.Printf("Job %s: failed to reload after error: %v", jobID, err)
		return
	}
	if IsActive(job.State) {
		o.fail(ctx, job, message)
	}
}
