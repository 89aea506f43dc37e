package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/media-analysis/internal/queue"
	"github.com/codebuildervaibhav/media-analysis/internal/storage"
	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

func TestSubmitNewContentRunsBothStages(t *testing.T) {
	tr, an := &fakeTranscriber{}, &fakeAnalyzer{}
	svc, _ := newTestService(t, tr, an)
	ctx := context.Background()

	job, err := svc.Submit(ctx, []byte("B1"), "b1.mp3", "")
	require.NoError(t, err)
	assert.Contains(t, []types.JobState{types.StatePending, types.StateTranscribing}, job.State)
	assert.Equal(t, types.DefaultAnalysisPrompt, job.AnalysisPrompt)
	assert.Equal(t, int64(2), job.FileSize)

	done := await(t, svc, job.ID)
	assert.Equal(t, types.StateCompleted, done.State)
	require.NotNil(t, done.Transcript)
	assert.Equal(t, "transcript of B1", *done.Transcript)
	require.NotNil(t, done.AnalysisResult)
	assert.Equal(t, "["+types.DefaultAnalysisPrompt+"] transcript of B1", *done.AnalysisResult)
	assert.Nil(t, done.ErrorMessage)
	require.NotNil(t, done.Duration)
	assert.Equal(t, 2.0, *done.Duration)
}

func TestSubmitSameContentIsCacheHit(t *testing.T) {
	tr, an := &fakeTranscriber{}, &fakeAnalyzer{}
	svc, _ := newTestService(t, tr, an)
	ctx := context.Background()

	first, err := svc.Submit(ctx, []byte("B1"), "b1.mp3", "keywords")
	require.NoError(t, err)
	await(t, svc, first.ID)

	again, err := svc.Submit(ctx, []byte("B1"), "renamed.mp3", "keywords")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, types.StateCompleted, again.State)

	noPrompt, err := svc.Submit(ctx, []byte("B1"), "b1.mp3", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, noPrompt.ID)
	assert.Equal(t, "keywords", noPrompt.AnalysisPrompt)

	await(t, svc, first.ID)
	jobs, err := svc.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Equal(t, 1, tr.Calls())
	assert.Equal(t, 1, an.Calls())
}

func TestSubmitDifferentPromptReanalyzes(t *testing.T) {
	tr, an := &fakeTranscriber{}, &fakeAnalyzer{}
	svc, _ := newTestService(t, tr, an)
	ctx := context.Background()

	job, err := svc.Submit(ctx, []byte("B1"), "b1.mp3", "")
	require.NoError(t, err)
	first := await(t, svc, job.ID)

	again, err := svc.Submit(ctx, []byte("B1"), "b1.mp3", "summarize")
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, types.StateAnalyzing, again.State)
	assert.Equal(t, "summarize", again.AnalysisPrompt)
	assert.Nil(t, again.AnalysisResult)

	done := await(t, svc, job.ID)
	assert.Equal(t, types.StateCompleted, done.State)
	assert.Equal(t, "summarize", done.AnalysisPrompt)
	assert.Equal(t, *first.Transcript, *done.Transcript)
	assert.Equal(t, "[summarize] transcript of B1", *done.AnalysisResult)
	assert.Equal(t, 1, tr.Calls())
	assert.Equal(t, 2, an.Calls())
}

func TestReanalyzeUnknownJob(t *testing.T) {
	svc, _ := newTestService(t, &fakeTranscriber{}, &fakeAnalyzer{})
	_, err := svc.Reanalyze(context.Background(), "unknown", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReanalyzeWithoutTranscript(t *testing.T) {
	svc, store := newTestService(t, &fakeTranscriber{}, &fakeAnalyzer{})
	ctx := context.Background()

	job, err := store.Create(ctx, types.NewJob{Fingerprint: "fp", Filename: "a.mp3", AnalysisPrompt: "p"})
	require.NoError(t, err)

	_, err = svc.Reanalyze(ctx, job.ID, "x")
	assert.ErrorIs(t, err, ErrNoTranscriptAvailable)

	current, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "p", current.AnalysisPrompt)
	assert.Equal(t, types.StatePending, current.State)
}

func TestReanalyzeRequiresPrompt(t *testing.T) {
	svc, _ := newTestService(t, &fakeTranscriber{}, &fakeAnalyzer{})
	_, err := svc.Reanalyze(context.Background(), "any", "  ")
	assert.ErrorIs(t, err, ErrPromptRequired)
}

func TestTranscriptionFailureMarksJobFailed(t *testing.T) {
	tr := &fakeTranscriber{failures: []error{errCollaborator}}
	an := &fakeAnalyzer{}
	svc, _ := newTestService(t, tr, an)

	job, err := svc.Submit(context.Background(), []byte("B2"), "b2.wav", "")
	require.NoError(t, err)

	done := await(t, svc, job.ID)
	assert.Equal(t, types.StateFailed, done.State)
	require.NotNil(t, done.ErrorMessage)
	assert.Contains(t, *done.ErrorMessage, errCollaborator.Error())
	assert.Nil(t, done.Transcript)
	assert.Nil(t, done.AnalysisResult)
	assert.Equal(t, 0, an.Calls())
}

func TestEmptyTranscriptMarksJobFailed(t *testing.T) {
	tr := TranscriberFunc(func(ctx context.Context, filename string, data []byte) (*types.TranscriptionResult, error) {
		return &types.TranscriptionResult{Text: "   ", Duration: 4}, nil
	})
	svc, _ := newTestService(t, tr, &fakeAnalyzer{})

	job, err := svc.Submit(context.Background(), []byte("silence"), "s.wav", "")
	require.NoError(t, err)

	done := await(t, svc, job.ID)
	assert.Equal(t, types.StateFailed, done.State)
	assert.Nil(t, done.Transcript)
	assert.Nil(t, done.Duration)
}

func TestResubmitAfterTranscriptionFailureRetries(t *testing.T) {
	tr := &fakeTranscriber{failures: []error{errCollaborator}}
	svc, _ := newTestService(t, tr, &fakeAnalyzer{})
	ctx := context.Background()

	job, err := svc.Submit(ctx, []byte("B3"), "b3.mp3", "")
	require.NoError(t, err)
	failed := await(t, svc, job.ID)
	require.Equal(t, types.StateFailed, failed.State)

	retry, err := svc.Submit(ctx, []byte("B3"), "b3.mp3", "")
	require.NoError(t, err)
	assert.Equal(t, job.ID, retry.ID)
	assert.Equal(t, types.StateTranscribing, retry.State)
	assert.Nil(t, retry.ErrorMessage)

	done := await(t, svc, job.ID)
	assert.Equal(t, types.StateCompleted, done.State)
	assert.Nil(t, done.ErrorMessage)
	assert.Equal(t, 2, tr.Calls())
}

func TestAnalysisFailureThenReanalyzeRecovers(t *testing.T) {
	tr := &fakeTranscriber{}
	an := &fakeAnalyzer{failures: []error{errCollaborator}}
	svc, _ := newTestService(t, tr, an)
	ctx := context.Background()

	job, err := svc.Submit(ctx, []byte("B4"), "b4.mp3", "")
	require.NoError(t, err)
	failed := await(t, svc, job.ID)
	require.Equal(t, types.StateFailed, failed.State)
	require.NotNil(t, failed.Transcript)
	require.NotNil(t, failed.ErrorMessage)

	restarted, err := svc.Reanalyze(ctx, job.ID, "try again")
	require.NoError(t, err)
	assert.Equal(t, types.StateAnalyzing, restarted.State)
	assert.Nil(t, restarted.ErrorMessage)

	done := await(t, svc, job.ID)
	assert.Equal(t, types.StateCompleted, done.State)
	assert.Equal(t, *failed.Transcript, *done.Transcript)
	assert.Equal(t, "[try again] transcript of B4", *done.AnalysisResult)
	assert.Equal(t, 1, tr.Calls())
}

func TestConcurrentReanalyzeRunsOnce(t *testing.T) {
	tr, an := &fakeTranscriber{}, &fakeAnalyzer{}
	svc, _ := newTestService(t, tr, an)
	ctx := context.Background()

	job, err := svc.Submit(ctx, []byte("B5"), "b5.mp3", "")
	require.NoError(t, err)
	await(t, svc, job.ID)

	gate := make(chan struct{})
	an.mu.Lock()
	an.gate = gate
	an.mu.Unlock()

	first, err := svc.Reanalyze(ctx, job.ID, "first")
	require.NoError(t, err)
	assert.Equal(t, types.StateAnalyzing, first.State)

	second, err := svc.Reanalyze(ctx, job.ID, "second")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	require.NotNil(t, second)
	assert.Equal(t, types.StateAnalyzing, second.State)
	assert.Equal(t, "first", second.AnalysisPrompt)

	// a resubmission with yet another prompt also observes the running job
	viaSubmit, err := svc.Submit(ctx, []byte("B5"), "b5.mp3", "third")
	require.NoError(t, err)
	assert.Equal(t, job.ID, viaSubmit.ID)
	assert.Equal(t, "first", viaSubmit.AnalysisPrompt)

	close(gate)
	done := await(t, svc, job.ID)
	assert.Equal(t, types.StateCompleted, done.State)
	assert.Equal(t, "[first] transcript of B5", *done.AnalysisResult)
	assert.Equal(t, 2, an.Calls())
}

func TestConcurrentSubmitsCreateOneJob(t *testing.T) {
	gate := make(chan struct{})
	tr := &fakeTranscriber{gate: gate}
	svc, _ := newTestService(t, tr, &fakeAnalyzer{})
	ctx := context.Background()

	const submitters = 10
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]int{}
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := svc.Submit(ctx, []byte("same bytes"), "same.mp3", "")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[job.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(gate)

	require.Len(t, ids, 1)
	for id, n := range ids {
		assert.Equal(t, submitters, n)
		done := await(t, svc, id)
		assert.Equal(t, types.StateCompleted, done.State)
	}

	jobs, err := svc.List(ctx, 0, 100)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Equal(t, 1, tr.Calls())
}

func TestConcurrentSubmitsWithInstantCollaborators(t *testing.T) {
	tr, an := &fakeTranscriber{}, &fakeAnalyzer{}
	svc, _ := newTestService(t, tr, an)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(ctx, []byte("fast"), "fast.mp3", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	jobs, err := svc.List(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	done := await(t, svc, jobs[0].ID)
	assert.Equal(t, types.StateCompleted, done.State)
	assert.Equal(t, 1, tr.Calls())
	assert.Equal(t, 1, an.Calls())
}

func TestTranscriptPresentWhileAnalyzing(t *testing.T) {
	var (
		svc      *Service
		observed []*types.Job
		mu       sync.Mutex
	)
	an := &fakeAnalyzer{}
	an.onCall = func() {
		jobs, _ := svc.List(context.Background(), 0, 10)
		mu.Lock()
		observed = append(observed, jobs...)
		mu.Unlock()
	}
	svc, _ = newTestService(t, &fakeTranscriber{}, an)
	ctx := context.Background()

	job, err := svc.Submit(ctx, []byte("B6"), "b6.mp3", "")
	require.NoError(t, err)
	await(t, svc, job.ID)
	_, err = svc.Reanalyze(ctx, job.ID, "again")
	require.NoError(t, err)
	await(t, svc, job.ID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, observed, 2)
	for _, j := range observed {
		assert.Equal(t, types.StateAnalyzing, j.State)
		require.NotNil(t, j.Transcript)
		assert.Equal(t, "transcript of B6", *j.Transcript)
	}
}

func TestSubmitRejectsUnsupportedMedia(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := NewService(Config{
		Store:       store,
		Transcriber: &fakeTranscriber{},
		Analyzer:    &fakeAnalyzer{},
		IsSupportedMedia: func(name string) bool {
			return strings.HasSuffix(name, ".mp3")
		},
	})

	_, err := svc.Submit(context.Background(), []byte("doc"), "notes.pdf", "")
	assert.ErrorIs(t, err, ErrUnsupportedMedia)

	jobs, err := svc.List(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCustomDefaultPrompt(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := NewService(Config{
		Store:         store,
		Transcriber:   &fakeTranscriber{},
		Analyzer:      &fakeAnalyzer{},
		DefaultPrompt: "list speakers",
	})

	job, err := svc.Submit(context.Background(), []byte("B7"), "b7.mp3", "")
	require.NoError(t, err)
	assert.Equal(t, "list speakers", job.AnalysisPrompt)
	await(t, svc, job.ID)
}

func TestCollaboratorPanicFailsJobAndReleasesLease(t *testing.T) {
	tr := &fakeTranscriber{panicMsg: "decoder crashed"}
	svc, _ := newTestService(t, tr, &fakeAnalyzer{})

	job, err := svc.Submit(context.Background(), []byte("B8"), "b8.mp3", "")
	require.NoError(t, err)

	done := await(t, svc, job.ID)
	assert.Equal(t, types.StateFailed, done.State)
	require.NotNil(t, done.ErrorMessage)
	assert.Contains(t, *done.ErrorMessage, "decoder crashed")
	assert.False(t, svc.Running(job.ID))
}

func TestRecoverFailsInterruptedJobs(t *testing.T) {
	svc, store := newTestService(t, &fakeTranscriber{}, &fakeAnalyzer{})
	ctx := context.Background()

	stuck, err := store.Create(ctx, types.NewJob{Fingerprint: "stuck", Filename: "s.mp3", AnalysisPrompt: "p"})
	require.NoError(t, err)
	_, err = store.Update(ctx, stuck.ID, types.JobUpdate{State: types.StatePtr(types.StateTranscribing)})
	require.NoError(t, err)

	idle, err := store.Create(ctx, types.NewJob{Fingerprint: "idle", Filename: "i.mp3", AnalysisPrompt: "p"})
	require.NoError(t, err)

	n, err := svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recovered, err := store.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, recovered.State)
	assert.Equal(t, interruptedMessage, *recovered.ErrorMessage)

	untouched, err := store.Get(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatePending, untouched.State)
}

func TestServiceWithWorkerPoolAndSQLite(t *testing.T) {
	db, err := storage.NewJobDB(storage.DriverSQLite, filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	defer db.Close()

	pool := queue.NewWorkerPool(2, 10)
	pool.Start()
	defer pool.Stop()

	svc := NewService(Config{
		Store:       db,
		Transcriber: &fakeTranscriber{},
		Analyzer:    &fakeAnalyzer{},
		Pool:        pool,
	})
	ctx := context.Background()

	var ids []string
	for _, content := range []string{"one", "two", "three"} {
		job, err := svc.Submit(ctx, []byte(content), content+".mp3", "")
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		done := await(t, svc, id)
		assert.Equal(t, types.StateCompleted, done.State)
	}

	again, err := svc.Submit(ctx, []byte("two"), "two.mp3", "shorter")
	require.NoError(t, err)
	assert.Equal(t, ids[1], again.ID)
	done := await(t, svc, again.ID)
	assert.Equal(t, "[shorter] transcript of two", *done.AnalysisResult)
	assert.Equal(t, "transcript of two", *done.Transcript)
}

func TestEnqueueOnStoppedPoolFailsJob(t *testing.T) {
	pool := queue.NewWorkerPool(1, 1)
	pool.Start()
	pool.Stop()

	store := storage.NewMemoryStore()
	svc := NewService(Config{
		Store:       store,
		Transcriber: &fakeTranscriber{},
		Analyzer:    &fakeAnalyzer{},
		Pool:        pool,
	})

	job, err := svc.Submit(context.Background(), []byte("late"), "late.mp3", "")
	require.NoError(t, err)

	current, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, current.State)
	assert.False(t, svc.Running(job.ID))
}

func TestDrainWaitsForRunAndRefusesNewOnes(t *testing.T) {
	tr, an := &fakeTranscriber{}, &fakeAnalyzer{}
	svc, _ := newTestService(t, tr, an)
	ctx := context.Background()

	done, err := svc.Submit(ctx, []byte("early"), "early.mp3", "")
	require.NoError(t, err)
	await(t, svc, done.ID)

	gate := make(chan struct{})
	an.mu.Lock()
	an.gate = gate
	an.mu.Unlock()
	running, err := svc.Submit(ctx, []byte("slow"), "slow.mp3", "")
	require.NoError(t, err)

	drained := make(chan error, 1)
	go func() {
		drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		drained <- svc.Drain(drainCtx)
	}()

	leases := svc.orchestrator.leases
	require.Eventually(t, func() bool {
		leases.mu.Lock()
		defer leases.mu.Unlock()
		return leases.draining
	}, 2*time.Second, 5*time.Millisecond)

	_, err = svc.Submit(ctx, []byte("late"), "late.mp3", "")
	assert.ErrorIs(t, err, ErrShuttingDown)

	_, err = svc.Reanalyze(ctx, done.ID, "another prompt")
	assert.ErrorIs(t, err, ErrShuttingDown)

	// reads and cache hits never start a run
	hit, err := svc.Submit(ctx, []byte("early"), "early.mp3", "")
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, hit.State)

	close(gate)
	require.NoError(t, <-drained)

	finished, err := svc.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, finished.State)
	assert.False(t, svc.Running(running.ID))
}
