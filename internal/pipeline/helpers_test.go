package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/media-analysis/internal/storage"
	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

// fakeTranscriber returns text for content, optionally blocking on gate.
// The reported duration is one second per byte.
// failures holds errors returned by successive calls before succeeding.
type fakeTranscriber struct {
	mu       sync.Mutex
	calls    int
	gate     chan struct{}
	failures []error
	panicMsg string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, filename string, data []byte) (*types.TranscriptionResult, error) {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.failures) > 0 {
		err, f.failures = f.failures[0], f.failures[1:]
	}
	gate, panicMsg := f.gate, f.panicMsg
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if panicMsg != "" {
		panic(panicMsg)
	}
	if err != nil {
		return nil, err
	}
	return &types.TranscriptionResult{
		Text:     "transcript of " + string(data),
		Duration: float64(len(data)),
	}, nil
}

func (f *fakeTranscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAnalyzer echoes the prompt into the result
type fakeAnalyzer struct {
	mu       sync.Mutex
	calls    int
	gate     chan struct{}
	failures []error
	onCall   func()
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.failures) > 0 {
		err, f.failures = f.failures[0], f.failures[1:]
	}
	gate, onCall := f.gate, f.onCall
	f.mu.Unlock()

	if onCall != nil {
		onCall()
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	return "[" + prompt + "] " + text, nil
}

func (f *fakeAnalyzer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errCollaborator = errors.New("collaborator unavailable")

func newTestService(t *testing.T, tr Transcriber, an Analyzer) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	svc := NewService(Config{
		Store:       store,
		Transcriber: tr,
		Analyzer:    an,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Drain(ctx)
	})
	return svc, store
}

func await(t *testing.T, svc *Service, jobID string) *types.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Await(ctx, jobID))

	job, err := svc.Get(context.Background(), jobID)
	require.NoError(t, err)
	return job
}
