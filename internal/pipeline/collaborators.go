package pipeline

import (
	"context"

	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

// Transcriber converts media content to text. Failures are opaque.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, data []byte) (*types.TranscriptionResult, error)
}

// Analyzer produces an analysis of text guided by a prompt
type Analyzer interface {
	Analyze(ctx context.Context, text, prompt string) (string, error)
}

// TranscriberFunc adapts a function to Transcriber
type TranscriberFunc func(ctx context.Context, filename string, data []byte) (*types.TranscriptionResult, error)

// Transcribe calls f
func (f TranscriberFunc) Transcribe(ctx context.Context, filename string, data []byte) (*types.TranscriptionResult, error) {
	return f(ctx, filename, data)
}

// AnalyzerFunc adapts a function to Analyzer
type AnalyzerFunc func(ctx context.Context, text, prompt string) (string, error)

// Analyze calls f
func (f AnalyzerFunc) Analyze(ctx context.Context, text, prompt string) (string, error) {
	return f(ctx, text, prompt)
}
