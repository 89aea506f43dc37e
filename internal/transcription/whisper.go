package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/media-analysis/internal/storage"
	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

// WhisperTranscriber wraps Python's OpenAI Whisper for transcription
type WhisperTranscriber struct {
	python    string
	modelName string
	language  string
	threads   int
	stager    *storage.LocalStorage
	mu        sync.Mutex // whisper loads the model per run; one at a time
}

// NewWhisperTranscriber creates a new transcriber using Python Whisper.
// An empty language lets whisper auto-detect.
func NewWhisperTranscriber(python, model, language string, threads int, stager *storage.LocalStorage) *WhisperTranscriber {
	if python == "" {
		python = "python"
	}

	log.Printf("Initializing Python Whisper with model: %s", ModelName(model))
	log.Printf("Whisper will be called via: %s -m whisper", python)

	return &WhisperTranscriber{
		python:    python,
		modelName: ModelName(model),
		language:  language,
		threads:   threads,
		stager:    stager,
	}
}

// ModelName maps a model path or name (e.g. "models/ggml-small.bin") to a
// whisper model name, defaulting to small
func ModelName(model string) string {
	model = strings.ToLower(model)
	for _, name := range []string{"tiny", "base", "small", "medium", "large"} {
		if strings.Contains(model, name) {
			return name
		}
	}
	return "small"
}

// Transcribe stages the media, normalizes it and returns the transcript
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, filename string, data []byte) (*types.TranscriptionResult, error) {
	stagedPath, err := wt.stager.StageMedia(filename, data)
	if err != nil {
		return nil, err
	}
	defer wt.stager.Remove(stagedPath)

	wavPath, err := NormalizeAudio(ctx, stagedPath, wt.stager.Dir())
	if err != nil {
		return nil, err
	}
	defer wt.stager.Remove(wavPath)

	return wt.TranscribeFile(ctx, wavPath)
}

// TranscribeFile runs whisper on an audio file already on disk
func (wt *WhisperTranscriber) TranscribeFile(ctx context.Context, audioPath string) (*types.TranscriptionResult, error) {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	log.Printf("Transcribing with Python Whisper: %s", audioPath)

	outDir := filepath.Join(wt.stager.Dir(), "whisper_"+uuid.New().String())
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create whisper output directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	absAudioPath, err := filepath.Abs(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	cmd := exec.CommandContext(ctx, wt.python, wt.args(absAudioPath, outDir)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w\nOutput: %s", err, string(output))
	}

	baseName := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	jsonData, err := os.ReadFile(filepath.Join(outDir, baseName+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read whisper output: %w", err)
	}

	result, err := ParseWhisperOutput(jsonData)
	if err != nil {
		return nil, err
	}

	log.Printf("Transcription completed: %d segments, %.2fs duration", len(result.Segments), result.Duration)
	return result, nil
}

func (wt *WhisperTranscriber) args(audioPath, outDir string) []string {
	args := []string{"-m", "whisper",
		audioPath,
		"--model", wt.modelName,
		"--output_dir", outDir,
		"--output_format", "json",
		"--fp16", "False", // CPU compatibility
	}
	if wt.language != "" {
		args = append(args, "--language", wt.language)
	}
	if wt.threads > 0 {
		args = append(args, "--threads", fmt.Sprint(wt.threads))
	}
	return args
}

// ParseWhisperOutput converts whisper's JSON output into a TranscriptionResult
func ParseWhisperOutput(data []byte) (*types.TranscriptionResult, error) {
	var whisperOutput WhisperOutput
	if err := json.Unmarshal(data, &whisperOutput); err != nil {
		return nil, fmt.Errorf("failed to parse whisper JSON: %w", err)
	}

	segments := make([]types.Segment, len(whisperOutput.Segments))
	for i, seg := range whisperOutput.Segments {
		segments[i] = types.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
	}

	// Duration is the last segment's end time
	var duration float64
	if len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}

	return &types.TranscriptionResult{
		Text:     strings.TrimSpace(whisperOutput.Text),
		Language: whisperOutput.Language,
		Duration: duration,
		Segments: segments,
	}, nil
}

// WhisperOutput matches Python Whisper's JSON output format
type WhisperOutput struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []WhisperSegment `json:"segments"`
}

// WhisperSegment represents a timestamped segment from Whisper
type WhisperSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
