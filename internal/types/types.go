package types

import "time"

// JobState is a stage in a job's lifecycle
type JobState string

// Job state constants
const (
	StatePending      JobState = "pending"
	StateTranscribing JobState = "transcribing"
	StateAnalyzing    JobState = "analyzing"
	StateCompleted    JobState = "completed"
	StateFailed       JobState = "failed"
)

// Source type constants
const (
	SourceUpload = "upload"
	SourceGDrive = "gdrive"
	SourceStream = "stream"
)

// DefaultAnalysisPrompt is used when an upload carries no prompt
const DefaultAnalysisPrompt = "Analyze and categorize this content. Identify and create a list of keywords."

// Job is the durable record of one unique media file
type Job struct {
	ID             string    `json:"id"`
	Fingerprint    string    `json:"file_hash"`
	Filename       string    `json:"filename"`
	State          JobState  `json:"status"`
	AnalysisPrompt string    `json:"analysis_prompt"`
	Transcript     *string   `json:"transcript"`
	AnalysisResult *string   `json:"analysis_result"`
	ErrorMessage   *string   `json:"error_message"`
	FileSize       int64     `json:"file_size"`
	Duration       *float64  `json:"duration"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasTranscript reports whether stage 1 has produced text
func (j *Job) HasTranscript() bool {
	return j.Transcript != nil
}

// NewJob holds the fields supplied when a job is first created
type NewJob struct {
	Fingerprint    string
	Filename       string
	AnalysisPrompt string
	FileSize       int64
}

// JobUpdate is a partial update. Nil fields are left untouched; the
// Clear flags null out a field. ExpectState, when set, makes the update
// apply only if the stored state still matches.
type JobUpdate struct {
	State          *JobState
	AnalysisPrompt *string
	Transcript     *string
	Duration       *float64
	AnalysisResult *string
	ErrorMessage   *string

	ClearAnalysisResult bool
	ClearErrorMessage   bool

	ExpectState *JobState
}

// TranscriptionResult represents the output from Whisper
type TranscriptionResult struct {
	Text     string
	Language string
	Duration float64
	Segments []Segment
}

// Segment represents a timestamped segment of transcription
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Float64Ptr returns a pointer to f
func Float64Ptr(f float64) *float64 {
	return &f
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

// StatePtr returns a pointer to s
func StatePtr(s JobState) *JobState {
	return &s
}
