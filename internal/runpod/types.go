// Package runpod provides an HTTP client for RunPod serverless endpoints
// running the faster-whisper transcription worker.
package runpod

// Status represents the status of a RunPod job.
type Status string

// RunPod job statuses aligned with the RunPod API.
const (
	StatusInQueue    Status = "IN_QUEUE"
	StatusRunning    Status = "RUNNING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusTimedOut   Status = "TIMED_OUT"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// SubmitOptions contains optional parameters for submitting a transcription job.
type SubmitOptions struct {
	Model    string // Whisper model (default: "large-v3")
	Language string // Spoken language; empty lets the worker detect it
	// EnableVAD turns on voice activity detection filtering in the worker.
	EnableVAD bool
}

// DefaultSubmitOptions returns the default options for submitting a job.
func DefaultSubmitOptions() SubmitOptions {
	return SubmitOptions{
		Model:    "large-v3",
		Language: "en",
	}
}

// runRequest represents the request body for RunPod's /run endpoint.
type runRequest struct {
	Input runInput `json:"input"`
}

// runInput is the faster-whisper worker input.
type runInput struct {
	Audio          string `json:"audio"`
	Model          string `json:"model"`
	Transcription  string `json:"transcription"`
	Language       string `json:"language,omitempty"`
	WordTimestamps bool   `json:"word_timestamps"`
	EnableVAD      bool   `json:"enable_vad"`
}

// runResponse represents the response from RunPod's /run endpoint.
type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusResponse represents the response from RunPod's /status endpoint.
type statusResponse struct {
	ID     string        `json:"id"`
	Status string        `json:"status"`
	Output *Transcription `json:"output,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Transcription is the faster-whisper worker output.
type Transcription struct {
	DetectedLanguage string    `json:"detected_language,omitempty"`
	Text             string    `json:"transcription,omitempty"`
	Model            string    `json:"model,omitempty"`
	Segments         []Segment `json:"segments,omitempty"`
	// WordTimestamps is the flat word list some worker versions return
	// instead of per-segment words.
	WordTimestamps []Word `json:"word_timestamps,omitempty"`
}

// Segment is one decoded segment of speech.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Word is a single recognised word with its timing in seconds.
type Word struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability,omitempty"`
}

// Words returns every recognised word in order, preferring per-segment
// words over the flat list.
func (t *Transcription) Words() []Word {
	if t == nil {
		return nil
	}
	var words []Word
	for _, seg := range t.Segments {
		words = append(words, seg.Words...)
	}
	if len(words) == 0 {
		words = append(words, t.WordTimestamps...)
	}
	return words
}

// PollResult contains the result of polling a job's status.
type PollResult struct {
	Status Status
	Output *Transcription // Worker output (only set when Status is StatusCompleted)
	Error  string         // Error message (only set when Status is StatusFailed)
}
