// Package whisper provides the abstraction layer over speech-to-text providers.
// It defines the transcriber interface and data structures shared by the
// OpenAI-compatible HTTP client, the go-openai SDK client and the degraded
// mock fallback, plus per-chunk validation and prompt construction.
package whisper

import (
	"context"
	"time"
)

// TranscriptionSegment represents a single segment of transcribed audio with timing information.
// Times are relative to the start of the chunk that was transcribed.
type TranscriptionSegment struct {
	// ID is the sequential identifier of this segment within the transcription
	ID int `json:"id"`

	// Start is the beginning time of this segment in seconds from the chunk start
	Start float64 `json:"start"`

	// End is the ending time of this segment in seconds from the chunk start
	End float64 `json:"end"`

	// Text is the transcribed text content of this segment
	Text string `json:"text"`
}

// TranscriptionResult represents the complete result of one chunk transcription.
type TranscriptionResult struct {
	// Segments is empty when the provider does not return timing (plain json format)
	Segments []TranscriptionSegment `json:"segments"`

	// Text is the complete transcribed text
	Text string `json:"text"`

	// Language is the detected or requested language code (e.g., "en", "zh")
	Language string `json:"language"`

	// Duration is the audio duration in seconds as reported by the provider
	Duration float64 `json:"duration"`
}

// WhisperTranscriber defines the standard interface for transcription providers.
// All concrete implementations (OpenAIHTTPImpl, OpenAISDKImpl, MockTranscriber)
// implement this interface so the degradation controller can swap them.
type WhisperTranscriber interface {
	// Transcribe performs transcription of one chunk file.
	//
	// Parameters:
	//   - ctx: Context for timeout control and cancellation
	//   - audioPath: Path to the chunk file written by the segmenter
	//   - options: Optional parameters (model, language, prompt, temperature)
	//
	// Returns:
	//   - *TranscriptionResult: Transcription with segments when available
	//   - error: an *orcherr.OrchError classifying the failure (auth, quota,
	//     rate limit, payload too large, unavailable, HTTP error, empty text)
	//
	// Implementation notes:
	//   - Must respect context timeout and cancellation
	//   - An empty transcription from a real provider is an error, not a result
	Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error)

	// HealthCheck verifies that the provider is reachable and the credential works.
	//
	// Returns:
	//   - bool: true if the provider is ready to transcribe
	//   - error: Non-nil if the check could not be completed or the provider rejected it
	//
	// Implementation notes:
	//   - Should be lightweight (< 10 seconds)
	//   - OpenAI-compatible services are probed via GET /models
	//   - MockTranscriber always returns (false, nil)
	HealthCheck(ctx context.Context) (bool, error)

	// Name returns the identifier of this implementation
	// (e.g., "openai-http", "openai-sdk", "mock-degraded").
	Name() string
}

// ResponseFormat values understood by OpenAI-compatible transcription endpoints.
const (
	ResponseFormatJSON        = "json"
	ResponseFormatVerboseJSON = "verbose_json"
	ResponseFormatText        = "text"
)

// DefaultModel is the transcription model used when TranscribeOptions.Model is empty.
const DefaultModel = "whisper-1"

// TranscribeOptions defines optional parameters for the Transcribe operation.
// All fields are optional; implementations provide defaults.
type TranscribeOptions struct {
	// Model specifies the transcription model. Default: "whisper-1"
	Model string

	// Language forces a language (ISO 639-1 code). Empty means auto-detect.
	Language string

	// Prompt provides context such as domain vocabulary or the tail of the
	// previous chunk. Dropped by the orchestrator on retries.
	Prompt string

	// Temperature is the sampling temperature in [0, 1]. Default: 0
	Temperature float64

	// ResponseFormat selects the reply shape. Default: verbose_json (with segments)
	ResponseFormat string

	// Timeout overrides the per-call timeout. Zero keeps the client default.
	Timeout time.Duration
}

func (o *TranscribeOptions) model() string {
	if o == nil || o.Model == "" {
		return DefaultModel
	}
	return o.Model
}

func (o *TranscribeOptions) responseFormat() string {
	if o == nil || o.ResponseFormat == "" {
		return ResponseFormatVerboseJSON
	}
	return o.ResponseFormat
}

func (o *TranscribeOptions) temperature() float64 {
	if o == nil || o.Temperature < 0 {
		return 0
	}
	return min(o.Temperature, 1)
}

func (o *TranscribeOptions) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o == nil || o.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.Timeout)
}
