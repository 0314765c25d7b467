package whisper

import (
	"context"
	"log/slog"

	"github.com/houzhh15/meetscribe/pkg/logger"
)

// MockTranscriber implements WhisperTranscriber as the "degraded mode" fallback.
// It returns empty results without touching the network so a job can finish
// (with empty chunk texts) while the real provider is unhealthy.
//
// Behavior:
//   - Transcribe: Returns an empty TranscriptionResult with nil error (never blocks)
//   - HealthCheck: Always returns false (indicates degraded state)
//   - Logs WARN-level messages for monitoring and alerting
type MockTranscriber struct {
	logger *slog.Logger
}

// NewMockTranscriber creates a new MockTranscriber instance.
func NewMockTranscriber() *MockTranscriber {
	return &MockTranscriber{logger: logger.OrDefault(nil).With("component", "asr", "transcriber", "mock-degraded")}
}

// Transcribe returns an empty result and a nil error.
func (m *MockTranscriber) Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error) {
	m.logger.Warn("transcribe called in degraded mode, returning empty result", "file", audioPath)

	return &TranscriptionResult{
		Segments: []TranscriptionSegment{},
		Text:     "",
		Language: "unknown",
		Duration: 0,
	}, nil
}

// HealthCheck always returns false: the mock represents the degraded state.
func (m *MockTranscriber) HealthCheck(ctx context.Context) (bool, error) {
	return false, nil
}

// Name returns "mock-degraded".
func (m *MockTranscriber) Name() string {
	return "mock-degraded"
}
