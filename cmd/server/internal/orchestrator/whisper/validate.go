package whisper

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/orcherr"
	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
)

// ProviderMaxBytes is the upload cap of the OpenAI transcription endpoint.
const ProviderMaxBytes int64 = 25 << 20

// Limits are the thresholds checked by ValidateChunk.
type Limits struct {
	MaxBytes     int64   `yaml:"max_bytes" json:"max_bytes"`
	MinDuration  float64 `yaml:"min_duration" json:"min_duration"`
	SilenceFloor float64 `yaml:"silence_floor" json:"silence_floor"`
}

// DefaultLimits returns the provider cap, a half-second minimum and a 0.001 silence floor.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:     ProviderMaxBytes,
		MinDuration:  0.5,
		SilenceFloor: 0.001,
	}
}

// ValidationResult reports whether a chunk should be submitted.
// Warnings are advisory; any entry in Errors fails the chunk. A Silent chunk
// is valid but has nothing to transcribe.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Silent   bool     `json:"silent"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`

	oversize  bool
	sizeBytes int64
}

// Err converts a failed validation into an orcherr: PAYLOAD_TOO_LARGE when
// the chunk is over the size limit, CHUNK_INVALID otherwise. Nil when valid.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	if r.oversize {
		return orcherr.NewPayloadTooLargeError(r.sizeBytes)
	}
	return orcherr.NewChunkInvalidError(strings.Join(r.Errors, "; "))
}

var supportedExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".mp4": true, ".m4a": true, ".mpeg": true,
	".mpga": true, ".webm": true, ".ogg": true, ".oga": true, ".flac": true,
}

// ValidateChunk checks size, duration, silence and type plausibility.
// Size over limits.MaxBytes and an empty file are hard errors. MeanAmplitude
// below limits.SilenceFloor marks the chunk Silent; -1 (unknown) skips that
// check.
func ValidateChunk(chunk segmenter.AudioChunk, limits Limits) ValidationResult {
	res := ValidationResult{sizeBytes: chunk.SizeBytes}

	if limits.MaxBytes > 0 && chunk.SizeBytes > limits.MaxBytes {
		res.oversize = true
		res.Errors = append(res.Errors,
			fmt.Sprintf("chunk size %d bytes exceeds provider limit %d", chunk.SizeBytes, limits.MaxBytes))
	}
	if chunk.SizeBytes == 0 {
		res.Errors = append(res.Errors, "chunk is empty")
	}
	if chunk.MeanAmplitude >= 0 && chunk.MeanAmplitude < limits.SilenceFloor {
		res.Silent = true
	}

	if d := chunk.Duration(); d > 0 && d < limits.MinDuration {
		res.Warnings = append(res.Warnings, fmt.Sprintf("chunk is very short (%.2fs)", d))
	}
	if ext := strings.ToLower(filepath.Ext(chunk.Path)); ext != "" && !supportedExtensions[ext] {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unexpected file extension %q", ext))
	}
	if mt := strings.ToLower(chunk.MimeType); mt != "" &&
		!strings.HasPrefix(mt, "audio/") && mt != "video/webm" && mt != "video/mp4" {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unexpected mime type %q", chunk.MimeType))
	}

	res.IsValid = len(res.Errors) == 0
	return res
}
