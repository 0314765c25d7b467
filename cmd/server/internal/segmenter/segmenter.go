// Package segmenter splits long recordings into bounded, overlapping chunks
// that fit under the transcription provider's upload limit.
package segmenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/houzhh15/meetscribe/cmd/server/internal/metrics"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/orcherr"
	"github.com/houzhh15/meetscribe/pkg/logger"
)

// DefaultMaxChunkBytes keeps every chunk just under the 25MB provider cap.
const DefaultMaxChunkBytes int64 = 24 << 20

var (
	// ErrChunkCapTooSmall is returned when MaxChunkBytes cannot hold MinChunkSeconds of audio.
	ErrChunkCapTooSmall = errors.New("segmenter: max chunk bytes cannot hold the minimum chunk duration")

	// ErrEmptyInput is returned for a zero-length source.
	ErrEmptyInput = errors.New("segmenter: empty audio input")
)

// Config controls chunk planning. All durations are in seconds.
type Config struct {
	ChunkSeconds   float64 `yaml:"chunk_seconds" json:"chunk_seconds"`
	OverlapSeconds float64 `yaml:"overlap_seconds" json:"overlap_seconds"`
	MaxChunkBytes  int64   `yaml:"max_chunk_bytes" json:"max_chunk_bytes"`

	SilenceAware        bool    `yaml:"silence_aware" json:"silence_aware"`
	SilenceThreshold    float64 `yaml:"silence_threshold" json:"silence_threshold"`
	MinSilenceSeconds   float64 `yaml:"min_silence_seconds" json:"min_silence_seconds"`
	WindowSeconds       float64 `yaml:"window_seconds" json:"window_seconds"`
	SilenceMergeSeconds float64 `yaml:"silence_merge_seconds" json:"silence_merge_seconds"`
	SearchWindowSeconds float64 `yaml:"search_window_seconds" json:"search_window_seconds"`
	ShrinkFactor        float64 `yaml:"shrink_factor" json:"shrink_factor"`
	MinChunkSeconds     float64 `yaml:"min_chunk_seconds" json:"min_chunk_seconds"`
}

// DefaultConfig returns 5 minute chunks with a 5 second overlap.
func DefaultConfig() Config {
	return Config{
		ChunkSeconds:        300,
		OverlapSeconds:      5,
		MaxChunkBytes:       DefaultMaxChunkBytes,
		SilenceAware:        true,
		SilenceThreshold:    0.01,
		MinSilenceSeconds:   0.3,
		WindowSeconds:       0.1,
		SilenceMergeSeconds: 1.0,
		SearchWindowSeconds: 2.5,
		ShrinkFactor:        0.9,
		MinChunkSeconds:     1.0,
	}
}

// Validate checks the planning parameters.
func (c Config) Validate() error {
	var problems []string
	if c.ChunkSeconds <= 0 {
		problems = append(problems, "chunk_seconds must be > 0")
	}
	if c.OverlapSeconds < 0 || c.OverlapSeconds >= c.ChunkSeconds {
		problems = append(problems, "overlap_seconds must be >= 0 and < chunk_seconds")
	}
	if c.MaxChunkBytes <= 0 {
		problems = append(problems, "max_chunk_bytes must be > 0")
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1 {
		problems = append(problems, "shrink_factor must be in (0,1)")
	}
	if c.WindowSeconds <= 0 {
		problems = append(problems, "window_seconds must be > 0")
	}
	if c.MinChunkSeconds <= 0 {
		problems = append(problems, "min_chunk_seconds must be > 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid segmenter config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Source is the raw recording handed to the segmenter.
type Source struct {
	Data     []byte
	Name     string
	MimeType string

	// DurationHint is the caller's estimate in seconds, used only when decoding fails.
	DurationHint float64
}

// AudioChunk is one contiguous slice of the source recording.
// EndTime includes the overlap shared with the next chunk.
type AudioChunk struct {
	Index         int     `json:"index"`
	StartTime     float64 `json:"start_time"`
	EndTime       float64 `json:"end_time"`
	Overlap       float64 `json:"overlap"`
	SizeBytes     int64   `json:"size_bytes"`
	HasSilenceCut bool    `json:"has_silence_cut"`
	Raw           bool    `json:"raw"`
	Path          string  `json:"path"`
	MimeType      string  `json:"mime_type"`
	// MeanAmplitude is the normalized mean absolute level, -1 when unknown.
	MeanAmplitude float64 `json:"mean_amplitude"`
}

// Duration returns the chunk length in seconds.
func (c AudioChunk) Duration() float64 {
	return c.EndTime - c.StartTime
}

// Segmenter turns a Source into chunk files inside a work directory.
type Segmenter struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Segmenter. A nil logger falls back to slog.Default().
func New(cfg Config, l *slog.Logger) *Segmenter {
	return &Segmenter{cfg: cfg, logger: logger.OrDefault(l).With("component", "segmenter")}
}

// Config returns the planning parameters in use.
func (s *Segmenter) Config() Config {
	return s.cfg
}

// Segment decodes src, plans chunk boundaries and writes one file per chunk
// into workDir. Undecodable input falls back to a proportional byte split
// (when a duration hint exists) or to a single chunk holding the whole input.
func (s *Segmenter) Segment(ctx context.Context, src Source, workDir string) ([]AudioChunk, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if len(src.Data) == 0 {
		return nil, ErrEmptyInput
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	started := time.Now()
	decoded, err := DecodeWAV(src.Data)
	if err != nil {
		s.logger.Warn("audio decode failed, falling back to raw split",
			"name", src.Name, "bytes", len(src.Data), "duration_hint", src.DurationHint, "error", err)
		metrics.RecordError("segment", string(orcherr.DECODE_FAILED))
		return s.rawFallback(ctx, src, workDir)
	}

	levels, err := decoded.WindowLevels(ctx, s.cfg.WindowSeconds)
	if err != nil {
		return nil, fmt.Errorf("measure levels: %w", err)
	}
	var silences []float64
	if s.cfg.SilenceAware {
		silences = DetectSilences(levels, s.cfg)
	}

	bounds, err := PlanChunks(decoded.Duration, s.cfg, silences, decoded.SizeOf)
	if err != nil {
		return nil, err
	}

	pathFor := func(b Boundary) string {
		return filepath.Join(workDir, fmt.Sprintf("chunk_%04d.wav", b.Index))
	}
	sizes, err := decoded.WriteChunks(ctx, bounds, pathFor)
	if err != nil {
		return nil, fmt.Errorf("write chunks: %w", err)
	}

	chunks := make([]AudioChunk, 0, len(bounds))
	for i, b := range bounds {
		chunks = append(chunks, AudioChunk{
			Index:         b.Index,
			StartTime:     b.Start,
			EndTime:       b.End,
			Overlap:       s.cfg.OverlapSeconds,
			SizeBytes:     sizes[i],
			HasSilenceCut: b.SilenceCut,
			Path:          pathFor(b),
			MimeType:      "audio/wav",
			MeanAmplitude: meanLevel(levels, s.cfg.WindowSeconds, b.Start, b.End),
		})
	}

	elapsed := time.Since(started)
	metrics.RecordDuration("segment", elapsed.Seconds())
	s.logger.Info("audio segmented",
		"chunks", len(chunks),
		"duration_s", decoded.Duration,
		"sample_rate", decoded.SampleRate,
		"channels", decoded.Channels,
		"silence_points", len(silences),
		"elapsed_ms", elapsed.Milliseconds())
	return chunks, nil
}

// rawFallback splits undecodable input by byte offset.
func (s *Segmenter) rawFallback(ctx context.Context, src Source, workDir string) ([]AudioChunk, error) {
	ext := sourceExtension(src)
	mime := src.MimeType
	if mime == "" {
		mime = mimeForExtension(ext)
	}

	if src.DurationHint <= 0 {
		return s.singleChunk(src, workDir, ext, mime)
	}

	bytesPerSecond := float64(len(src.Data)) / src.DurationHint
	sizeOf := func(d float64) int64 { return int64(math.Ceil(d*bytesPerSecond)) + 2 }

	cfg := s.cfg
	cfg.SilenceAware = false
	bounds, err := PlanChunks(src.DurationHint, cfg, nil, sizeOf)
	if err != nil {
		return nil, err
	}

	chunks := make([]AudioChunk, 0, len(bounds))
	for _, b := range bounds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lo := int(math.Floor(b.Start * bytesPerSecond))
		hi := int(math.Ceil(b.End * bytesPerSecond))
		lo = clampInt(lo, 0, len(src.Data))
		hi = clampInt(hi, lo, len(src.Data))

		path := filepath.Join(workDir, fmt.Sprintf("chunk_%04d%s", b.Index, ext))
		if err := os.WriteFile(path, src.Data[lo:hi], 0o644); err != nil {
			return nil, fmt.Errorf("write raw chunk %d: %w", b.Index, err)
		}
		chunks = append(chunks, AudioChunk{
			Index:         b.Index,
			StartTime:     b.Start,
			EndTime:       b.End,
			Overlap:       cfg.OverlapSeconds,
			SizeBytes:     int64(hi - lo),
			Raw:           true,
			Path:          path,
			MimeType:      mime,
			MeanAmplitude: -1,
		})
	}
	s.logger.Info("raw byte split", "chunks", len(chunks), "duration_hint", src.DurationHint)
	return chunks, nil
}

func (s *Segmenter) singleChunk(src Source, workDir, ext, mime string) ([]AudioChunk, error) {
	path := filepath.Join(workDir, "chunk_0000"+ext)
	if err := os.WriteFile(path, src.Data, 0o644); err != nil {
		return nil, fmt.Errorf("write single chunk: %w", err)
	}
	s.logger.Warn("no duration available, submitting input as a single chunk", "bytes", len(src.Data))
	return []AudioChunk{{
		Index:         0,
		StartTime:     0,
		EndTime:       math.Max(src.DurationHint, 0),
		SizeBytes:     int64(len(src.Data)),
		Raw:           true,
		Path:          path,
		MimeType:      mime,
		MeanAmplitude: -1,
	}}, nil
}

var mimeExtensions = map[string]string{
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/webm":  ".webm",
	"audio/mpeg":  ".mp3",
	"audio/mp4":   ".m4a",
	"audio/ogg":   ".ogg",
	"audio/flac":  ".flac",
}

func sourceExtension(src Source) string {
	if ext := strings.ToLower(filepath.Ext(src.Name)); ext != "" {
		return ext
	}
	base := strings.TrimSpace(strings.SplitN(src.MimeType, ";", 2)[0])
	if ext, ok := mimeExtensions[strings.ToLower(base)]; ok {
		return ext
	}
	return ".bin"
}

func mimeForExtension(ext string) string {
	for mime, e := range mimeExtensions {
		if e == ext && mime != "audio/x-wav" {
			return mime
		}
	}
	return "application/octet-stream"
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
