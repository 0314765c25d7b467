// Package overlap strips the audio overlap between adjacent chunk transcripts.
//
// With segment timestamps, segments starting inside the leading overlap are
// dropped. Without them, the head of the new chunk is matched word by word
// against the tail of the accumulated transcript. Every trim requires an
// explicit timestamp or word-sequence match; no match means no trim.
package overlap

import (
	"slices"
	"strings"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/meetscribe/cmd/server/internal/textnorm"
)

// Method names how the overlap was resolved.
type Method string

const (
	MethodNone      Method = "none"
	MethodSegments  Method = "segments"
	MethodWindow    Method = "window"
	MethodAlignment Method = "alignment"
)

// Config holds the matching parameters.
type Config struct {
	// SegmentCutoffRatio: segments starting before ratio*overlap are dropped.
	SegmentCutoffRatio float64 `yaml:"segment_cutoff_ratio" json:"segment_cutoff_ratio"`
	MaxWindow          int     `yaml:"max_window" json:"max_window"`
	MinWindow          int     `yaml:"min_window" json:"min_window"`
	// MinAlignment is the shortest suffix/prefix alignment that counts.
	MinAlignment int `yaml:"min_alignment" json:"min_alignment"`
}

// DefaultConfig returns 0.8, windows 5..3 and alignments down to 2 words.
func DefaultConfig() Config {
	return Config{SegmentCutoffRatio: 0.8, MaxWindow: 5, MinWindow: 3, MinAlignment: 2}
}

// PreviousChunk is what the resolver needs to know about the chunk before.
type PreviousChunk struct {
	Index int
	Text  string
}

// Result is the cleaned chunk text.
type Result struct {
	Text            string
	Segments        []whisper.TranscriptionSegment
	Method          Method
	DroppedWords    int
	DroppedSegments int
}

// Resolver removes overlap using a fixed Config.
type Resolver struct {
	cfg Config
}

// NewResolver creates a Resolver. Zero fields fall back to DefaultConfig.
func NewResolver(cfg Config) *Resolver {
	def := DefaultConfig()
	if cfg.SegmentCutoffRatio <= 0 {
		cfg.SegmentCutoffRatio = def.SegmentCutoffRatio
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = def.MaxWindow
	}
	if cfg.MinWindow <= 0 || cfg.MinWindow > cfg.MaxWindow {
		cfg.MinWindow = min(def.MinWindow, cfg.MaxWindow)
	}
	if cfg.MinAlignment <= 0 {
		cfg.MinAlignment = def.MinAlignment
	}
	return &Resolver{cfg: cfg}
}

// RemoveOverlap resolves with DefaultConfig.
func RemoveOverlap(currentText string, segments []whisper.TranscriptionSegment, previous *PreviousChunk, accumulated string, overlapSeconds float64) Result {
	return NewResolver(DefaultConfig()).Resolve(currentText, segments, previous, accumulated, overlapSeconds)
}

// Resolve strips the part of currentText already present at the end of
// accumulated. The first chunk (previous == nil) and a zero overlap pass
// through unchanged.
func (r *Resolver) Resolve(currentText string, segments []whisper.TranscriptionSegment, previous *PreviousChunk, accumulated string, overlapSeconds float64) Result {
	pass := Result{Text: strings.TrimSpace(currentText), Segments: segments, Method: MethodNone}
	if previous == nil || overlapSeconds <= 0 || pass.Text == "" {
		return pass
	}

	if len(segments) > 0 {
		if res, ok := r.bySegments(segments, overlapSeconds); ok {
			return res
		}
	}
	if strings.TrimSpace(accumulated) == "" {
		return pass
	}
	return r.byText(pass.Text, segments, accumulated)
}

// bySegments drops segments that start before the cutoff. It declines when
// that would drop every segment while the last one runs past the overlap,
// since a single long segment would otherwise lose new speech.
func (r *Resolver) bySegments(segments []whisper.TranscriptionSegment, overlapSeconds float64) (Result, bool) {
	cutoff := r.cfg.SegmentCutoffRatio * overlapSeconds
	kept := make([]whisper.TranscriptionSegment, 0, len(segments))
	for _, s := range segments {
		if s.Start >= cutoff {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 && segments[len(segments)-1].End > overlapSeconds {
		return Result{}, false
	}

	parts := make([]string, 0, len(kept))
	for _, s := range kept {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return Result{
		Text:            strings.Join(parts, " "),
		Segments:        kept,
		Method:          MethodSegments,
		DroppedSegments: len(segments) - len(kept),
	}, true
}

func (r *Resolver) byText(current string, segments []whisper.TranscriptionSegment, accumulated string) Result {
	cur := textnorm.Tokenize(current)
	curIdx := nonEmpty(cur)
	acc := textnorm.Words(lastParagraphs(accumulated))

	// Step 1: the first n words of the chunk inside the last 2n accumulated words.
	for n := r.cfg.MaxWindow; n >= r.cfg.MinWindow; n-- {
		if len(curIdx) < n || len(acc) < n {
			continue
		}
		head := normsAt(cur, curIdx[:n])
		tail := acc[max(0, len(acc)-2*n):]
		pos := indexOf(tail, head)
		if pos < 0 {
			continue
		}
		// Extend the match to the end of the accumulated text when the chunk keeps agreeing.
		m := n
		for pos+m < len(tail) && m < len(curIdx) && tail[pos+m] == cur[curIdx[m]].Norm {
			m++
		}
		return r.strip(cur, curIdx, m, segments, MethodWindow)
	}

	// Step 2: the accumulated suffix equals the chunk prefix.
	for k := min(len(acc), len(curIdx), 2*r.cfg.MaxWindow); k >= r.cfg.MinAlignment; k-- {
		if slices.Equal(acc[len(acc)-k:], normsAt(cur, curIdx[:k])) {
			return r.strip(cur, curIdx, k, segments, MethodAlignment)
		}
	}

	return Result{Text: current, Segments: segments, Method: MethodNone}
}

// strip removes the first n non-empty words (and any punctuation-only tokens before them).
func (r *Resolver) strip(cur []textnorm.Token, curIdx []int, n int, segments []whisper.TranscriptionSegment, method Method) Result {
	cutAt := curIdx[n-1] + 1
	rest := make([]string, 0, len(cur)-cutAt)
	for _, t := range cur[cutAt:] {
		rest = append(rest, t.Raw)
	}
	return Result{
		Text:         strings.Join(rest, " "),
		Segments:     segments,
		Method:       method,
		DroppedWords: n,
	}
}

// lastParagraphs bounds the text scanned: only the last paragraph of the
// accumulated transcript can overlap the next chunk, but failure markers
// and rejected chunks may leave it short, so two are taken.
func lastParagraphs(s string) string {
	paras := textnorm.Paragraphs(s)
	if len(paras) > 2 {
		paras = paras[len(paras)-2:]
	}
	return strings.Join(paras, " ")
}

func nonEmpty(toks []textnorm.Token) []int {
	idx := make([]int, 0, len(toks))
	for i, t := range toks {
		if t.Norm != "" {
			idx = append(idx, i)
		}
	}
	return idx
}

func normsAt(toks []textnorm.Token, idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = toks[j].Norm
	}
	return out
}

func indexOf(haystack, needle []string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if slices.Equal(haystack[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}
