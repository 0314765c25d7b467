// Package dedup merges chunk transcripts into one text while suppressing
// repetition: echo and block collapsing, duplicate sentence removal,
// n-gram coverage rejection, and a final full-transcript cleanup pass.
package dedup

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/houzhh15/meetscribe/cmd/server/internal/simhash"
	"github.com/houzhh15/meetscribe/cmd/server/internal/textnorm"
	"github.com/houzhh15/meetscribe/pkg/logger"
)

// Config holds every dedup threshold.
type Config struct {
	EchoMinWords    int `yaml:"echo_min_words" json:"echo_min_words"`
	EchoMaxWords    int `yaml:"echo_max_words" json:"echo_max_words"`
	EchoMinRepeats  int `yaml:"echo_min_repeats" json:"echo_min_repeats"`
	BlockMinWords   int `yaml:"block_min_words" json:"block_min_words"`
	BlockMaxWords   int `yaml:"block_max_words" json:"block_max_words"`
	BlockMinRepeats int `yaml:"block_min_repeats" json:"block_min_repeats"`

	// NearDuplicateRatio: a sentence that is a prefix or suffix of another
	// and covers more than this share of its length is a duplicate.
	NearDuplicateRatio float64 `yaml:"near_duplicate_ratio" json:"near_duplicate_ratio"`

	NgramMin       int     `yaml:"ngram_min" json:"ngram_min"`
	NgramMax       int     `yaml:"ngram_max" json:"ngram_max"`
	RejectCoverage float64 `yaml:"reject_coverage" json:"reject_coverage"`

	FinalCoverage        float64 `yaml:"final_coverage" json:"final_coverage"`
	MinPhraseLength      int     `yaml:"min_phrase_length" json:"min_phrase_length"`
	MaxPhraseOccurrences int     `yaml:"max_phrase_occurrences" json:"max_phrase_occurrences"`
	ParagraphDistance    int     `yaml:"paragraph_distance" json:"paragraph_distance"`
	MaxFinalPasses       int     `yaml:"max_final_passes" json:"max_final_passes"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		EchoMinWords:         2,
		EchoMaxWords:         6,
		EchoMinRepeats:       3,
		BlockMinWords:        8,
		BlockMaxWords:        20,
		BlockMinRepeats:      2,
		NearDuplicateRatio:   0.85,
		NgramMin:             3,
		NgramMax:             8,
		RejectCoverage:       0.5,
		FinalCoverage:        0.6,
		MinPhraseLength:      12,
		MaxPhraseOccurrences: 2,
		ParagraphDistance:    simhash.NearDuplicateDistance,
		MaxFinalPasses:       8,
	}
}

// Validate checks threshold ranges.
func (c Config) Validate() error {
	var problems []string
	if c.EchoMinWords < 1 || c.EchoMaxWords < c.EchoMinWords || c.EchoMinRepeats < 2 {
		problems = append(problems, "echo window must satisfy 1 <= min <= max and repeats >= 2")
	}
	if c.BlockMinWords < 1 || c.BlockMaxWords < c.BlockMinWords || c.BlockMinRepeats < 2 {
		problems = append(problems, "block window must satisfy 1 <= min <= max and repeats >= 2")
	}
	if c.NgramMin < 1 || c.NgramMax < c.NgramMin {
		problems = append(problems, "ngram range must satisfy 1 <= min <= max")
	}
	for name, v := range map[string]float64{
		"reject_coverage":      c.RejectCoverage,
		"final_coverage":       c.FinalCoverage,
		"near_duplicate_ratio": c.NearDuplicateRatio,
	} {
		if v <= 0 || v > 1 {
			problems = append(problems, name+" must be in (0,1]")
		}
	}
	if c.MaxPhraseOccurrences < 1 {
		problems = append(problems, "max_phrase_occurrences must be >= 1")
	}
	if c.MaxFinalPasses < 1 {
		problems = append(problems, "max_final_passes must be >= 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid dedup config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Engine applies a Config. It holds no per-job state and is safe to share.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates an Engine. A nil logger falls back to slog.Default().
func NewEngine(cfg Config, l *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, logger: logger.OrDefault(l).With("component", "merge")}, nil
}

// Config returns the thresholds in use.
func (e *Engine) Config() Config {
	return e.cfg
}

// MergeOutcome describes what MergeAndClean did with a chunk.
type MergeOutcome struct {
	// Text is the cleaned chunk text that was appended, empty when nothing was.
	Text     string  `json:"text"`
	Accepted bool    `json:"accepted"`
	Rejected bool    `json:"rejected"`
	Marker   bool    `json:"marker"`
	Coverage float64 `json:"coverage"`
}

// MergeAndClean cleans newText and appends it to acc as a new paragraph,
// unless more than RejectCoverage of its n-grams were already merged, in
// which case acc is left untouched and the outcome is Rejected. Failure
// markers are appended verbatim.
func (e *Engine) MergeAndClean(acc *Accumulator, newText string) MergeOutcome {
	if IsMarker(newText) {
		marker := strings.TrimSpace(newText)
		acc.append(marker)
		return MergeOutcome{Text: marker, Accepted: true, Marker: true}
	}

	cleaned := e.CleanChunk(newText)
	if cleaned == "" {
		return MergeOutcome{}
	}

	grams := ngramHashes(textnorm.Words(cleaned), e.cfg.NgramMin, e.cfg.NgramMax)
	cov := coverage(grams, acc.seen)
	if cov > e.cfg.RejectCoverage {
		e.logger.Info("chunk rejected as repeat", "coverage", cov, "threshold", e.cfg.RejectCoverage)
		return MergeOutcome{Rejected: true, Coverage: cov}
	}

	acc.append(cleaned)
	register(acc.seen, grams)
	return MergeOutcome{Text: cleaned, Accepted: true, Coverage: cov}
}

// CleanChunk applies the per-chunk cleaning steps: whitespace, echoes,
// blocks, exact and near-duplicate sentences. Paragraph breaks survive.
func (e *Engine) CleanChunk(text string) string {
	paras := textnorm.Paragraphs(text)
	for i, p := range paras {
		paras[i] = e.collapse(p)
	}
	return e.dedupSentences(paras)
}

func (e *Engine) collapse(p string) string {
	toks := textnorm.Tokenize(p)
	toks = collapseRepeats(toks, e.cfg.EchoMinWords, e.cfg.EchoMaxWords, e.cfg.EchoMinRepeats)
	toks = collapseRepeats(toks, e.cfg.BlockMinWords, e.cfg.BlockMaxWords, e.cfg.BlockMinRepeats)
	return joinTokens(toks)
}

// FinalizeCleaning runs the full-transcript pass until the text stops
// changing (bounded by MaxFinalPasses), so applying it twice gives the same
// result as applying it once.
func (e *Engine) FinalizeCleaning(fullText string) string {
	text := textnorm.Whitespace(fullText)
	for pass := 1; pass <= e.cfg.MaxFinalPasses; pass++ {
		next := e.finalPass(text)
		if next == text {
			return text
		}
		text = next
	}
	e.logger.Warn("final cleaning did not converge", "passes", e.cfg.MaxFinalPasses)
	return text
}

func (e *Engine) finalPass(text string) string {
	paras := textnorm.Paragraphs(text)
	for i, p := range paras {
		if !IsMarker(p) {
			paras[i] = e.collapse(p)
		}
	}
	paras = e.filterSentences(paras)
	paras = e.collapseParagraphs(paras)
	return strings.Join(paras, "\n\n")
}
