package dedup

import "strings"

// Accumulator is the per-job transcript under construction: accepted chunk
// texts as paragraphs plus the fingerprints of every n-gram merged so far.
// The fingerprint set only grows. Not safe for concurrent use; the
// orchestrator serializes merges.
type Accumulator struct {
	paragraphs []string
	seen       map[uint64]struct{}
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{seen: make(map[uint64]struct{})}
}

// Text returns the transcript so far, paragraphs separated by a blank line.
func (a *Accumulator) Text() string {
	return strings.Join(a.paragraphs, "\n\n")
}

// Paragraphs returns the number of merged paragraphs.
func (a *Accumulator) Paragraphs() int {
	return len(a.paragraphs)
}

// SeenNgrams returns the size of the fingerprint set.
func (a *Accumulator) SeenNgrams() int {
	return len(a.seen)
}

func (a *Accumulator) append(p string) {
	a.paragraphs = append(a.paragraphs, p)
}

// Tail returns the last n paragraphs joined like Text.
func (a *Accumulator) Tail(n int) string {
	if n <= 0 || len(a.paragraphs) == 0 {
		return ""
	}
	return strings.Join(a.paragraphs[max(0, len(a.paragraphs)-n):], "\n\n")
}
