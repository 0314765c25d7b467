package dedup

import (
	"strings"
	"unicode/utf8"

	"github.com/houzhh15/meetscribe/cmd/server/internal/simhash"
	"github.com/houzhh15/meetscribe/cmd/server/internal/textnorm"
)

type sentence struct {
	para    int
	text    string
	key     string
	dropped bool
}

// dedupSentences drops exact and near-duplicate sentences inside one chunk
// and rejoins the surviving sentences paragraph by paragraph. When a near
// duplicate is longer than the sentence it repeats, it takes that
// sentence's place.
func (e *Engine) dedupSentences(paras []string) string {
	var all []*sentence
	for pi, p := range paras {
		for _, s := range textnorm.Sentences(p) {
			all = append(all, &sentence{para: pi, text: s, key: textnorm.Key(s)})
		}
	}

	var kept []*sentence
	exact := make(map[string]bool)
	for _, s := range all {
		if s.key == "" {
			continue
		}
		if exact[s.key] {
			s.dropped = true
			continue
		}
		exact[s.key] = true
		if k := e.nearDuplicateOf(kept, s.key); k != nil {
			if len(s.key) > len(k.key) {
				k.text, k.key = s.text, s.key
			}
			s.dropped = true
			continue
		}
		kept = append(kept, s)
	}

	out := make([][]string, len(paras))
	for _, s := range all {
		if !s.dropped {
			out[s.para] = append(out[s.para], s.text)
		}
	}
	joined := make([]string, 0, len(out))
	for _, ss := range out {
		if len(ss) > 0 {
			joined = append(joined, strings.Join(ss, " "))
		}
	}
	return strings.Join(joined, "\n\n")
}

func (e *Engine) nearDuplicateOf(kept []*sentence, key string) *sentence {
	for _, k := range kept {
		if nearDuplicate(k.key, key, e.cfg.NearDuplicateRatio) {
			return k
		}
	}
	return nil
}

// nearDuplicate reports whether one key is a word-aligned prefix or suffix
// of the other and covers more than ratio of the longer one.
func nearDuplicate(a, b string, ratio float64) bool {
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if short == "" || float64(utf8.RuneCountInString(short))/float64(utf8.RuneCountInString(long)) <= ratio {
		return false
	}
	if short == long {
		return true
	}
	if strings.HasPrefix(long, short) && long[len(short)] == ' ' {
		return true
	}
	return strings.HasSuffix(long, short) && long[len(long)-len(short)-1] == ' '
}

// filterSentences walks the transcript in order and drops any sentence that
// repeats the previous kept one, also across paragraph boundaries. Sentences
// of at least MinPhraseLength characters are also dropped when they already
// occurred MaxPhraseOccurrences times, or when on their first occurrence more
// than FinalCoverage of their n-grams are inside the sentences kept before them.
func (e *Engine) filterSentences(paras []string) []string {
	seen := make(map[uint64]struct{})
	counts := make(map[string]int)
	prevKey := ""

	out := make([]string, 0, len(paras))
	for _, p := range paras {
		if IsMarker(p) {
			out = append(out, p)
			prevKey = ""
			continue
		}
		var kept []string
		for _, s := range textnorm.Sentences(p) {
			key := textnorm.Key(s)
			if key == "" {
				kept = append(kept, s)
				continue
			}
			if key == prevKey {
				continue
			}
			grams := ngramHashes(strings.Fields(key), e.cfg.NgramMin, e.cfg.NgramMax)
			if utf8.RuneCountInString(s) >= e.cfg.MinPhraseLength {
				if counts[key] >= e.cfg.MaxPhraseOccurrences {
					continue
				}
				if counts[key] == 0 && coverage(grams, seen) > e.cfg.FinalCoverage {
					continue
				}
			}
			counts[key]++
			prevKey = key
			register(seen, grams)
			kept = append(kept, s)
		}
		if len(kept) > 0 {
			out = append(out, strings.Join(kept, " "))
		}
	}
	return out
}

// collapseParagraphs merges consecutive paragraphs with identical folded
// text or near-identical simhash fingerprints, keeping the longer one.
func (e *Engine) collapseParagraphs(paras []string) []string {
	out := make([]string, 0, len(paras))
	for _, p := range paras {
		n := len(out)
		if n > 0 && !IsMarker(p) && !IsMarker(out[n-1]) && e.sameParagraph(out[n-1], p) {
			if utf8.RuneCountInString(p) > utf8.RuneCountInString(out[n-1]) {
				out[n-1] = p
			}
			continue
		}
		out = append(out, p)
	}
	return out
}

func (e *Engine) sameParagraph(a, b string) bool {
	if textnorm.Key(a) == textnorm.Key(b) {
		return true
	}
	return simhash.IsNearDuplicate(a, b, e.cfg.ParagraphDistance, e.cfg.NearDuplicateRatio)
}
