// Package textnorm folds transcript text into comparable word tokens.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics ("Reunião" -> "reuniao").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

// Word folds a single word and drops every rune that is not a letter or digit.
func Word(w string) string {
	f := Fold(w)
	var b strings.Builder
	b.Grow(len(f))
	for _, r := range f {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Token is a whitespace-separated word with its folded form.
type Token struct {
	Raw  string
	Norm string
}

// Tokenize splits s on whitespace. Tokens whose folded form is empty (pure
// punctuation) are kept with an empty Norm so raw text can be rebuilt.
func Tokenize(s string) []Token {
	fields := strings.Fields(s)
	out := make([]Token, len(fields))
	for i, f := range fields {
		out[i] = Token{Raw: f, Norm: Word(f)}
	}
	return out
}

// Words returns the non-empty folded words of s.
func Words(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if w := Word(f); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Key is the comparison form of a sentence: folded words joined by one space.
func Key(s string) string {
	return strings.Join(Words(s), " ")
}

// Whitespace collapses runs of spaces and tabs inside each line, trims
// lines, and keeps at most one blank line between paragraphs.
func Whitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	var b strings.Builder
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = b.Len() > 0
			continue
		}
		if b.Len() > 0 {
			if blank {
				b.WriteString("\n\n")
			} else {
				b.WriteByte(' ')
			}
		}
		blank = false
		b.WriteString(line)
	}
	return b.String()
}

// Paragraphs splits on blank lines and drops empty paragraphs.
func Paragraphs(s string) []string {
	parts := strings.Split(Whitespace(s), "\n\n")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Sentences splits a paragraph after '.', '!', '?' or '…' followed by a space.
// Terminal punctuation stays with its sentence.
func Sentences(p string) []string {
	var out []string
	start := 0
	rs := []rune(p)
	for i, r := range rs {
		if r != '.' && r != '!' && r != '?' && r != '…' {
			continue
		}
		if i+1 < len(rs) && !unicode.IsSpace(rs[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(rs[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(rs[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
