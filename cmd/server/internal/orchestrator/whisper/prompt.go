package whisper

import (
	"fmt"
	"strings"
)

// DefaultDomainPrompt is sent with the first chunk of a recording.
const DefaultDomainPrompt = "Transcription of a business meeting. Use correct punctuation and keep names, numbers and technical terms as spoken."

// PromptConfig controls BuildPrompt.
type PromptConfig struct {
	DomainPrompt string `yaml:"domain_prompt" json:"domain_prompt"`
	ContextWords int    `yaml:"context_words" json:"context_words"`
}

// DefaultPromptConfig uses DefaultDomainPrompt and 15 context words.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{DomainPrompt: DefaultDomainPrompt, ContextWords: 15}
}

// BuildPrompt returns the provider prompt for a chunk. Chunk 0 (or any chunk
// without accumulated text) gets the domain prompt; later chunks get a
// continuity prompt quoting the last ContextWords words of previousText.
func BuildPrompt(chunkIndex int, previousText string, cfg PromptConfig) string {
	domain := cfg.DomainPrompt
	if domain == "" {
		domain = DefaultDomainPrompt
	}
	if chunkIndex == 0 {
		return domain
	}

	tail := TailWords(previousText, cfg.ContextWords)
	if tail == "" {
		return domain
	}
	return fmt.Sprintf("Continuation of the same meeting. The previous part ended with: \"%s\". Continue from there without repeating it.", tail)
}

// TailWords returns the last n whitespace-separated words of text, skipping
// bracketed failure markers.
func TailWords(text string, n int) string {
	if n <= 0 {
		n = 15
	}
	words := strings.Fields(text)
	out := make([]string, 0, n)
	inMarker := false
	for i := len(words) - 1; i >= 0 && len(out) < n; i-- {
		w := words[i]
		if strings.HasSuffix(w, "]") && !inMarker {
			inMarker = !strings.HasPrefix(w, "[")
			continue
		}
		if inMarker {
			if strings.HasPrefix(w, "[") {
				inMarker = false
			}
			continue
		}
		out = append(out, w)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return strings.Join(out, " ")
}
