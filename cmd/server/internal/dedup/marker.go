package dedup

import (
	"fmt"
	"strings"
)

// FailureMarker is the inline text that replaces a chunk whose transcription
// failed for good. Brackets and line breaks are removed from reason so the
// marker stays a single bracketed token group.
func FailureMarker(chunkIndex int, reason string) string {
	reason = strings.NewReplacer("[", "(", "]", ")", "\n", " ", "\r", " ").Replace(reason)
	reason = strings.Join(strings.Fields(reason), " ")
	if reason == "" {
		reason = "unknown error"
	}
	return fmt.Sprintf("[segment %d failed: %s]", chunkIndex, reason)
}

// IsMarker reports whether s is a FailureMarker.
func IsMarker(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "[segment ") && strings.HasSuffix(s, "]") &&
		strings.Contains(s, " failed: ") && strings.Count(s, "]") == 1
}
