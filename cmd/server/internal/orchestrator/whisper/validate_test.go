package whisper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/orcherr"
	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
)

func chunkFixture() segmenter.AudioChunk {
	return segmenter.AudioChunk{
		Index:         3,
		StartTime:     100,
		EndTime:       130,
		SizeBytes:     960_044,
		Path:          "/work/chunk_0003.wav",
		MimeType:      "audio/wav",
		MeanAmplitude: 0.12,
	}
}

func TestValidateChunk(t *testing.T) {
	t.Run("valid chunk", func(t *testing.T) {
		res := ValidateChunk(chunkFixture(), DefaultLimits())
		assert.True(t, res.IsValid)
		assert.Empty(t, res.Errors)
		assert.Empty(t, res.Warnings)
		assert.NoError(t, res.Err())
	})

	t.Run("oversize is a hard error", func(t *testing.T) {
		c := chunkFixture()
		c.SizeBytes = ProviderMaxBytes + 1
		res := ValidateChunk(c, DefaultLimits())
		assert.False(t, res.IsValid)
		assert.Equal(t, orcherr.PAYLOAD_TOO_LARGE, orcherr.CodeOf(res.Err()))
		assert.False(t, orcherr.IsRetryable(res.Err()))
	})

	t.Run("silence is flagged, not an error", func(t *testing.T) {
		c := chunkFixture()
		c.MeanAmplitude = 0.0002
		res := ValidateChunk(c, DefaultLimits())
		assert.True(t, res.IsValid)
		assert.True(t, res.Silent)
		assert.Empty(t, res.Errors)
		assert.NoError(t, res.Err())
	})

	t.Run("empty file is a hard error", func(t *testing.T) {
		c := chunkFixture()
		c.SizeBytes = 0
		res := ValidateChunk(c, DefaultLimits())
		assert.False(t, res.IsValid)
		assert.Equal(t, orcherr.CHUNK_INVALID, orcherr.CodeOf(res.Err()))
	})

	t.Run("unknown amplitude skips the silence check", func(t *testing.T) {
		c := chunkFixture()
		c.MeanAmplitude = -1
		res := ValidateChunk(c, DefaultLimits())
		assert.True(t, res.IsValid)
		assert.False(t, res.Silent)
	})

	t.Run("short duration and odd type are warnings", func(t *testing.T) {
		c := chunkFixture()
		c.EndTime = c.StartTime + 0.2
		c.Path = "/work/chunk_0003.bin"
		c.MimeType = "application/octet-stream"
		res := ValidateChunk(c, DefaultLimits())
		assert.True(t, res.IsValid)
		assert.Len(t, res.Warnings, 3)
	})
}

func TestBuildPrompt(t *testing.T) {
	cfg := DefaultPromptConfig()

	assert.Equal(t, DefaultDomainPrompt, BuildPrompt(0, "", cfg))
	assert.Equal(t, DefaultDomainPrompt, BuildPrompt(0, "ignored previous text", cfg))
	assert.Equal(t, DefaultDomainPrompt, BuildPrompt(4, "   ", cfg))

	prev := strings.Repeat("alpha ", 30) + "the budget review ends here"
	p := BuildPrompt(1, prev, cfg)
	assert.Contains(t, p, "the budget review ends here")
	assert.NotEqual(t, DefaultDomainPrompt, p)

	custom := PromptConfig{DomainPrompt: "Sprint planning.", ContextWords: 2}
	assert.Equal(t, "Sprint planning.", BuildPrompt(0, "", custom))
	assert.Contains(t, BuildPrompt(2, "one two three four", custom), `"three four"`)
}

func TestTailWords(t *testing.T) {
	assert.Equal(t, "c d", TailWords("a b c d", 2))
	assert.Equal(t, "a b", TailWords("a b", 10))
	assert.Equal(t, "we agreed", TailWords("we agreed [segment 4 failed: timeout]", 5))
	assert.Equal(t, "before after", TailWords("before [x] after", 5))
	assert.Equal(t, "", TailWords("", 3))
}
