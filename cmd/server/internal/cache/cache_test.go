package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
)

func writeChunk(t *testing.T, dir string, index int, data string) segmenter.AudioChunk {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("chunk_%04d.wav", index))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return segmenter.AudioChunk{
		Index:     index,
		StartTime: float64(index) * 25,
		EndTime:   float64(index)*25 + 30,
		SizeBytes: int64(len(data)),
		Path:      path,
	}
}

func TestKeyFor(t *testing.T) {
	dir := t.TempDir()
	a := writeChunk(t, dir, 0, "RIFF....audio-bytes")

	k1, err := KeyFor(a, "whisper-1", "en")
	require.NoError(t, err)
	assert.Len(t, k1, 64)

	k2, err := KeyFor(a, "whisper-1", "en")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := KeyFor(a, "whisper-1", "de")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	shifted := a
	shifted.StartTime += 1
	k4, err := KeyFor(shifted, "whisper-1", "en")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)

	_, err = KeyFor(segmenter.AudioChunk{Path: filepath.Join(dir, "missing.wav")}, "", "")
	assert.Error(t, err)
}

func TestKeyForSharedPrefix(t *testing.T) {
	// two recordings that open with the same stretch of digital silence
	lead := strings.Repeat("\x00", 100<<10)
	a := writeChunk(t, t.TempDir(), 3, lead+strings.Repeat("a", 100<<10))
	b := writeChunk(t, t.TempDir(), 3, lead+strings.Repeat("b", 100<<10))
	require.Equal(t, a.SizeBytes, b.SizeBytes)

	ka, err := KeyFor(a, "whisper-1", "en")
	require.NoError(t, err)
	kb, err := KeyFor(b, "whisper-1", "en")
	require.NoError(t, err)
	assert.NotEqual(t, ka, kb)
}

func TestPutGet(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, time.Hour, 10)
	require.NoError(t, err)

	_, ok := c.Get("absent")
	assert.False(t, ok)

	require.NoError(t, c.Put("k1", Entry{
		Text:        "hello there",
		Segments:    []whisper.TranscriptionSegment{{ID: 0, Start: 0, End: 1.5, Text: "hello there"}},
		Transcriber: "openai-http",
	}))
	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "hello there", got.Text)
	assert.Len(t, got.Segments, 1)
	assert.Equal(t, "k1", got.Key)
	assert.FileExists(t, filepath.Join(dir, "k1.json"))

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, 1, s.Entries)
	assert.InDelta(t, 0.5, s.HitRate(), 1e-9)
}

func TestReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	c1, err := New(dir, time.Hour, 10)
	require.NoError(t, err)
	require.NoError(t, c1.Put("persisted", Entry{Text: "from a previous run"}))

	c2, err := New(dir, time.Hour, 10)
	require.NoError(t, err)
	got, ok := c2.Get("persisted")
	require.True(t, ok)
	assert.Equal(t, "from a previous run", got.Text)
}

func TestExpiry(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, time.Minute, 10)
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	require.NoError(t, c.Put("old", Entry{Text: "stale"}))
	require.NoError(t, c.Put("other", Entry{Text: "also stale"}))

	now = now.Add(2 * time.Minute)
	_, ok := c.Get("old")
	assert.False(t, ok)
	assert.NoFileExists(t, filepath.Join(dir, "old.json"))
	assert.Equal(t, int64(1), c.Stats().Expired)

	require.NoError(t, c.Put("fresh", Entry{Text: "new"}))
	removed, err := c.CleanExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, filepath.Join(dir, "other.json"))
	assert.FileExists(t, filepath.Join(dir, "fresh.json"))
}

func TestLRUEviction(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, time.Hour, 2)
	require.NoError(t, err)

	require.NoError(t, c.Put("a", Entry{Text: "a"}))
	require.NoError(t, c.Put("b", Entry{Text: "b"}))
	_, _ = c.Get("a")
	require.NoError(t, c.Put("c", Entry{Text: "c"}))

	assert.Equal(t, 2, c.Stats().Entries)
	c.mu.Lock()
	_, hasB := c.index["b"]
	_, hasA := c.index["a"]
	c.mu.Unlock()
	assert.False(t, hasB, "least recently used entry leaves the index")
	assert.True(t, hasA)

	// evicted entries are still served from disk
	got, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, "b", got.Text)
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New("", 0, 0)
	assert.Error(t, err)
}
